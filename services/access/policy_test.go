package access

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-core/models"
)

var (
	instA = uuid.New()
	instB = uuid.New()

	ownerID    = uuid.New()
	strangerID = uuid.New()
)

func viewer(role models.Role, inst *uuid.UUID) models.Viewer {
	return models.Viewer{UserID: strangerID, Role: role, InstitutionID: inst}
}

// allViewers enumerates every role against both institutions plus the
// no-institution case, and an uploader-owned variant of each.
func allViewers() []models.Viewer {
	roles := []models.Role{
		models.RoleDeveloper,
		models.RoleMinistryAdmin,
		models.RoleInstitutionAdmin,
		models.RoleDocumentOfficer,
		models.RoleStudent,
		models.RolePublicViewer,
	}
	var out []models.Viewer
	for _, role := range roles {
		for _, inst := range []*uuid.UUID{&instA, &instB, nil} {
			out = append(out, viewer(role, inst))
			owned := viewer(role, inst)
			owned.UserID = ownerID
			out = append(out, owned)
		}
	}
	return out
}

func allRows() []Row {
	visibilities := []models.Visibility{
		models.VisibilityPublic,
		models.VisibilityInstitutionOnly,
		models.VisibilityRestricted,
		models.VisibilityConfidential,
	}
	statuses := []models.ApprovalStatus{
		models.StatusDraft,
		models.StatusPending,
		models.StatusUnderReview,
		models.StatusChangesRequested,
		models.StatusRejected,
		models.StatusApproved,
		models.StatusArchived,
		models.StatusFlagged,
		models.StatusExpired,
	}
	var out []Row
	for _, vis := range visibilities {
		for _, status := range statuses {
			for _, inst := range []uuid.UUID{instA, instB} {
				for _, escalated := range []bool{false, true} {
					out = append(out, Row{
						Visibility:          vis,
						InstitutionID:       inst,
						ApprovalStatus:      status,
						UploaderID:          ownerID,
						RequiresUpperReview: escalated,
					})
				}
			}
		}
	}
	return out
}

// TestPredicateMatchesCanView checks, over the full cross product of viewers
// and rows, that the bulk predicate admits exactly the rows CanView allows.
func TestPredicateMatchesCanView(t *testing.T) {
	rows := allRows()
	for _, v := range allViewers() {
		pred := Predicate(v)
		name := fmt.Sprintf("%s/inst=%v/owner=%v", v.Role, v.InstitutionID != nil, v.UserID == ownerID)
		t.Run(name, func(t *testing.T) {
			for _, row := range rows {
				want := CanView(v, row)
				got := pred.Eval(row)
				assert.Equal(t, want, got,
					"viewer=%+v row={vis=%s inst=%s status=%s escalated=%v}",
					v, row.Visibility, row.InstitutionID, row.ApprovalStatus, row.RequiresUpperReview)
			}
		})
	}
}

func TestDeveloperSeesEverything(t *testing.T) {
	dev := viewer(models.RoleDeveloper, nil)
	for _, row := range allRows() {
		require.True(t, CanView(dev, row))
	}
	clause, args := SQL(dev)
	assert.Equal(t, "TRUE", clause)
	assert.Empty(t, args)
}

func TestUploaderAlwaysSeesOwnDocument(t *testing.T) {
	row := Row{
		Visibility:     models.VisibilityConfidential,
		InstitutionID:  instA,
		ApprovalStatus: models.StatusRejected,
		UploaderID:     ownerID,
	}
	for _, role := range []models.Role{models.RoleStudent, models.RolePublicViewer, models.RoleDocumentOfficer} {
		v := viewer(role, &instB)
		v.UserID = ownerID
		assert.True(t, CanView(v, row), "role %s", role)
	}
}

func TestDraftInvisibleOutsideOwnerAndInstitutionAdmin(t *testing.T) {
	draft := Row{
		Visibility:     models.VisibilityPublic,
		InstitutionID:  instA,
		ApprovalStatus: models.StatusDraft,
		UploaderID:     ownerID,
	}

	assert.True(t, CanView(viewer(models.RoleInstitutionAdmin, &instA), draft),
		"institution_admin of the owning institution sees drafts")

	for _, v := range []models.Viewer{
		viewer(models.RoleInstitutionAdmin, &instB),
		viewer(models.RoleMinistryAdmin, &instA),
		viewer(models.RoleDocumentOfficer, &instA),
		viewer(models.RoleStudent, &instA),
		viewer(models.RolePublicViewer, nil),
	} {
		assert.False(t, CanView(v, draft), "role %s must not see foreign drafts", v.Role)
	}
}

func TestMinistryAdminSeesEscalations(t *testing.T) {
	escalated := Row{
		Visibility:          models.VisibilityRestricted,
		InstitutionID:       instB,
		ApprovalStatus:      models.StatusPending,
		UploaderID:          ownerID,
		RequiresUpperReview: true,
	}
	notEscalated := escalated
	notEscalated.RequiresUpperReview = false

	ma := viewer(models.RoleMinistryAdmin, &instA)
	assert.True(t, CanView(ma, escalated))
	assert.False(t, CanView(ma, notEscalated),
		"restricted pending document of a foreign institution stays hidden without escalation")
}

func TestPublicViewerOnlyPublicApproved(t *testing.T) {
	pv := viewer(models.RolePublicViewer, nil)
	for _, row := range allRows() {
		want := row.Visibility == models.VisibilityPublic && row.ApprovalStatus == models.StatusApproved
		assert.Equal(t, want, CanView(pv, row),
			"vis=%s status=%s", row.Visibility, row.ApprovalStatus)
	}
}

func TestStudentRestrictedDenied(t *testing.T) {
	restricted := Row{
		Visibility:     models.VisibilityRestricted,
		InstitutionID:  instA,
		ApprovalStatus: models.StatusApproved,
		UploaderID:     ownerID,
	}
	assert.False(t, CanView(viewer(models.RoleStudent, &instA), restricted),
		"restricted excludes students even within the institution")
	assert.True(t, CanView(viewer(models.RoleDocumentOfficer, &instA), restricted))
	assert.False(t, CanView(viewer(models.RoleDocumentOfficer, &instB), restricted))
}

func TestSQLRendersParameterized(t *testing.T) {
	v := viewer(models.RoleStudent, &instA)
	clause, args := SQL(v)

	assert.NotContains(t, clause, instA.String(), "values must be bound, not inlined")
	assert.Equal(t, strings.Count(clause, "?"), len(args))
	assert.Contains(t, clause, "uploader_id = ?")
	assert.Contains(t, clause, "approval_status = ?")
}

func TestSQLQualifiedPrefixesColumns(t *testing.T) {
	v := viewer(models.RoleDocumentOfficer, &instA)
	clause, _ := SQLQualified(v, func(col string) string {
		switch col {
		case "uploader_id", "requires_upper_review":
			return "d." + col
		default:
			return "c." + col
		}
	})
	assert.Contains(t, clause, "d.uploader_id = ?")
	assert.Contains(t, clause, "c.approval_status = ?")
	assert.NotContains(t, clause, " visibility")
}

func TestViewerWithoutInstitutionNeverMatchesInstitutionRules(t *testing.T) {
	row := Row{
		Visibility:     models.VisibilityInstitutionOnly,
		InstitutionID:  instA,
		ApprovalStatus: models.StatusApproved,
		UploaderID:     ownerID,
	}
	assert.False(t, CanView(viewer(models.RoleStudent, nil), row))
	assert.False(t, Predicate(viewer(models.RoleStudent, nil)).Eval(row))
}
