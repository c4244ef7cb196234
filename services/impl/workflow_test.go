package impl

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/beacon-core/models"
)

func workflowDoc(institutionID, uploaderID uuid.UUID, status models.ApprovalStatus) *models.Document {
	return &models.Document{
		ID:             uuid.New(),
		UploaderID:     uploaderID,
		InstitutionID:  institutionID,
		Visibility:     models.VisibilityInstitutionOnly,
		ApprovalStatus: status,
	}
}

func TestUploaderCanSubmitDraft(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	uploaderID := uuid.New()
	doc := workflowDoc(instID, uploaderID, models.StatusDraft)
	uploader := models.Viewer{UserID: uploaderID, Role: models.RoleDocumentOfficer, InstitutionID: &instID}

	assert.NoError(t, checkTransition(uploader, doc, &parent, models.StatusPending))
}

func TestInstitutionAdminCanSubmitDraft(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	doc := workflowDoc(instID, uuid.New(), models.StatusDraft)
	admin := models.Viewer{UserID: uuid.New(), Role: models.RoleInstitutionAdmin, InstitutionID: &instID}

	assert.NoError(t, checkTransition(admin, doc, &parent, models.StatusPending))
}

func TestUploaderCannotApproveOwnDocument(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	uploaderID := uuid.New()
	doc := workflowDoc(instID, uploaderID, models.StatusUnderReview)
	uploader := models.Viewer{UserID: uploaderID, Role: models.RoleDocumentOfficer, InstitutionID: &instID}

	err := checkTransition(uploader, doc, &parent, models.StatusApproved)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestInstitutionAdminCannotApprove(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	admin := models.Viewer{UserID: uuid.New(), Role: models.RoleInstitutionAdmin, InstitutionID: &instID}

	for _, from := range []models.ApprovalStatus{models.StatusPending, models.StatusUnderReview} {
		doc := workflowDoc(instID, uuid.New(), from)
		err := checkTransition(admin, doc, &parent, models.StatusApproved)
		assert.True(t, errors.Is(err, models.ErrUnauthorized), "institution_admin approving from %s", from)
	}
}

func TestParentMinistryAdminIsUpperAuthority(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	other := uuid.New()
	parentAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &parent}
	otherAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &other}

	for _, to := range []models.ApprovalStatus{
		models.StatusUnderReview, models.StatusApproved, models.StatusRejected, models.StatusChangesRequested,
	} {
		doc := workflowDoc(instID, uuid.New(), models.StatusPending)
		assert.NoError(t, checkTransition(parentAdmin, doc, &parent, to), "pending -> %s", to)
		assert.True(t, errors.Is(checkTransition(otherAdmin, doc, &parent, to), models.ErrUnauthorized),
			"foreign ministry_admin pending -> %s", to)
	}
}

func TestPendingCanBeApprovedDirectly(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	doc := workflowDoc(instID, uuid.New(), models.StatusPending)
	parentAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &parent}

	assert.NoError(t, checkTransition(parentAdmin, doc, &parent, models.StatusApproved))
}

func TestMinistryOwnedDocumentNeedsDeveloper(t *testing.T) {
	// A document owned by a ministry itself has no parent ministry, so no
	// ministry_admin can review it.
	ministryID := uuid.New()
	doc := workflowDoc(ministryID, uuid.New(), models.StatusPending)
	ownAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &ministryID}
	dev := models.Viewer{UserID: uuid.New(), Role: models.RoleDeveloper}

	assert.True(t, errors.Is(checkTransition(ownAdmin, doc, nil, models.StatusApproved), models.ErrUnauthorized))
	assert.NoError(t, checkTransition(dev, doc, nil, models.StatusApproved))
}

func TestUpperReviewFlagDoesNotGateActors(t *testing.T) {
	// requires_upper_review widens visibility, not who may review; the
	// reviewing authority is the parent ministry either way.
	instID := uuid.New()
	parent := uuid.New()
	parentAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &parent}
	instAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleInstitutionAdmin, InstitutionID: &instID}

	escalated := workflowDoc(instID, uuid.New(), models.StatusUnderReview)
	escalated.RequiresUpperReview = true

	assert.NoError(t, checkTransition(parentAdmin, escalated, &parent, models.StatusApproved))
	assert.True(t, errors.Is(checkTransition(instAdmin, escalated, &parent, models.StatusApproved), models.ErrUnauthorized))
}

func TestResubmitAfterReviewFeedback(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	uploaderID := uuid.New()
	uploader := models.Viewer{UserID: uploaderID, Role: models.RoleDocumentOfficer, InstitutionID: &instID}
	instAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleInstitutionAdmin, InstitutionID: &instID}
	stranger := models.Viewer{UserID: uuid.New(), Role: models.RoleStudent, InstitutionID: &instID}

	for _, from := range []models.ApprovalStatus{models.StatusRejected, models.StatusChangesRequested} {
		doc := workflowDoc(instID, uploaderID, from)
		assert.NoError(t, checkTransition(uploader, doc, &parent, models.StatusPending), "%s -> pending as uploader", from)
		assert.NoError(t, checkTransition(instAdmin, doc, &parent, models.StatusPending), "%s -> pending as institution_admin", from)
		assert.True(t, errors.Is(checkTransition(stranger, doc, &parent, models.StatusPending), models.ErrUnauthorized))
	}
}

func TestUnknownEdgeIsInvalidTransition(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	doc := workflowDoc(instID, uuid.New(), models.StatusDraft)
	dev := models.Viewer{UserID: uuid.New(), Role: models.RoleDeveloper}

	for _, to := range []models.ApprovalStatus{
		models.StatusApproved, // drafts cannot be approved directly
		models.StatusArchived,
		models.StatusUnderReview,
	} {
		err := checkTransition(dev, doc, &parent, to)
		assert.True(t, errors.Is(err, models.ErrInvalidTransition), "draft -> %s", to)
	}

	err := checkTransition(dev, doc, &parent, models.ApprovalStatus("nonsense"))
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestWithdrawAndReviseAreUploaderEdges(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	uploaderID := uuid.New()
	uploader := models.Viewer{UserID: uploaderID, Role: models.RoleStudent, InstitutionID: &instID}
	stranger := models.Viewer{UserID: uuid.New(), Role: models.RoleStudent, InstitutionID: &instID}

	pending := workflowDoc(instID, uploaderID, models.StatusPending)
	assert.NoError(t, checkTransition(uploader, pending, &parent, models.StatusDraft))
	assert.True(t, errors.Is(checkTransition(stranger, pending, &parent, models.StatusDraft), models.ErrUnauthorized))

	rejected := workflowDoc(instID, uploaderID, models.StatusRejected)
	assert.NoError(t, checkTransition(uploader, rejected, &parent, models.StatusDraft))
}

func TestApprovedLifecycleEdges(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	instAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleInstitutionAdmin, InstitutionID: &instID}
	parentAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &parent}

	cases := []struct {
		from, to models.ApprovalStatus
		ok       bool
	}{
		{models.StatusApproved, models.StatusArchived, true},
		{models.StatusApproved, models.StatusExpired, true},
		{models.StatusFlagged, models.StatusApproved, true},
		{models.StatusFlagged, models.StatusArchived, true},
		{models.StatusArchived, models.StatusApproved, true},
		{models.StatusExpired, models.StatusArchived, true},
		{models.StatusExpired, models.StatusApproved, false},
		{models.StatusArchived, models.StatusDraft, false},
	}
	for _, tc := range cases {
		doc := workflowDoc(instID, uuid.New(), tc.from)
		for _, viewer := range []models.Viewer{instAdmin, parentAdmin} {
			err := checkTransition(viewer, doc, &parent, tc.to)
			if tc.ok {
				assert.NoError(t, err, "%s -> %s as %s", tc.from, tc.to, viewer.Role)
			} else {
				assert.Error(t, err, "%s -> %s as %s", tc.from, tc.to, viewer.Role)
			}
		}
	}
}

func TestFlaggingReachableFromAnyState(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	instAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleInstitutionAdmin, InstitutionID: &instID}
	parentAdmin := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin, InstitutionID: &parent}
	officer := models.Viewer{UserID: uuid.New(), Role: models.RoleDocumentOfficer, InstitutionID: &instID}

	for _, from := range []models.ApprovalStatus{
		models.StatusDraft, models.StatusPending, models.StatusUnderReview,
		models.StatusApproved, models.StatusRejected, models.StatusChangesRequested,
		models.StatusArchived, models.StatusExpired,
	} {
		doc := workflowDoc(instID, uuid.New(), from)
		assert.NoError(t, checkTransition(instAdmin, doc, &parent, models.StatusFlagged), "%s -> flagged as institution_admin", from)
		assert.NoError(t, checkTransition(parentAdmin, doc, &parent, models.StatusFlagged), "%s -> flagged as parent ministry_admin", from)
		assert.True(t, errors.Is(checkTransition(officer, doc, &parent, models.StatusFlagged), models.ErrUnauthorized))
	}

	flagged := workflowDoc(instID, uuid.New(), models.StatusFlagged)
	assert.True(t, errors.Is(checkTransition(instAdmin, flagged, &parent, models.StatusFlagged), models.ErrInvalidTransition))
}

func TestAutoApprovalRoles(t *testing.T) {
	assert.True(t, autoApproves(models.RoleDeveloper))
	assert.True(t, autoApproves(models.RoleMinistryAdmin))
	assert.False(t, autoApproves(models.RoleInstitutionAdmin))
	assert.False(t, autoApproves(models.RoleDocumentOfficer))
	assert.False(t, autoApproves(models.RoleStudent))
	assert.False(t, autoApproves(models.RolePublicViewer))
}

func TestReviewFeedbackEdgesRequireReason(t *testing.T) {
	reviewer := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin}
	now := time.Now()
	empty := ""
	reason := "sources are missing"

	for _, to := range []models.ApprovalStatus{models.StatusRejected, models.StatusChangesRequested} {
		_, err := transitionUpdates(reviewer, to, nil, now)
		assert.Error(t, err, "-> %s without a reason", to)
		_, err = transitionUpdates(reviewer, to, &empty, now)
		assert.Error(t, err, "-> %s with an empty reason", to)

		updates, err := transitionUpdates(reviewer, to, &reason, now)
		assert.NoError(t, err)
		assert.Equal(t, reason, updates["rejection_reason"])
	}
}

func TestApprovalUpdatesRecordApprover(t *testing.T) {
	reviewer := models.Viewer{UserID: uuid.New(), Role: models.RoleMinistryAdmin}
	now := time.Now()

	updates, err := transitionUpdates(reviewer, models.StatusApproved, nil, now)
	assert.NoError(t, err)
	assert.Equal(t, reviewer.UserID, updates["approver_id"])
	assert.Equal(t, now, updates["approved_at"])
	assert.Nil(t, updates["rejection_reason"])

	// Returning to draft clears stale feedback.
	updates, err = transitionUpdates(reviewer, models.StatusDraft, nil, now)
	assert.NoError(t, err)
	assert.Nil(t, updates["rejection_reason"])
}

func TestDeveloperMayTakeAnyDefinedEdge(t *testing.T) {
	instID := uuid.New()
	parent := uuid.New()
	dev := models.Viewer{UserID: uuid.New(), Role: models.RoleDeveloper}

	for edge := range workflowEdges {
		doc := workflowDoc(instID, uuid.New(), edge.From)
		assert.NoError(t, checkTransition(dev, doc, &parent, edge.To), "%s -> %s", edge.From, edge.To)
	}
}
