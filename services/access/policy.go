// Package access implements the pure access-policy evaluator. It is
// deterministic, does no I/O, and cannot fail.
//
// The policy exists in two forms that must always agree: a row-level
// CanView(viewer, row) verdict, and a SQL predicate pushed into bulk queries
// (document listing and vector search). Both are derived from the same rule
// table; CanView is additionally implemented imperatively so tests can check
// the two forms against each other.
package access

import (
	"strings"

	"github.com/google/uuid"

	"github.com/beacon-core/models"
)

// Row carries the five columns the policy is defined over. It can be built
// from a document row or from an embedding chunk row joined with its
// document.
type Row struct {
	Visibility          models.Visibility
	InstitutionID       uuid.UUID
	ApprovalStatus      models.ApprovalStatus
	UploaderID          uuid.UUID
	RequiresUpperReview bool
}

func RowFromDocument(d *models.Document) Row {
	return Row{
		Visibility:          d.Visibility,
		InstitutionID:       d.InstitutionID,
		ApprovalStatus:      d.ApprovalStatus,
		UploaderID:          d.UploaderID,
		RequiresUpperReview: d.RequiresUpperReview,
	}
}

// reviewableStatuses are the states a non-admin outsider may ever see.
var reviewableStatuses = []models.ApprovalStatus{
	models.StatusApproved,
	models.StatusPending,
	models.StatusUnderReview,
}

func statusReviewable(s models.ApprovalStatus) bool {
	for _, r := range reviewableStatuses {
		if s == r {
			return true
		}
	}
	return false
}

// CanView evaluates the access rules in order; the first matching rule wins
// and the fallthrough denies.
func CanView(v models.Viewer, r Row) bool {
	// Rule 1: developer sees everything.
	if v.Role == models.RoleDeveloper {
		return true
	}

	// Rule 2: uploader ownership is stable across role changes.
	if v.UserID == r.UploaderID {
		return true
	}

	// Rule 3: outside the reviewable states, only the institution_admin of
	// the owning institution may look (their own drafts and rejections).
	if !statusReviewable(r.ApprovalStatus) {
		if v.Role == models.RoleInstitutionAdmin && v.SameInstitution(r.InstitutionID) {
			return true
		}
		return false
	}

	switch v.Role {
	case models.RoleMinistryAdmin:
		// Rule 4: public approved corpus, explicit escalations, and
		// documents filed directly under the ministry.
		if r.Visibility == models.VisibilityPublic && r.ApprovalStatus == models.StatusApproved {
			return true
		}
		if r.RequiresUpperReview {
			return true
		}
		return v.SameInstitution(r.InstitutionID)

	case models.RoleInstitutionAdmin:
		// Rule 5.
		return v.SameInstitution(r.InstitutionID) ||
			(r.Visibility == models.VisibilityPublic && r.ApprovalStatus == models.StatusApproved)

	case models.RoleDocumentOfficer:
		// Rule 6.
		if r.ApprovalStatus != models.StatusApproved {
			return false
		}
		if r.Visibility == models.VisibilityPublic {
			return true
		}
		return (r.Visibility == models.VisibilityInstitutionOnly || r.Visibility == models.VisibilityRestricted) &&
			v.SameInstitution(r.InstitutionID)

	case models.RoleStudent:
		// Rule 7.
		if r.ApprovalStatus != models.StatusApproved {
			return false
		}
		if r.Visibility == models.VisibilityPublic {
			return true
		}
		return r.Visibility == models.VisibilityInstitutionOnly && v.SameInstitution(r.InstitutionID)

	case models.RolePublicViewer:
		// Rule 8.
		return r.Visibility == models.VisibilityPublic && r.ApprovalStatus == models.StatusApproved
	}

	return false
}

// ─── Predicate expression tree ──────────────────────────────────

// Cond is a boolean expression over the policy columns. It renders to a
// parameterized SQL fragment and evaluates in memory against a Row, so the
// two forms cannot drift apart.
type Cond interface {
	sql(qualify func(string) string, args *[]interface{}) string
	Eval(r Row) bool
}

type condTrue struct{}

func (condTrue) sql(func(string) string, *[]interface{}) string { return "TRUE" }
func (condTrue) Eval(Row) bool                                  { return true }

type condFalse struct{}

func (condFalse) sql(func(string) string, *[]interface{}) string { return "FALSE" }
func (condFalse) Eval(Row) bool                                  { return false }

type condEq struct {
	col string
	val interface{}
}

func (c condEq) sql(qualify func(string) string, args *[]interface{}) string {
	*args = append(*args, c.val)
	return qualify(c.col) + " = ?"
}

func (c condEq) Eval(r Row) bool {
	return columnValue(r, c.col) == c.val
}

type condIn struct {
	col  string
	vals []interface{}
}

func (c condIn) sql(qualify func(string) string, args *[]interface{}) string {
	placeholders := make([]string, len(c.vals))
	for i, v := range c.vals {
		*args = append(*args, v)
		placeholders[i] = "?"
	}
	return qualify(c.col) + " IN (" + strings.Join(placeholders, ", ") + ")"
}

func (c condIn) Eval(r Row) bool {
	got := columnValue(r, c.col)
	for _, v := range c.vals {
		if got == v {
			return true
		}
	}
	return false
}

type condAnd []Cond

func (c condAnd) sql(qualify func(string) string, args *[]interface{}) string {
	parts := make([]string, len(c))
	for i, sub := range c {
		parts[i] = sub.sql(qualify, args)
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (c condAnd) Eval(r Row) bool {
	for _, sub := range c {
		if !sub.Eval(r) {
			return false
		}
	}
	return true
}

type condOr []Cond

func (c condOr) sql(qualify func(string) string, args *[]interface{}) string {
	parts := make([]string, len(c))
	for i, sub := range c {
		parts[i] = sub.sql(qualify, args)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (c condOr) Eval(r Row) bool {
	for _, sub := range c {
		if sub.Eval(r) {
			return true
		}
	}
	return false
}

func columnValue(r Row, col string) interface{} {
	switch col {
	case "visibility":
		return string(r.Visibility)
	case "institution_id":
		return r.InstitutionID.String()
	case "approval_status":
		return string(r.ApprovalStatus)
	case "uploader_id":
		return r.UploaderID.String()
	case "requires_upper_review":
		return r.RequiresUpperReview
	}
	return nil
}

func eq(col string, val interface{}) Cond { return condEq{col: col, val: val} }

func in(col string, vals ...interface{}) Cond {
	return condIn{col: col, vals: vals}
}

func publicApproved() Cond {
	return condAnd{
		eq("visibility", string(models.VisibilityPublic)),
		eq("approval_status", string(models.StatusApproved)),
	}
}

func reviewable() Cond {
	vals := make([]interface{}, len(reviewableStatuses))
	for i, s := range reviewableStatuses {
		vals[i] = string(s)
	}
	return in("approval_status", vals...)
}

// Predicate builds the bulk-filter expression for a viewer. Evaluating the
// returned Cond against any row yields the same verdict as CanView.
func Predicate(v models.Viewer) Cond {
	if v.Role == models.RoleDeveloper {
		return condTrue{}
	}

	owner := eq("uploader_id", v.UserID.String())

	var instID string
	if v.InstitutionID != nil {
		instID = v.InstitutionID.String()
	}
	sameInst := Cond(condFalse{})
	if instID != "" {
		sameInst = eq("institution_id", instID)
	}

	switch v.Role {
	case models.RoleMinistryAdmin:
		return condOr{
			owner,
			condAnd{reviewable(), condOr{
				publicApproved(),
				eq("requires_upper_review", true),
				sameInst,
			}},
		}

	case models.RoleInstitutionAdmin:
		// Own-institution rows are visible in every state (rule 3 exception
		// plus rule 5); foreign rows only when public and approved.
		return condOr{owner, sameInst, publicApproved()}

	case models.RoleDocumentOfficer:
		return condOr{
			owner,
			condAnd{
				eq("approval_status", string(models.StatusApproved)),
				condOr{
					eq("visibility", string(models.VisibilityPublic)),
					condAnd{
						in("visibility",
							string(models.VisibilityInstitutionOnly),
							string(models.VisibilityRestricted)),
						sameInst,
					},
				},
			},
		}

	case models.RoleStudent:
		return condOr{
			owner,
			condAnd{
				eq("approval_status", string(models.StatusApproved)),
				condOr{
					eq("visibility", string(models.VisibilityPublic)),
					condAnd{
						eq("visibility", string(models.VisibilityInstitutionOnly)),
						sameInst,
					},
				},
			},
		}

	case models.RolePublicViewer:
		return condOr{owner, publicApproved()}
	}

	return condFalse{}
}

// SQL renders the viewer's predicate with unqualified column names and
// gorm-style placeholders, for use against the documents table.
func SQL(v models.Viewer) (string, []interface{}) {
	return SQLQualified(v, func(col string) string { return col })
}

// SQLQualified renders the predicate with a caller-supplied column
// qualifier. The vector store uses this to point the denormalized columns at
// the chunk table and the remaining ones at the joined document row.
func SQLQualified(v models.Viewer, qualify func(string) string) (string, []interface{}) {
	var args []interface{}
	clause := Predicate(v).sql(qualify, &args)
	return clause, args
}
