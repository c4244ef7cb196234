package impl

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/beacon-core/models"
)

// transitionEdge is one allowed move in the approval workflow.
type transitionEdge struct {
	From models.ApprovalStatus
	To   models.ApprovalStatus
}

// actorSet names who may take an edge. Uploader means the document's
// uploader; instAdmin means an institution_admin of the owning institution;
// upper means the upper authority for the document (a ministry_admin of the
// owning institution's parent ministry). Developers may take every edge.
type actorSet struct {
	uploader  bool
	instAdmin bool
	upper     bool
}

var workflowEdges = map[transitionEdge]actorSet{
	{models.StatusDraft, models.StatusPending}:  {uploader: true, instAdmin: true},
	{models.StatusPending, models.StatusDraft}:  {uploader: true}, // withdraw
	{models.StatusRejected, models.StatusDraft}: {uploader: true}, // revise

	{models.StatusPending, models.StatusUnderReview}: {upper: true},
	{models.StatusPending, models.StatusApproved}:    {upper: true},
	{models.StatusUnderReview, models.StatusApproved}: {upper: true},

	{models.StatusPending, models.StatusRejected}:             {upper: true},
	{models.StatusUnderReview, models.StatusRejected}:         {upper: true},
	{models.StatusPending, models.StatusChangesRequested}:     {upper: true},
	{models.StatusUnderReview, models.StatusChangesRequested}: {upper: true},

	{models.StatusRejected, models.StatusPending}:         {uploader: true, instAdmin: true},
	{models.StatusChangesRequested, models.StatusPending}: {uploader: true, instAdmin: true},

	{models.StatusApproved, models.StatusArchived}: {instAdmin: true, upper: true},
	{models.StatusApproved, models.StatusExpired}:  {instAdmin: true, upper: true},
	{models.StatusFlagged, models.StatusApproved}:  {instAdmin: true, upper: true},
	{models.StatusFlagged, models.StatusArchived}:  {instAdmin: true, upper: true},
	{models.StatusArchived, models.StatusApproved}: {instAdmin: true, upper: true}, // restore
	{models.StatusExpired, models.StatusArchived}:  {instAdmin: true, upper: true},
}

// isUpperAuthority reports whether the viewer reviews documents for the
// institution whose parent ministry is parentMinistryID. Ministries have no
// parent, so only developers hold upper authority over ministry-owned
// documents.
func isUpperAuthority(v models.Viewer, parentMinistryID *uuid.UUID) bool {
	if v.Role == models.RoleDeveloper {
		return true
	}
	if v.Role != models.RoleMinistryAdmin || parentMinistryID == nil {
		return false
	}
	return v.SameInstitution(*parentMinistryID)
}

// isInstitutionAdmin reports whether the viewer administers the document's
// own institution.
func isInstitutionAdmin(v models.Viewer, d *models.Document) bool {
	return v.Role == models.RoleInstitutionAdmin && v.SameInstitution(d.InstitutionID)
}

// checkTransition validates one workflow edge for a viewer.
// parentMinistryID is the owning institution's parent ministry, nil when the
// document belongs to a ministry directly. It returns
// models.ErrInvalidTransition for unknown edges and models.ErrUnauthorized
// when the edge exists but the viewer may not take it.
func checkTransition(v models.Viewer, d *models.Document, parentMinistryID *uuid.UUID, to models.ApprovalStatus) error {
	if !models.ValidApprovalStatuses[to] {
		return fmt.Errorf("unknown approval status %q: %w", to, models.ErrInvalidTransition)
	}

	// Flagging is an audit marker, reachable from any state by any admin
	// with authority over the document.
	if to == models.StatusFlagged {
		if d.ApprovalStatus == models.StatusFlagged {
			return fmt.Errorf("no transition %s -> %s: %w", d.ApprovalStatus, to, models.ErrInvalidTransition)
		}
		if isInstitutionAdmin(v, d) || isUpperAuthority(v, parentMinistryID) {
			return nil
		}
		return fmt.Errorf("role %s may not flag documents: %w", v.Role, models.ErrUnauthorized)
	}

	actors, ok := workflowEdges[transitionEdge{From: d.ApprovalStatus, To: to}]
	if !ok {
		return fmt.Errorf("no transition %s -> %s: %w", d.ApprovalStatus, to, models.ErrInvalidTransition)
	}

	if v.Role == models.RoleDeveloper {
		return nil
	}
	if actors.uploader && v.UserID == d.UploaderID {
		return nil
	}
	if actors.instAdmin && isInstitutionAdmin(v, d) {
		return nil
	}
	if actors.upper && isUpperAuthority(v, parentMinistryID) {
		return nil
	}

	return fmt.Errorf("role %s may not transition %s -> %s: %w", v.Role, d.ApprovalStatus, to, models.ErrUnauthorized)
}
