package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDeveloper        Role = "developer"
	RoleMinistryAdmin    Role = "ministry_admin"
	RoleInstitutionAdmin Role = "institution_admin"
	RoleDocumentOfficer  Role = "document_officer"
	RoleStudent          Role = "student"
	RolePublicViewer     Role = "public_viewer"
)

// ValidRoles is the closed set of roles, validated at the storage boundary.
var ValidRoles = map[Role]bool{
	RoleDeveloper:        true,
	RoleMinistryAdmin:    true,
	RoleInstitutionAdmin: true,
	RoleDocumentOfficer:  true,
	RoleStudent:          true,
	RolePublicViewer:     true,
}

func (r Role) Valid() bool {
	return ValidRoles[r]
}

// User is a registered account. InstitutionID is nullable for developer and
// public_viewer roles. Rows are never hard-deleted; soft-delete preserves the
// audit trail.
type User struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email         string     `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Role          Role       `json:"role" gorm:"type:varchar(50);not null"`
	InstitutionID *uuid.UUID `json:"institution_id,omitempty" gorm:"type:uuid;index"`
	Approved      bool       `json:"approved" gorm:"default:false"`
	EmailVerified bool       `json:"email_verified" gorm:"default:false"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (User) TableName() string {
	return "beacon.users"
}

type RegisterUserRequest struct {
	Email         string     `json:"email" validate:"required,email"`
	Role          Role       `json:"role" validate:"required"`
	InstitutionID *uuid.UUID `json:"institution_id,omitempty"`
}

// Viewer is the resolved identity attached to every request. It is the input
// to all access decisions.
type Viewer struct {
	UserID        uuid.UUID  `json:"user_id"`
	Role          Role       `json:"role"`
	InstitutionID *uuid.UUID `json:"institution_id,omitempty"`
}

// SameInstitution reports whether the viewer belongs to the given institution.
func (v Viewer) SameInstitution(institutionID uuid.UUID) bool {
	return v.InstitutionID != nil && *v.InstitutionID == institutionID
}
