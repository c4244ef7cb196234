package models

import (
	"time"

	"github.com/google/uuid"
)

type InstitutionType string

const (
	InstitutionTypeMinistry    InstitutionType = "ministry"
	InstitutionTypeInstitution InstitutionType = "institution"
)

// Institution is a node in the two-level hierarchy: ministries at the top,
// institutions under them. A ministry has a null parent; an institution has a
// non-null parent pointing to a ministry. Cycles are rejected structurally.
type Institution struct {
	ID               uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name             string          `json:"name" gorm:"not null"`
	Type             InstitutionType `json:"type" gorm:"type:varchar(50);not null"`
	ParentMinistryID *uuid.UUID      `json:"parent_ministry_id,omitempty" gorm:"type:uuid;index"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Institution) TableName() string {
	return "beacon.institutions"
}

type CreateMinistryRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

type CreateInstitutionRequest struct {
	Name             string    `json:"name" validate:"required,min=1,max=255"`
	ParentMinistryID uuid.UUID `json:"parent_ministry_id" validate:"required"`
}
