package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type institutionServiceImpl struct {
	db    *gorm.DB
	audit services.AuditService
}

func NewInstitutionService(db *gorm.DB, audit services.AuditService) services.InstitutionService {
	return &institutionServiceImpl{
		db:    db,
		audit: audit,
	}
}

func (s *institutionServiceImpl) CreateMinistry(ctx context.Context, req models.CreateMinistryRequest, viewer models.Viewer) (*models.Institution, error) {
	if viewer.Role != models.RoleDeveloper {
		return nil, fmt.Errorf("only developers may create ministries: %w", models.ErrUnauthorized)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("ministry name is required")
	}

	ministry := &models.Institution{
		ID:        uuid.New(),
		Name:      req.Name,
		Type:      models.InstitutionTypeMinistry,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(ministry).Error; err != nil {
		return nil, fmt.Errorf("failed to create ministry: %w", err)
	}

	s.audit.Record(ctx, viewer.UserID, "ministry.create", &ministry.ID, map[string]interface{}{
		"name": ministry.Name,
	})

	return ministry, nil
}

func (s *institutionServiceImpl) CreateInstitution(ctx context.Context, req models.CreateInstitutionRequest, viewer models.Viewer) (*models.Institution, error) {
	switch viewer.Role {
	case models.RoleDeveloper:
	case models.RoleMinistryAdmin:
		// Ministry admins may only file institutions under their own ministry.
		if !viewer.SameInstitution(req.ParentMinistryID) {
			return nil, fmt.Errorf("institution must belong to the admin's ministry: %w", models.ErrUnauthorized)
		}
	default:
		return nil, fmt.Errorf("role %s may not create institutions: %w", viewer.Role, models.ErrUnauthorized)
	}

	if req.Name == "" {
		return nil, fmt.Errorf("institution name is required")
	}

	var parent models.Institution
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", req.ParentMinistryID).First(&parent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("parent ministry %s: %w", req.ParentMinistryID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load parent ministry: %w", err)
	}
	if parent.Type != models.InstitutionTypeMinistry {
		return nil, fmt.Errorf("parent %s is not a ministry", parent.ID)
	}

	inst := &models.Institution{
		ID:               uuid.New(),
		Name:             req.Name,
		Type:             models.InstitutionTypeInstitution,
		ParentMinistryID: &parent.ID,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, fmt.Errorf("failed to create institution: %w", err)
	}

	s.audit.Record(ctx, viewer.UserID, "institution.create", &inst.ID, map[string]interface{}{
		"name":     inst.Name,
		"ministry": parent.ID.String(),
	})

	return inst, nil
}

func (s *institutionServiceImpl) GetInstitution(ctx context.Context, id uuid.UUID) (*models.Institution, error) {
	var inst models.Institution
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&inst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("institution %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	return &inst, nil
}

func (s *institutionServiceImpl) ListMinistries(ctx context.Context) ([]models.Institution, error) {
	var ministries []models.Institution
	err := s.db.WithContext(ctx).
		Where("type = ? AND deleted_at IS NULL", models.InstitutionTypeMinistry).
		Order("name ASC").
		Find(&ministries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ministries: %w", err)
	}
	return ministries, nil
}

func (s *institutionServiceImpl) Descendants(ctx context.Context, ministryID uuid.UUID) ([]models.Institution, error) {
	var ministry models.Institution
	if err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", ministryID).
		First(&ministry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ministry %s: %w", ministryID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load ministry: %w", err)
	}
	if ministry.Type != models.InstitutionTypeMinistry {
		return nil, fmt.Errorf("institution %s is not a ministry: %w", ministryID, models.ErrNotFound)
	}

	var children []models.Institution
	err := s.db.WithContext(ctx).
		Where("parent_ministry_id = ? AND deleted_at IS NULL", ministryID).
		Order("name ASC").
		Find(&children).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}

	// The ministry heads its own subtree.
	return append([]models.Institution{ministry}, children...), nil
}

func (s *institutionServiceImpl) DeleteInstitution(ctx context.Context, id uuid.UUID, viewer models.Viewer) error {
	inst, err := s.GetInstitution(ctx, id)
	if err != nil {
		return err
	}

	switch viewer.Role {
	case models.RoleDeveloper:
	case models.RoleMinistryAdmin:
		if inst.ParentMinistryID == nil || !viewer.SameInstitution(*inst.ParentMinistryID) {
			return fmt.Errorf("institution belongs to another ministry: %w", models.ErrUnauthorized)
		}
	default:
		return fmt.Errorf("role %s may not delete institutions: %w", viewer.Role, models.ErrUnauthorized)
	}

	// Soft delete keeps the row for audit joins and document history.
	now := time.Now()
	err = s.db.WithContext(ctx).Model(&models.Institution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"deleted_at": &now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to delete institution: %w", err)
	}

	s.audit.Record(ctx, viewer.UserID, "institution.delete", &id, nil)
	return nil
}
