package impl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type auditServiceImpl struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) services.AuditService {
	return &auditServiceImpl{db: db}
}

// Record appends an audit event. Failures are logged and swallowed; the
// action being audited must not fail because the trail write did.
func (s *auditServiceImpl) Record(ctx context.Context, actorID uuid.UUID, verb string, targetID *uuid.UUID, details map[string]interface{}) {
	event := &models.AuditEvent{
		ID:        uuid.New(),
		ActorID:   actorID,
		Verb:      verb,
		TargetID:  targetID,
		CreatedAt: time.Now(),
	}

	if details != nil {
		detailsJSON, err := models.ConvertToJSON(details)
		if err != nil {
			log.Printf("audit: failed to encode details for %s: %v", verb, err)
		} else {
			event.Details = detailsJSON
		}
	}

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		log.Printf("audit: failed to record %s by %s: %v", verb, actorID, err)
	}
}

func (s *auditServiceImpl) ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []models.AuditEvent
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
