package impl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

// viewerCacheTTL bounds how long a stale role can be served from the viewer
// cache. Mutations that change a user's access invalidate eagerly, so the
// TTL only covers out-of-band database edits.
const viewerCacheTTL = 30 * time.Second

type identityServiceImpl struct {
	db    *gorm.DB
	audit services.AuditService

	group singleflight.Group
	mu    sync.RWMutex
	cache map[uuid.UUID]viewerCacheEntry
}

type viewerCacheEntry struct {
	viewer    models.Viewer
	expiresAt time.Time
}

func NewIdentityService(db *gorm.DB, audit services.AuditService) services.IdentityService {
	return &identityServiceImpl{
		db:    db,
		audit: audit,
		cache: make(map[uuid.UUID]viewerCacheEntry),
	}
}

func (s *identityServiceImpl) RegisterUser(ctx context.Context, req models.RegisterUserRequest) (*models.User, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if !req.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", req.Role)
	}

	// Institution-scoped roles must name their institution; the global roles
	// must not.
	switch req.Role {
	case models.RoleDeveloper, models.RolePublicViewer:
		if req.InstitutionID != nil {
			return nil, fmt.Errorf("role %s is not institution-scoped", req.Role)
		}
	default:
		if req.InstitutionID == nil {
			return nil, fmt.Errorf("role %s requires an institution", req.Role)
		}
		var count int64
		s.db.WithContext(ctx).Model(&models.Institution{}).
			Where("id = ? AND deleted_at IS NULL", *req.InstitutionID).
			Count(&count)
		if count == 0 {
			return nil, fmt.Errorf("institution %s: %w", *req.InstitutionID, models.ErrNotFound)
		}
	}

	user := &models.User{
		ID:            uuid.New(),
		Email:         req.Email,
		Role:          req.Role,
		InstitutionID: req.InstitutionID,
		// public_viewer accounts are usable immediately; everything else
		// waits for an admin approval.
		Approved:  req.Role == models.RolePublicViewer,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s.audit.Record(ctx, user.ID, "user.register", &user.ID, map[string]interface{}{
		"email": user.Email,
		"role":  string(user.Role),
	})

	return user, nil
}

func (s *identityServiceImpl) ApproveUser(ctx context.Context, userID uuid.UUID, viewer models.Viewer) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	switch viewer.Role {
	case models.RoleDeveloper, models.RoleMinistryAdmin:
	case models.RoleInstitutionAdmin:
		if user.InstitutionID == nil || !viewer.SameInstitution(*user.InstitutionID) {
			return fmt.Errorf("user belongs to another institution: %w", models.ErrUnauthorized)
		}
	default:
		return fmt.Errorf("role %s may not approve users: %w", viewer.Role, models.ErrUnauthorized)
	}

	err = s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"approved": true, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to approve user: %w", err)
	}

	s.InvalidateViewer(ctx, userID)
	s.audit.Record(ctx, viewer.UserID, "user.approve", &userID, nil)
	return nil
}

func (s *identityServiceImpl) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ResolveViewer loads the viewer for a user id. Lookups are cached briefly
// and coalesced, so a burst of requests from one user costs one query.
func (s *identityServiceImpl) ResolveViewer(ctx context.Context, userID uuid.UUID) (models.Viewer, error) {
	s.mu.RLock()
	entry, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.viewer, nil
	}

	result, err, _ := s.group.Do(userID.String(), func() (interface{}, error) {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return models.Viewer{}, err
		}
		viewer, err := viewerFromUser(user)
		if err != nil {
			return models.Viewer{}, err
		}

		s.mu.Lock()
		s.cache[userID] = viewerCacheEntry{viewer: viewer, expiresAt: time.Now().Add(viewerCacheTTL)}
		s.mu.Unlock()

		return viewer, nil
	})
	if err != nil {
		return models.Viewer{}, err
	}
	return result.(models.Viewer), nil
}

// viewerFromUser builds the request-scoped viewer. An existing but
// not-yet-approved account is an authorization failure, not a missing login.
func viewerFromUser(user *models.User) (models.Viewer, error) {
	if !user.Approved {
		return models.Viewer{}, fmt.Errorf("account pending approval: %w", models.ErrUnauthorized)
	}
	return models.Viewer{
		UserID:        user.ID,
		Role:          user.Role,
		InstitutionID: user.InstitutionID,
	}, nil
}

func (s *identityServiceImpl) InvalidateViewer(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
	return nil
}
