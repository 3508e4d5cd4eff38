package definition

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chamahq/journey/model"
)

// Service is the administrative write path for journey definitions:
// publishing new versions and flipping the active flag.
type Service struct {
	store     Store
	validator *Validator
}

// NewService creates a definition Service.
func NewService(store Store) *Service {
	return &Service{store: store, validator: NewValidator()}
}

// Publish validates the definition, assigns the next version for its
// (tenant, code) pair, and persists it inactive. Activation is a separate
// step so operators can stage a version before flipping traffic to it.
func (s *Service) Publish(ctx context.Context, rctx *model.RequestContext, def model.JourneyDefinition) (model.JourneyDefinition, error) {
	def.TenantID = rctx.TenantID

	if verrs := s.validator.Validate(def); len(verrs) > 0 {
		return model.JourneyDefinition{}, model.NewValidationError(FieldErrors(verrs))
	}

	latest, err := s.store.FindByCode(ctx, rctx.TenantID, def.Code, 0)
	switch {
	case err == nil:
		def.Version = latest.Version + 1
	case model.CodeOf(err) == model.ErrJourneyNotFound:
		def.Version = 1
	default:
		return model.JourneyDefinition{}, err
	}

	now := time.Now().UTC()
	def.ID = uuid.New().String()
	def.IsActive = false
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.store.Create(ctx, def); err != nil {
		return model.JourneyDefinition{}, err
	}
	return def, nil
}

// Activate flips the active version of (tenant, code) to the given version.
func (s *Service) Activate(ctx context.Context, rctx *model.RequestContext, code string, version int) error {
	return s.store.Activate(ctx, rctx.TenantID, code, version)
}

// List returns all definition versions for the caller's tenant.
func (s *Service) List(ctx context.Context, rctx *model.RequestContext) ([]model.JourneyDefinition, error) {
	return s.store.List(ctx, rctx.TenantID)
}
