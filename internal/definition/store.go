// Package definition manages versioned journey definitions: publish-time
// validation, the activation flip, a per-version read cache, and YAML
// seeding for development environments.
package definition

import (
	"context"

	"github.com/chamahq/journey/model"
)

// Store persists journey definitions, keyed by (tenant, code, version).
type Store interface {
	// Create persists a new definition version. The version must not exist
	// yet for the (tenant, code) pair.
	Create(ctx context.Context, def model.JourneyDefinition) error

	// Activate atomically flips the active flag: the currently active
	// version of (tenant, code) becomes inactive and the given version
	// becomes active. Readers never observe two active versions or zero
	// active versions mid-flip.
	Activate(ctx context.Context, tenantID, code string, version int) error

	// FindActive returns the single active definition for (tenant, code).
	// Returns JOURNEY_NOT_FOUND if no version is active.
	FindActive(ctx context.Context, tenantID, code string) (model.JourneyDefinition, error)

	// FindByCode returns a specific version of a definition. Version 0 means
	// the highest published version regardless of active flag.
	FindByCode(ctx context.Context, tenantID, code string, version int) (model.JourneyDefinition, error)

	// List returns all definition versions for a tenant, newest first.
	List(ctx context.Context, tenantID string) ([]model.JourneyDefinition, error)
}
