package journey

import (
	"context"
	"time"

	"github.com/chamahq/journey/model"
)

// Store persists journey instances and their transition log. A member holds
// at most one instance per (tenant, journeyCode); the log is append-only and
// every state change lands atomically with its log entry.
type Store interface {
	// CreateInstance persists a new instance together with its synthetic
	// creation log entry. Both writes commit atomically. Returns
	// INSTANCE_EXISTS if the member already has an instance for the journey
	// code.
	CreateInstance(ctx context.Context, inst model.JourneyInstance, creation model.TransitionLogEntry) error

	// GetInstance retrieves an instance by ID, scoped to a tenant. Returns
	// INSTANCE_NOT_FOUND if the instance doesn't exist or belongs to a
	// different tenant.
	GetInstance(ctx context.Context, tenantID, instanceID string) (model.JourneyInstance, error)

	// FindByMember retrieves the member's instance for a journey code.
	// Returns INSTANCE_NOT_FOUND if none exists.
	FindByMember(ctx context.Context, tenantID, memberID, journeyCode string) (model.JourneyInstance, error)

	// ApplyTransition persists the instance's new state and appends the
	// transition log entry atomically, with optimistic locking: inst.Version
	// must match the stored version. Returns CONFLICT if it has moved.
	ApplyTransition(ctx context.Context, inst model.JourneyInstance, entry model.TransitionLogEntry) error

	// GetLog retrieves the full transition log for an instance in append
	// order, scoped to a tenant.
	GetLog(ctx context.Context, tenantID, instanceID string) ([]model.TransitionLogEntry, error)

	// SearchLog returns log entries for a tenant matching the filters, in
	// append order across instances.
	SearchLog(ctx context.Context, tenantID string, filters LogFilters) ([]model.TransitionLogEntry, error)

	// LatestEntry returns the most recent log entry for an instance. Returns
	// INSTANCE_NOT_FOUND if the instance doesn't exist or belongs to a
	// different tenant.
	LatestEntry(ctx context.Context, tenantID, instanceID string) (model.TransitionLogEntry, error)

	// FindInstances returns instances for a tenant matching the filters,
	// newest first.
	FindInstances(ctx context.Context, tenantID string, filters InstanceFilters) ([]model.JourneyInstance, error)

	// DeleteInstance removes an instance and its log. Administrative use
	// only; normal operation never deletes.
	DeleteInstance(ctx context.Context, tenantID, instanceID string) error
}

// InstanceFilters are optional filters for listing journey instances.
type InstanceFilters struct {
	MemberID     string
	JourneyCode  string
	CurrentState string
	Limit        int
	Offset       int
}

// LogFilters are optional filters for searching the transition log.
// Zero-valued fields are ignored; Since and Until bound CreatedAt
// inclusively.
type LogFilters struct {
	InstanceID string
	MemberID   string
	Trigger    string
	Origin     string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}
