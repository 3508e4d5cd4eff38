package approval

import (
	"context"
	"time"

	"github.com/chamahq/journey/model"
)

// Store persists approval requests. Requests resolve exactly once; the
// store enforces the PENDING precondition atomically.
type Store interface {
	// Create persists a new pending approval request.
	Create(ctx context.Context, req model.ApprovalRequest) error

	// Get retrieves a request by ID, scoped to a tenant. Returns
	// APPROVAL_NOT_FOUND if absent.
	Get(ctx context.Context, tenantID, requestID string) (model.ApprovalRequest, error)

	// FindByCard retrieves the request projected onto the given external
	// board card.
	FindByCard(ctx context.Context, tenantID, cardID string) (model.ApprovalRequest, error)

	// AttachCard records the external card ID after a successful
	// projection.
	AttachCard(ctx context.Context, tenantID, requestID, cardID string) error

	// Resolve marks a pending request as APPROVED or REJECTED. Returns
	// APPROVAL_RESOLVED if the request is no longer pending; the first
	// resolution always wins.
	Resolve(ctx context.Context, tenantID, requestID, status, resolvedBy string, resolvedAt time.Time) error

	// Find returns requests for a tenant matching the filters, oldest
	// first.
	Find(ctx context.Context, tenantID string, filters Filters) ([]model.ApprovalRequest, error)
}

// Filters are optional filters for searching approval requests. Zero-valued
// fields are ignored.
type Filters struct {
	InstanceID string
	MemberID   string
	Status     string
	Limit      int
	Offset     int
}
