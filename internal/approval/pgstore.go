package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chamahq/journey/model"
)

// PgStore is a PostgreSQL-backed approval Store using pgx/v5. Exactly-once
// resolution rides on a conditional UPDATE guarded by status = PENDING.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL approval store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the underlying pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new pending request.
func (s *PgStore) Create(ctx context.Context, req model.ApprovalRequest) error {
	metadataJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO approval_requests (
			id, tenant_id, journey_instance_id, member_id,
			journey_trigger, policy_code, status, kanban_card_id,
			resolved_by, resolved_at, metadata, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)`,
		req.ID, req.TenantID, req.JourneyInstanceID, req.MemberID,
		req.JourneyTrigger, req.PolicyCode, req.Status, req.KanbanCardID,
		req.ResolvedBy, req.ResolvedAt, metadataJSON, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

const approvalColumns = `id, tenant_id, journey_instance_id, member_id,
       journey_trigger, policy_code, status, kanban_card_id,
       resolved_by, resolved_at, metadata, created_at`

func scanRequest(row pgx.Row) (model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	var metadataJSON []byte

	err := row.Scan(
		&req.ID, &req.TenantID, &req.JourneyInstanceID, &req.MemberID,
		&req.JourneyTrigger, &req.PolicyCode, &req.Status, &req.KanbanCardID,
		&req.ResolvedBy, &req.ResolvedAt, &metadataJSON, &req.CreatedAt,
	)
	if err != nil {
		return model.ApprovalRequest{}, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &req.Metadata); err != nil {
			return model.ApprovalRequest{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return req, nil
}

// Get retrieves a request by ID, scoped to tenant.
func (s *PgStore) Get(ctx context.Context, tenantID, requestID string) (model.ApprovalRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE id = $1 AND tenant_id = $2`,
		requestID, tenantID,
	))
	if err == pgx.ErrNoRows {
		return model.ApprovalRequest{}, model.NewApprovalNotFoundError(
			fmt.Sprintf("approval request %q not found", requestID),
		)
	}
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("query approval request: %w", err)
	}
	return req, nil
}

// FindByCard retrieves the request projected onto the given card.
func (s *PgStore) FindByCard(ctx context.Context, tenantID, cardID string) (model.ApprovalRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE tenant_id = $1 AND kanban_card_id = $2`,
		tenantID, cardID,
	))
	if err == pgx.ErrNoRows {
		return model.ApprovalRequest{}, model.NewApprovalNotFoundError(
			fmt.Sprintf("no approval request for card %q", cardID),
		)
	}
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("query approval request by card: %w", err)
	}
	return req, nil
}

// AttachCard records the external card ID.
func (s *PgStore) AttachCard(ctx context.Context, tenantID, requestID, cardID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE approval_requests SET kanban_card_id = $1
		WHERE id = $2 AND tenant_id = $3`,
		cardID, requestID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("attach card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewApprovalNotFoundError(
			fmt.Sprintf("approval request %q not found", requestID),
		)
	}
	return nil
}

// Resolve marks a pending request as resolved. The status predicate makes
// the first resolution win; later attempts see zero rows.
func (s *PgStore) Resolve(ctx context.Context, tenantID, requestID, status, resolvedBy string, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE approval_requests SET
			status = $1,
			resolved_by = $2,
			resolved_at = $3
		WHERE id = $4 AND tenant_id = $5 AND status = $6`,
		status, resolvedBy, resolvedAt,
		requestID, tenantID, model.ApprovalStatusPending,
	)
	if err != nil {
		return fmt.Errorf("resolve approval request: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish missing from already-resolved.
	if _, err := s.Get(ctx, tenantID, requestID); err != nil {
		return err
	}
	return model.NewApprovalResolvedError(
		fmt.Sprintf("approval request %q is already resolved", requestID),
	)
}

// Find returns requests matching the filters, oldest first.
func (s *PgStore) Find(ctx context.Context, tenantID string, filters Filters) ([]model.ApprovalRequest, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approval_requests
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if filters.InstanceID != "" {
		args = append(args, filters.InstanceID)
		query += fmt.Sprintf(" AND journey_instance_id = $%d", len(args))
	}
	if filters.MemberID != "" {
		args = append(args, filters.MemberID)
		query += fmt.Sprintf(" AND member_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at ASC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approval requests: %w", err)
	}
	defer rows.Close()

	var requests []model.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
