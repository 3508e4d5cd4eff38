package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chamahq/journey/model"
)

// PgStore is a PostgreSQL-backed journey Store using pgx/v5. Instance state
// and log entries are written in a single transaction; a unique index on
// (tenant_id, member_id, journey_code) enforces the one-instance rule.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL journey store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the underlying pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateInstance inserts an instance and its creation log entry in one
// transaction.
func (s *PgStore) CreateInstance(ctx context.Context, inst model.JourneyInstance, creation model.TransitionLogEntry) error {
	metadataJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create instance: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO journey_instances (
			id, tenant_id, member_id, journey_code, journey_version,
			current_state, metadata, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`,
		inst.ID, inst.TenantID, inst.MemberID, inst.JourneyCode, inst.JourneyVersion,
		inst.CurrentState, metadataJSON, inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewInstanceExistsError(
			fmt.Sprintf("member %s already has a %s journey", inst.MemberID, inst.JourneyCode),
		)
	}
	if err != nil {
		return fmt.Errorf("insert journey instance: %w", err)
	}

	if err := appendLogEntry(ctx, tx, creation); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetInstance retrieves an instance by ID, scoped to tenant.
func (s *PgStore) GetInstance(ctx context.Context, tenantID, instanceID string) (model.JourneyInstance, error) {
	return s.queryInstance(ctx, `
		SELECT id, tenant_id, member_id, journey_code, journey_version,
		       current_state, metadata, version, created_at, updated_at
		FROM journey_instances
		WHERE id = $1 AND tenant_id = $2`,
		fmt.Sprintf("journey instance %q not found", instanceID),
		instanceID, tenantID,
	)
}

// FindByMember retrieves the member's instance for a journey code.
func (s *PgStore) FindByMember(ctx context.Context, tenantID, memberID, journeyCode string) (model.JourneyInstance, error) {
	return s.queryInstance(ctx, `
		SELECT id, tenant_id, member_id, journey_code, journey_version,
		       current_state, metadata, version, created_at, updated_at
		FROM journey_instances
		WHERE tenant_id = $1 AND member_id = $2 AND journey_code = $3`,
		fmt.Sprintf("member %s has no %s journey", memberID, journeyCode),
		tenantID, memberID, journeyCode,
	)
}

func (s *PgStore) queryInstance(ctx context.Context, query, notFoundMsg string, args ...any) (model.JourneyInstance, error) {
	var inst model.JourneyInstance
	var metadataJSON []byte

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&inst.ID, &inst.TenantID, &inst.MemberID, &inst.JourneyCode, &inst.JourneyVersion,
		&inst.CurrentState, &metadataJSON, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.JourneyInstance{}, model.NewInstanceNotFoundError(notFoundMsg)
	}
	if err != nil {
		return model.JourneyInstance{}, fmt.Errorf("query journey instance: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &inst.Metadata); err != nil {
			return model.JourneyInstance{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return inst, nil
}

// ApplyTransition updates the instance with optimistic locking and appends
// the log entry in the same transaction.
func (s *PgStore) ApplyTransition(ctx context.Context, inst model.JourneyInstance, entry model.TransitionLogEntry) error {
	metadataJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE journey_instances SET
			current_state = $1,
			metadata = $2,
			version = $3,
			updated_at = $4
		WHERE id = $5 AND tenant_id = $6 AND version = $7`,
		inst.CurrentState, metadataJSON, inst.Version+1,
		time.Now().UTC(),
		inst.ID, inst.TenantID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update journey instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("journey instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}

	if err := appendLogEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appendLogEntry(ctx context.Context, tx pgx.Tx, entry model.TransitionLogEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal log metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transition_log (
			id, tenant_id, journey_instance_id, member_id,
			from_state, to_state, trigger, origin,
			actor_id, approval_request_id, metadata, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)`,
		entry.ID, entry.TenantID, entry.JourneyInstanceID, entry.MemberID,
		entry.FromState, entry.ToState, entry.Trigger, entry.Origin,
		entry.ActorID, entry.ApprovalRequestID, metadataJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition log entry: %w", err)
	}
	return nil
}

// GetLog retrieves an instance's transition log in append order.
func (s *PgStore) GetLog(ctx context.Context, tenantID, instanceID string) ([]model.TransitionLogEntry, error) {
	// Verify tenant access.
	if _, err := s.GetInstance(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, journey_instance_id, member_id,
		       from_state, to_state, trigger, origin,
		       actor_id, approval_request_id, metadata, created_at
		FROM transition_log
		WHERE journey_instance_id = $1
		ORDER BY created_at ASC, seq ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transition log: %w", err)
	}
	defer rows.Close()

	var entries []model.TransitionLogEntry
	for rows.Next() {
		var entry model.TransitionLogEntry
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.JourneyInstanceID, &entry.MemberID,
			&entry.FromState, &entry.ToState, &entry.Trigger, &entry.Origin,
			&entry.ActorID, &entry.ApprovalRequestID, &metadataJSON, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transition log entry: %w", err)
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SearchLog returns log entries matching the filters, in append order.
func (s *PgStore) SearchLog(ctx context.Context, tenantID string, filters LogFilters) ([]model.TransitionLogEntry, error) {
	query := `
		SELECT id, tenant_id, journey_instance_id, member_id,
		       from_state, to_state, trigger, origin,
		       actor_id, approval_request_id, metadata, created_at
		FROM transition_log
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
	if filters.Trigger != "" {
		args = append(args, filters.Trigger)
		query += fmt.Sprintf(" AND trigger = $%d", len(args))
	}
	if filters.Origin != "" {
		args = append(args, filters.Origin)
		query += fmt.Sprintf(" AND origin = $%d", len(args))
	}
	if !filters.Since.IsZero() {
		args = append(args, filters.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filters.Until.IsZero() {
		args = append(args, filters.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	query += " ORDER BY created_at ASC, seq ASC"
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
		return nil, fmt.Errorf("search transition log: %w", err)
	}
	defer rows.Close()

	var entries []model.TransitionLogEntry
	for rows.Next() {
		var entry model.TransitionLogEntry
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.JourneyInstanceID, &entry.MemberID,
			&entry.FromState, &entry.ToState, &entry.Trigger, &entry.Origin,
			&entry.ActorID, &entry.ApprovalRequestID, &metadataJSON, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transition log entry: %w", err)
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LatestEntry returns the most recent log entry for an instance.
func (s *PgStore) LatestEntry(ctx context.Context, tenantID, instanceID string) (model.TransitionLogEntry, error) {
	var entry model.TransitionLogEntry
	var metadataJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, journey_instance_id, member_id,
		       from_state, to_state, trigger, origin,
		       actor_id, approval_request_id, metadata, created_at
		FROM transition_log
		WHERE tenant_id = $1 AND journey_instance_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`,
		tenantID, instanceID,
	).Scan(
		&entry.ID, &entry.TenantID, &entry.JourneyInstanceID, &entry.MemberID,
		&entry.FromState, &entry.ToState, &entry.Trigger, &entry.Origin,
		&entry.ActorID, &entry.ApprovalRequestID, &metadataJSON, &entry.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.TransitionLogEntry{}, model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", instanceID),
		)
	}
	if err != nil {
		return model.TransitionLogEntry{}, fmt.Errorf("query latest log entry: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return model.TransitionLogEntry{}, fmt.Errorf("unmarshal log metadata: %w", err)
		}
	}
	return entry, nil
}

// FindInstances returns instances matching the filters, newest first.
func (s *PgStore) FindInstances(ctx context.Context, tenantID string, filters InstanceFilters) ([]model.JourneyInstance, error) {
	query := `
		SELECT id, tenant_id, member_id, journey_code, journey_version,
		       current_state, metadata, version, created_at, updated_at
		FROM journey_instances
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if filters.MemberID != "" {
		args = append(args, filters.MemberID)
		query += fmt.Sprintf(" AND member_id = $%d", len(args))
	}
	if filters.JourneyCode != "" {
		args = append(args, filters.JourneyCode)
		query += fmt.Sprintf(" AND journey_code = $%d", len(args))
	}
	if filters.CurrentState != "" {
		args = append(args, filters.CurrentState)
		query += fmt.Sprintf(" AND current_state = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
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
		return nil, fmt.Errorf("query journey instances: %w", err)
	}
	defer rows.Close()

	var instances []model.JourneyInstance
	for rows.Next() {
		var inst model.JourneyInstance
		var metadataJSON []byte

		err := rows.Scan(
			&inst.ID, &inst.TenantID, &inst.MemberID, &inst.JourneyCode, &inst.JourneyVersion,
			&inst.CurrentState, &metadataJSON, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journey instance: %w", err)
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &inst.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// DeleteInstance removes an instance and its log.
func (s *PgStore) DeleteInstance(ctx context.Context, tenantID, instanceID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete instance: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM journey_instances WHERE id = $1 AND tenant_id = $2`,
		instanceID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete journey instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewInstanceNotFoundError(
			fmt.Sprintf("journey instance %q not found", instanceID),
		)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM transition_log WHERE journey_instance_id = $1`,
		instanceID,
	); err != nil {
		return fmt.Errorf("delete transition log: %w", err)
	}
	return tx.Commit(ctx)
}
