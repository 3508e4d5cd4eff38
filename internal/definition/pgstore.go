package definition

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chamahq/journey/model"
)

// PgStore is a PostgreSQL-backed definition Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL definition store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the underlying pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type defRow struct {
	statesJSON      []byte
	transitionsJSON []byte
	commandsJSON    []byte
	eventsJSON      []byte
}

func (r *defRow) unmarshalInto(def *model.JourneyDefinition) error {
	if err := json.Unmarshal(r.statesJSON, &def.States); err != nil {
		return fmt.Errorf("unmarshal states: %w", err)
	}
	if err := json.Unmarshal(r.transitionsJSON, &def.Transitions); err != nil {
		return fmt.Errorf("unmarshal transitions: %w", err)
	}
	if err := json.Unmarshal(r.commandsJSON, &def.Commands); err != nil {
		return fmt.Errorf("unmarshal commands: %w", err)
	}
	if r.eventsJSON != nil {
		if err := json.Unmarshal(r.eventsJSON, &def.Events); err != nil {
			return fmt.Errorf("unmarshal events: %w", err)
		}
	}
	return nil
}

// Create inserts a new definition version.
func (s *PgStore) Create(ctx context.Context, def model.JourneyDefinition) error {
	statesJSON, err := json.Marshal(def.States)
	if err != nil {
		return fmt.Errorf("marshal states: %w", err)
	}
	transitionsJSON, err := json.Marshal(def.Transitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}
	commandsJSON, err := json.Marshal(def.Commands)
	if err != nil {
		return fmt.Errorf("marshal commands: %w", err)
	}
	eventsJSON, err := json.Marshal(def.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO journey_definitions (
			id, tenant_id, code, version, name,
			states, initial_state, transitions, commands, events,
			is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)`,
		def.ID, def.TenantID, def.Code, def.Version, def.Name,
		statesJSON, def.InitialState, transitionsJSON, commandsJSON, eventsJSON,
		def.IsActive, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journey definition: %w", err)
	}
	return nil
}

// Activate flips the active flag in a single transaction so readers never
// observe two active versions or none.
func (s *PgStore) Activate(ctx context.Context, tenantID, code string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE journey_definitions SET is_active = TRUE, updated_at = NOW()
		WHERE tenant_id = $1 AND code = $2 AND version = $3`,
		tenantID, code, version,
	)
	if err != nil {
		return fmt.Errorf("activate journey definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewJourneyNotFoundError(
			fmt.Sprintf("journey %q version %d not found", code, version),
		)
	}

	_, err = tx.Exec(ctx, `
		UPDATE journey_definitions SET is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND code = $2 AND version <> $3 AND is_active`,
		tenantID, code, version,
	)
	if err != nil {
		return fmt.Errorf("deactivate superseded definitions: %w", err)
	}

	return tx.Commit(ctx)
}

const defColumns = `id, tenant_id, code, version, name,
       states, initial_state, transitions, commands, events,
       is_active, created_at, updated_at`

func scanDef(row pgx.Row) (model.JourneyDefinition, error) {
	var def model.JourneyDefinition
	var r defRow

	err := row.Scan(
		&def.ID, &def.TenantID, &def.Code, &def.Version, &def.Name,
		&r.statesJSON, &def.InitialState, &r.transitionsJSON, &r.commandsJSON, &r.eventsJSON,
		&def.IsActive, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return model.JourneyDefinition{}, err
	}
	if err := r.unmarshalInto(&def); err != nil {
		return model.JourneyDefinition{}, err
	}
	return def, nil
}

// FindActive returns the active definition for (tenant, code).
func (s *PgStore) FindActive(ctx context.Context, tenantID, code string) (model.JourneyDefinition, error) {
	def, err := scanDef(s.pool.QueryRow(ctx, `
		SELECT `+defColumns+`
		FROM journey_definitions
		WHERE tenant_id = $1 AND code = $2 AND is_active`,
		tenantID, code,
	))
	if err == pgx.ErrNoRows {
		return model.JourneyDefinition{}, model.NewJourneyNotFoundError(
			fmt.Sprintf("no active journey %q", code),
		)
	}
	if err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("query active journey definition: %w", err)
	}
	return def, nil
}

// FindByCode returns a specific version, or the highest version when
// version is 0.
func (s *PgStore) FindByCode(ctx context.Context, tenantID, code string, version int) (model.JourneyDefinition, error) {
	var row pgx.Row
	if version == 0 {
		row = s.pool.QueryRow(ctx, `
			SELECT `+defColumns+`
			FROM journey_definitions
			WHERE tenant_id = $1 AND code = $2
			ORDER BY version DESC
			LIMIT 1`,
			tenantID, code,
		)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT `+defColumns+`
			FROM journey_definitions
			WHERE tenant_id = $1 AND code = $2 AND version = $3`,
			tenantID, code, version,
		)
	}

	def, err := scanDef(row)
	if err == pgx.ErrNoRows {
		return model.JourneyDefinition{}, model.NewJourneyNotFoundError(
			fmt.Sprintf("journey %q not found", code),
		)
	}
	if err != nil {
		return model.JourneyDefinition{}, fmt.Errorf("query journey definition: %w", err)
	}
	return def, nil
}

// List returns all definition versions for a tenant, newest first per code.
func (s *PgStore) List(ctx context.Context, tenantID string) ([]model.JourneyDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+defColumns+`
		FROM journey_definitions
		WHERE tenant_id = $1
		ORDER BY code ASC, version DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query journey definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.JourneyDefinition
	for rows.Next() {
		def, err := scanDef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
