package sessionreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// pgRegistry guarda el estado en una tabla de una sola fila. El estado es
// chico y se reemplaza entero en cada transición, igual que el documento FS.
type pgRegistry struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS doorman_session_state (
	id       smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	demo     boolean NOT NULL DEFAULT false,
	session  jsonb,
	pending  jsonb,
	updated_at timestamptz NOT NULL DEFAULT NOW()
)`

// NewPG crea un registry sobre PostgreSQL y asegura el schema.
func NewPG(ctx context.Context, dsn string) (Registry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionreg: pg connect: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionreg: pg schema: %w", err)
	}
	return &pgRegistry{pool: pool}, nil
}

func (r *pgRegistry) getColumn(ctx context.Context, column string, out any) error {
	query := fmt.Sprintf(`SELECT %s FROM doorman_session_state WHERE id = 1`, column)
	var raw []byte
	err := r.pool.QueryRow(ctx, query).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && raw == nil) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("sessionreg: parse %s: %w", column, err)
	}
	return nil
}

func (r *pgRegistry) setColumn(ctx context.Context, column string, v any) error {
	var raw any
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("sessionreg: marshal %s: %w", column, err)
		}
		raw = b
	}
	query := fmt.Sprintf(`
		INSERT INTO doorman_session_state (id, %s, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET %s = $1, updated_at = NOW()`, column, column)
	if _, err := r.pool.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *pgRegistry) Active(ctx context.Context) (*types.SessionRecord, error) {
	var rec types.SessionRecord
	if err := r.getColumn(ctx, "session", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *pgRegistry) Commit(ctx context.Context, rec types.SessionRecord) error {
	return r.setColumn(ctx, "session", rec)
}

func (r *pgRegistry) Invalidate(ctx context.Context) error {
	return r.setColumn(ctx, "session", nil)
}

func (r *pgRegistry) SetPending(ctx context.Context, p types.PendingAuth) error {
	return r.setColumn(ctx, "pending", p)
}

func (r *pgRegistry) Pending(ctx context.Context) (*types.PendingAuth, error) {
	var p types.PendingAuth
	if err := r.getColumn(ctx, "pending", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pgRegistry) ClearPending(ctx context.Context) error {
	return r.setColumn(ctx, "pending", nil)
}

func (r *pgRegistry) SetDemo(ctx context.Context, enabled bool) error {
	query := `
		INSERT INTO doorman_session_state (id, demo, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET demo = $1, updated_at = NOW()`
	if _, err := r.pool.Exec(ctx, query, enabled); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *pgRegistry) DemoEnabled(ctx context.Context) (bool, error) {
	var demo bool
	err := r.pool.QueryRow(ctx, `SELECT demo FROM doorman_session_state WHERE id = 1`).Scan(&demo)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return demo, nil
}
