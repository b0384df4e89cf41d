package funnel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS funnel_assignments (
	tenant_id   TEXT        NOT NULL,
	funnel_id   TEXT        NOT NULL,
	resource_id TEXT        NOT NULL,
	assigned_by TEXT        NOT NULL DEFAULT '',
	assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, funnel_id),
	UNIQUE (tenant_id, resource_id)
)`

// PostgresAssigner persiste atribuições com pgx. A constraint UNIQUE é a
// última defesa; a serialização por usuário fica com a assignqueue.
type PostgresAssigner struct {
	pool *pgxpool.Pool
}

func NewPostgresAssigner(ctx context.Context, dsn string) (*PostgresAssigner, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresAssigner{pool: pool}, nil
}

func (p *PostgresAssigner) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create funnel_assignments: %w", err)
	}
	return nil
}

func (p *PostgresAssigner) Close() { p.pool.Close() }

func (p *PostgresAssigner) Assign(ctx context.Context, a Assignment) (Result, error) {
	if err := a.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{FunnelID: a.FunnelID, ResourceID: a.ResourceID}
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var owner, current, by string
		err := tx.QueryRow(ctx,
			`SELECT funnel_id FROM funnel_assignments WHERE tenant_id = $1 AND resource_id = $2 FOR UPDATE`,
			a.TenantID, a.ResourceID,
		).Scan(&owner)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lookup resource owner: %w", err)
		case owner != a.FunnelID:
			return ErrResourceInUse
		default:
			current = owner
		}

		if current == a.FunnelID {
			res.Unchanged = true
			return tx.QueryRow(ctx,
				`SELECT assigned_by, assigned_at FROM funnel_assignments WHERE tenant_id = $1 AND funnel_id = $2`,
				a.TenantID, a.FunnelID,
			).Scan(&res.AssignedBy, &res.AssignedAt)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO funnel_assignments (tenant_id, funnel_id, resource_id, assigned_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, funnel_id)
			DO UPDATE SET resource_id = EXCLUDED.resource_id,
			              assigned_by = EXCLUDED.assigned_by,
			              assigned_at = NOW()
			RETURNING assigned_by, assigned_at`,
			a.TenantID, a.FunnelID, a.ResourceID, a.UserID,
		).Scan(&by, &res.AssignedAt)
		if err != nil {
			return upsertError(err)
		}
		res.AssignedBy = by
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// upsertError traduz a violação de UNIQUE (tenant_id, resource_id) para
// ErrResourceInUse. O FOR UPDATE não trava linha inexistente, então dois
// usuários do mesmo tenant podem disputar o mesmo recurso livre.
func upsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrResourceInUse
	}
	return fmt.Errorf("upsert assignment: %w", err)
}
