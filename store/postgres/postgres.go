/*
Package postgres provides a PostgreSQL-backed implementation of the record
stores, for deployments that keep policies in a hosted Postgres.

Same surface as store/sqlite. Differences:
  - Policy documents are jsonb; monthly cost updates use jsonb_set in a
    single statement instead of read-modify-write.
  - Amounts are numeric(14,2) and travel as text to keep decimal precision.
  - The pool (pgxpool) is safe for concurrent use, so no store mutex.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/parcela-engine/factory"
	"github.com/warp/parcela-engine/parcela"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS installments (
	id TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	numero INTEGER NOT NULL,
	valor NUMERIC(14,2) NOT NULL,
	vencimento TEXT,
	status TEXT NOT NULL DEFAULT 'pendente',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_installments_policy_numero
	ON installments(policy_id, numero);
`

// foreign_key_violation
const fkViolation = "23503"

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	factory *factory.PolicyFactory
}

// New connects to connString and migrates the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{pool: pool, factory: factory.NewPolicyFactory()}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p parcela.Policy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", parcela.ErrInvalidPolicy)
	}
	data, err := s.factory.EncodeRecord(s.factory.ToRecord(p))
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO policies (id, user_id, data)
		VALUES ($1, NULLIF($2, ''), $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			updated_at = now()
	`, string(p.ID), string(p.UserID), string(data))
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id parcela.PolicyID) (*parcela.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(user_id, ''), data::text FROM policies WHERE id = $1`, string(id))
	p, err := s.scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, parcela.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]parcela.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(user_id, ''), data::text FROM policies ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []parcela.Policy
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePolicy(ctx context.Context, id parcela.PolicyID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parcela.ErrPolicyNotFound
	}
	return nil
}

// UpdateMonthlyCost sets custo_mensal and valor_parcela inside the document.
func (s *Store) UpdateMonthlyCost(ctx context.Context, id parcela.PolicyID, monthly decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE policies
		SET data = jsonb_set(jsonb_set(data, '{custo_mensal}', to_jsonb($2::text::numeric)),
		                     '{valor_parcela}', to_jsonb($2::text::numeric)),
		    updated_at = now()
		WHERE id = $1
	`, string(id), monthly.String())
	if err != nil {
		return fmt.Errorf("failed to update monthly cost: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parcela.ErrPolicyNotFound
	}
	return nil
}

func (s *Store) scanPolicy(row pgx.Row) (parcela.Policy, error) {
	var id, userID, data string
	if err := row.Scan(&id, &userID, &data); err != nil {
		return parcela.Policy{}, err
	}
	rec, err := s.factory.DecodeRecord([]byte(data))
	if err != nil {
		return parcela.Policy{}, fmt.Errorf("policy %s: %w", id, err)
	}
	return parcela.Policy{
		ID:     parcela.PolicyID(id),
		UserID: parcela.UserID(userID),
		Record: rec,
	}, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (s *Store) Fetch(ctx context.Context, policyID parcela.PolicyID) ([]parcela.Installment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, numero, valor::text, COALESCE(vencimento, ''), status
		FROM installments
		WHERE policy_id = $1
		ORDER BY numero, created_at
	`, string(policyID))
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []parcela.Installment
	for rows.Next() {
		var (
			id, valor, vencimento, status string
			numero                        int
		)
		if err := rows.Scan(&id, &numero, &valor, &vencimento, &status); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		v, err := decimal.NewFromString(valor)
		if err != nil {
			return nil, fmt.Errorf("installment %s: bad valor %q: %w", id, valor, err)
		}
		iid := parcela.InstallmentID(id)
		out = append(out, parcela.Installment{
			ID:         &iid,
			Numero:     numero,
			Valor:      v,
			Vencimento: vencimento,
			Status:     parcela.Status(status),
		})
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id parcela.InstallmentID, patch parcela.InstallmentPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE installments
		SET valor = $2::text::numeric, vencimento = $3, updated_at = now()
		WHERE id = $1
	`, string(id), patch.Valor.String(), patch.Vencimento)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parcela.ErrInstallmentNotFound
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, in parcela.NewInstallment) (parcela.InstallmentID, error) {
	status := in.Status
	if status == "" {
		status = parcela.StatusPendente
	}
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO installments (id, policy_id, user_id, numero, valor, vencimento, status)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7)
	`, id, string(in.PolicyID), string(in.UserID), in.Numero,
		in.Valor.String(), in.Vencimento, string(status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
			return "", parcela.ErrPolicyNotFound
		}
		return "", fmt.Errorf("failed to insert installment: %w", err)
	}
	return parcela.InstallmentID(id), nil
}

// Reset drops all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE installments, policies`)
	return err
}
