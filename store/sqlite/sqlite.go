/*
Package sqlite provides a SQLite-backed implementation of the record stores.

PURPOSE:
  Implements the persistence collaborators of the installment engine
  (parcela.InstallmentStore, parcela.PolicyStore) plus the policy CRUD the
  HTTP layer needs. In production the same patterns apply to PostgreSQL
  (see store/postgres).

KEY TABLES:
  policies:     One JSON document per policy (data_json), as written by the
                back office. custo_mensal/valor_parcela live inside it.
  installments: Persisted installment rows. vencimento is NULL until a user
                assigns a due date. valor is a decimal string.

INDEXES:
  - idx_installments_policy_numero: Fetch ordered by numero (hot path)

NO TRANSACTIONS ACROSS ROWS:
  Each Update/Insert is its own statement. The engine's save is best effort
  by contract and reports partial failure itself.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. With ":memory:" the pool is pinned
  to one connection so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/parcelas.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - parcela/store.go: Interface definitions
  - parcela/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/parcela-engine/factory"
	"github.com/warp/parcela-engine/parcela"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	factory *factory.PolicyFactory
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, factory: factory.NewPolicyFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		numero INTEGER NOT NULL,
		valor TEXT NOT NULL,
		vencimento TEXT,
		status TEXT NOT NULL DEFAULT 'pendente',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_policy_numero
		ON installments(policy_id, numero);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// POLICIES (parcela.PolicyStore + CRUD)
// =============================================================================

// SavePolicy inserts or replaces a policy document.
func (s *Store) SavePolicy(ctx context.Context, p parcela.Policy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", parcela.ErrInvalidPolicy)
	}
	data, err := s.factory.EncodeRecord(s.factory.ToRecord(p))
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, user_id, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at
	`, p.ID, nullString(string(p.UserID)), string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// Get returns a policy by id.
func (s *Store) Get(ctx context.Context, id parcela.PolicyID) (*parcela.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, data_json FROM policies WHERE id = ?`, id)
	p, err := s.scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, parcela.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns every policy ordered by creation time.
func (s *Store) ListPolicies(ctx context.Context) ([]parcela.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, data_json FROM policies ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []parcela.Policy
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy and, by cascade, its installments.
func (s *Store) DeletePolicy(ctx context.Context, id parcela.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return parcela.ErrPolicyNotFound
	}
	return nil
}

// UpdateMonthlyCost sets custo_mensal and valor_parcela inside the document.
func (s *Store) UpdateMonthlyCost(ctx context.Context, id parcela.PolicyID, monthly decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data_json FROM policies WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return parcela.ErrPolicyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}

	rec, err := s.factory.DecodeRecord([]byte(data))
	if err != nil {
		return err
	}
	rec[parcela.FieldCustoMensal] = monthly
	rec[parcela.FieldValorParcela] = monthly
	updated, err := s.factory.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE policies SET data_json = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update monthly cost: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPolicy(row scanner) (parcela.Policy, error) {
	var (
		id     string
		userID sql.NullString
		data   string
	)
	if err := row.Scan(&id, &userID, &data); err != nil {
		return parcela.Policy{}, err
	}
	rec, err := s.factory.DecodeRecord([]byte(data))
	if err != nil {
		return parcela.Policy{}, fmt.Errorf("policy %s: %w", id, err)
	}
	return parcela.Policy{
		ID:     parcela.PolicyID(id),
		UserID: parcela.UserID(userID.String),
		Record: rec,
	}, nil
}

// =============================================================================
// INSTALLMENTS (parcela.InstallmentStore)
// =============================================================================

// Fetch returns the persisted rows of a policy ordered by numero.
func (s *Store) Fetch(ctx context.Context, policyID parcela.PolicyID) ([]parcela.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, numero, valor, vencimento, status
		FROM installments
		WHERE policy_id = ?
		ORDER BY numero ASC, created_at ASC
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []parcela.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Update overwrites valor and vencimento of a stored row.
func (s *Store) Update(ctx context.Context, id parcela.InstallmentID, patch parcela.InstallmentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE installments SET valor = ?, vencimento = ?, updated_at = ? WHERE id = ?`,
		patch.Valor.String(), nullablePtr(patch.Vencimento),
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return parcela.ErrInstallmentNotFound
	}
	return nil
}

// Insert stores a new row and returns its id.
func (s *Store) Insert(ctx context.Context, in parcela.NewInstallment) (parcela.InstallmentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := in.Status
	if status == "" {
		status = parcela.StatusPendente
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installments
		(id, policy_id, user_id, numero, valor, vencimento, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, in.PolicyID, in.UserID, in.Numero, in.Valor.String(),
		nullablePtr(in.Vencimento), status, now, now)
	if err != nil {
		if isForeignKeyError(err) {
			return "", parcela.ErrPolicyNotFound
		}
		return "", fmt.Errorf("failed to insert installment: %w", err)
	}
	return parcela.InstallmentID(id), nil
}

func scanInstallment(rows *sql.Rows) (parcela.Installment, error) {
	var (
		id         string
		numero     int
		valor      string
		vencimento sql.NullString
		status     string
	)
	if err := rows.Scan(&id, &numero, &valor, &vencimento, &status); err != nil {
		return parcela.Installment{}, fmt.Errorf("failed to scan installment: %w", err)
	}
	v, err := decimal.NewFromString(valor)
	if err != nil {
		return parcela.Installment{}, fmt.Errorf("installment %s: bad valor %q: %w", id, valor, err)
	}
	iid := parcela.InstallmentID(id)
	return parcela.Installment{
		ID:         &iid,
		Numero:     numero,
		Valor:      v,
		Vencimento: vencimento.String,
		Status:     parcela.Status(status),
	}, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset drops all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"installments", "policies"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullablePtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
