/*
store.go - Collaborator interfaces consumed by the engine

KEY INTERFACES:
  InstallmentStore: Persisted installment rows, keyed by policy
  PolicyStore:      Policy documents and their derived monthly cost
  UserContext:      Who is saving (required before any insert)
  Notifier:         Fire-and-forget user feedback ("toast")

IMPLEMENTATIONS:
  - parcela/store/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go:  SQLite
  - store/postgres/postgres.go: PostgreSQL
  - notify/: Notifier implementations

None of these promise transactions. The engine never needs one: saving is
best effort by contract.
*/
package parcela

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORES
// =============================================================================

// InstallmentPatch is the update applied to a persisted row on save.
// A nil Vencimento clears the due date.
type InstallmentPatch struct {
	Valor      decimal.Decimal
	Vencimento *string
}

// NewInstallment is an insert of a row that was never persisted.
type NewInstallment struct {
	PolicyID   PolicyID
	UserID     UserID
	Numero     int
	Valor      decimal.Decimal
	Vencimento *string
	Status     Status
}

// InstallmentStore persists installment rows.
type InstallmentStore interface {
	// Fetch returns the persisted rows of a policy ordered by numero ascending.
	Fetch(ctx context.Context, policyID PolicyID) ([]Installment, error)

	// Update overwrites valor and vencimento of a stored row.
	Update(ctx context.Context, id InstallmentID, patch InstallmentPatch) error

	// Insert stores a new row and returns its id.
	Insert(ctx context.Context, row NewInstallment) (InstallmentID, error)
}

// PolicyStore reads policies and writes the derived monthly cost.
type PolicyStore interface {
	Get(ctx context.Context, id PolicyID) (*Policy, error)

	// UpdateMonthlyCost sets both custo_mensal and valor_parcela.
	UpdateMonthlyCost(ctx context.Context, id PolicyID, monthly decimal.Decimal) error
}

// UserContext resolves the user on whose behalf rows are inserted.
type UserContext interface {
	CurrentUser(ctx context.Context) (UserID, error)
}

// UserFunc adapts a function to UserContext.
type UserFunc func(ctx context.Context) (UserID, error)

func (f UserFunc) CurrentUser(ctx context.Context) (UserID, error) { return f(ctx) }

// StaticUser is a UserContext that always returns the same user.
type StaticUser UserID

func (u StaticUser) CurrentUser(context.Context) (UserID, error) {
	if u == "" {
		return "", ErrNoCurrentUser
	}
	return UserID(u), nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantSuccess     Variant = "success"
	VariantWarning     Variant = "warning"
	VariantDestructive Variant = "destructive"
)

// Toast is a transient notification banner.
type Toast struct {
	Title       string
	Description string
	Variant     Variant
	Duration    time.Duration
}

// Notifier shows a toast. It must not block and has no failure mode.
type Notifier interface {
	Notify(ctx context.Context, t Toast)
}

// NopNotifier drops every toast.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Toast) {}
