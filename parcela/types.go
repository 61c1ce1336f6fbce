/*
Package parcela provides the installment (parcela) reconciliation engine.

PURPOSE:
  An insurance policy is paid in installments. The installment schedule of a
  policy can live in several places at once: persisted installment rows, an
  embedded "installments" array on the policy document, a legacy "parcelas"
  array, or nowhere at all (only a premium and a count). This package derives
  one authoritative, numbered, editable schedule from those sources, lets a
  user edit it one field at a time, and saves the result back.

KEY CONCEPTS IN THIS FILE (types.go):
  - Policy:      The policy document as stored by the record store
  - Installment: One scheduled payment toward the policy premium
  - Status:      Installment lifecycle tag ("pendente" by default)

DESIGN PRINCIPLES:
  1. Precision: Amounts use decimal.Decimal, never float64
  2. Source priority: Derivation is deterministic for any subset of fields
  3. Soft invariants: A total that does not match the premium is a warning,
     never an error
  4. Best effort: Saving is not a transaction; partial success is reported

SEE ALSO:
  - record.go:  Field accessors for heterogeneous policy documents
  - derive.go:  Schedule derivation
  - session.go: Inline edit state machine
  - save.go:    Save and reconciliation
*/
package parcela

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type InstallmentID string
type UserID string

// =============================================================================
// POLICY - External record owned by the record store
// =============================================================================

// Policy is an insurance contract (apólice). The engine only reads it through
// accessors; the one field it owns is the derived monthly cost.
type Policy struct {
	ID     PolicyID
	UserID UserID
	Record Record
}

// Premium returns the premium total (valor_premio | premium).
func (p Policy) Premium() decimal.Decimal {
	v, _ := p.Record.Decimal(PremiumFields...)
	return v
}

// Installments returns the embedded "installments" array.
func (p Policy) Installments() []Record { return p.Record.Records(FieldInstallments) }

// LegacyParcelas returns the legacy "parcelas" array.
func (p Policy) LegacyParcelas() []Record { return p.Record.Records(FieldParcelas) }

// =============================================================================
// INSTALLMENT - The engine's core entity
// =============================================================================

type Status string

const (
	StatusPendente  Status = "pendente"
	StatusPaga      Status = "paga"
	StatusAtrasada  Status = "atrasada"
	StatusCancelada Status = "cancelada"
)

// Installment is one scheduled payment.
// ID is nil when the row was derived or synthesized in memory and has not
// been confirmed as persisted; saving such a row inserts it.
type Installment struct {
	ID         *InstallmentID
	Numero     int
	Valor      decimal.Decimal
	Vencimento string // "" when not assigned yet
	Status     Status
}

// Persisted reports whether the row maps to a stored record.
func (i Installment) Persisted() bool { return i.ID != nil && *i.ID != "" }

// Clone returns a copy that shares no pointers with i.
func (i Installment) Clone() Installment {
	c := i
	if i.ID != nil {
		id := *i.ID
		c.ID = &id
	}
	return c
}

func cloneRows(rows []Installment) []Installment {
	out := make([]Installment, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Total sums the value of every row.
func Total(rows []Installment) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Valor)
	}
	return sum
}

func statusOrDefault(s string) Status {
	if s == "" {
		return StatusPendente
	}
	return Status(s)
}
