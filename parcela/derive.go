/*
derive.go - Building the editable installment schedule of a policy

SOURCE PRIORITY (first non-empty wins):
  1. Persisted installment rows (each has an id: saving updates them)
  2. The policy's "installments" array (no ids: saving inserts them)
  3. The legacy "parcelas" array (no ids)
  4. Synthesized: N rows of the monthly premium with an empty due date

  A failing fetch in step 1 is logged and treated as "no rows".

INSTALLMENT COUNT:
  quantidade_parcelas (1..MaxInstallments) -> len(installments) -> len(parcelas) -> 1

MONTHLY PREMIUM:
  valor_parcela (> 0) -> custo_mensal | monthlyAmount (> 0)
  -> premium / count (both > 0) -> premium
*/
package parcela

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source names where a derived schedule came from.
type Source string

const (
	SourcePersisted    Source = "persisted"
	SourceInstallments Source = "installments"
	SourceParcelas     Source = "parcelas"
	SourceSynthesized  Source = "synthesized"
)

// Derivation is the result of deriving a policy's schedule.
type Derivation struct {
	PolicyID       PolicyID
	Source         Source
	Rows           []Installment
	Count          int
	MonthlyPremium decimal.Decimal
}

// MaxInstallments caps quantidade_parcelas. Larger values are ignored.
const MaxInstallments = 360

// InstallmentCount returns how many installments the policy is paid in.
func InstallmentCount(p Policy) int {
	if n, ok := p.Record.Int(FieldQuantidadeParcelas); ok && n > 0 && n <= MaxInstallments {
		return n
	}
	if n := len(p.Installments()); n > 0 {
		return n
	}
	if n := len(p.LegacyParcelas()); n > 0 {
		return n
	}
	return 1
}

// MonthlyPremium returns the amount of one installment, rounded to cents.
func MonthlyPremium(p Policy) decimal.Decimal {
	if v, ok := p.Record.PositiveDecimal(FieldValorParcela); ok {
		return v
	}
	if v, ok := p.Record.PositiveDecimal(MonthlyCostFields...); ok {
		return v
	}
	premium := p.Premium()
	count := InstallmentCount(p)
	if premium.IsPositive() && count > 0 {
		return premium.Div(decimal.NewFromInt(int64(count))).Round(2)
	}
	return premium
}

// =============================================================================
// DERIVER
// =============================================================================

type Deriver struct {
	Store  InstallmentStore // may be nil: step 1 is skipped
	Logger *zap.Logger
}

func NewDeriver(store InstallmentStore, logger *zap.Logger) *Deriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{Store: store, Logger: logger}
}

// Derive builds a fresh in-memory schedule. It never fails.
func (d *Deriver) Derive(ctx context.Context, p Policy) Derivation {
	out := Derivation{
		PolicyID:       p.ID,
		Count:          InstallmentCount(p),
		MonthlyPremium: MonthlyPremium(p),
	}

	if rows := d.persisted(ctx, p.ID); len(rows) > 0 {
		out.Source = SourcePersisted
		out.Rows = rows
		return out
	}
	if entries := p.Installments(); len(entries) > 0 {
		out.Source = SourceInstallments
		out.Rows = fromRecords(entries)
		return out
	}
	if entries := p.LegacyParcelas(); len(entries) > 0 {
		out.Source = SourceParcelas
		out.Rows = fromRecords(entries)
		return out
	}

	out.Source = SourceSynthesized
	out.Rows = Synthesize(out.Count, out.MonthlyPremium)
	return out
}

func (d *Deriver) persisted(ctx context.Context, id PolicyID) []Installment {
	if d.Store == nil || id == "" {
		return nil
	}
	rows, err := d.Store.Fetch(ctx, id)
	if err != nil {
		d.Logger.Warn("installment fetch failed, falling back to policy document",
			zap.String("policy_id", string(id)), zap.Error(err))
		return nil
	}
	return cloneRows(rows)
}

// Synthesize returns n rows numbered 1..n, each worth monthly, with no due date.
func Synthesize(n int, monthly decimal.Decimal) []Installment {
	rows := make([]Installment, n)
	for i := range rows {
		rows[i] = Installment{
			Numero: i + 1,
			Valor:  monthly,
			Status: StatusPendente,
		}
	}
	return rows
}

// fromRecords maps embedded array entries to rows. If any entry lacks a
// numero in 1..n, or two entries share one, the list is renumbered 1..n in
// source order.
func fromRecords(entries []Record) []Installment {
	rows := make([]Installment, len(entries))
	seen := make(map[int]bool, len(entries))
	renumber := false

	for i, e := range entries {
		numero, ok := e.Int(NumeroFields...)
		if !ok || numero < 1 || numero > len(entries) || seen[numero] {
			renumber = true
		}
		seen[numero] = true

		valor, _ := e.Decimal(ValorFields...)
		rows[i] = Installment{
			Numero:     numero,
			Valor:      valor,
			Vencimento: e.String(VencimentoFields...),
			Status:     statusOrDefault(e.String(StatusFields...)),
		}
	}

	if renumber {
		for i := range rows {
			rows[i].Numero = i + 1
		}
	}
	return rows
}
