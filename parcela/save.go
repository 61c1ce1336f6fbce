/*
save.go - Persisting an edit session

FLOW:
  1. Skip when the session has no changes or no policy id
  2. Resolve the current user (failure aborts the save: error toast)
  3. For each row, in list order:
       persisted row  -> Update(id, {valor, vencimento})
       in-memory row  -> Insert({policy, user, numero, valor, vencimento, status})
  4. novoValorMensal = mean(valor) rounded to cents
     (no rows: the session's monthly premium)
  5. Update the policy's custo_mensal and valor_parcela
  6. One toast: success, or a single warning if anything failed

NOT A TRANSACTION:
  Every write is attempted independently. A failed row does not stop later
  rows or the policy update, and applied writes are never rolled back.
  Callers get a BatchResult and decide what partial success means.

CONCURRENCY:
  No locking. Two sessions saving the same policy: last writer wins per row.
*/
package parcela

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WriteOp string

const (
	OpUpdate WriteOp = "update"
	OpInsert WriteOp = "insert"
)

// RowOutcome is the result of writing one row.
type RowOutcome struct {
	Index  int
	Numero int
	Op     WriteOp
	ID     InstallmentID
	Err    error
}

// BatchResult reports a best-effort save.
type BatchResult struct {
	Attempted     bool
	Succeeded     []RowOutcome
	Failed        []RowOutcome
	MonthlyCost   decimal.Decimal
	PolicyUpdated bool
	PolicyErr     error
}

// OK reports whether every write succeeded.
func (b BatchResult) OK() bool {
	return b.Attempted && len(b.Failed) == 0 && b.PolicyErr == nil
}

// Partial reports whether some write failed.
func (b BatchResult) Partial() bool {
	return b.Attempted && (len(b.Failed) > 0 || b.PolicyErr != nil)
}

// Inserted returns the outcomes of successful inserts.
func (b BatchResult) Inserted() []RowOutcome {
	var out []RowOutcome
	for _, o := range b.Succeeded {
		if o.Op == OpInsert {
			out = append(out, o)
		}
	}
	return out
}

// Toast texts, as shown by the back office.
const (
	ToastSavedTitle   = "Parcelas atualizadas"
	ToastSavedDesc    = "As alterações nas parcelas foram salvas com sucesso."
	ToastPartialTitle = "Atenção"
	ToastPartialDesc  = "Algumas alterações podem não ter sido salvas."
	ToastErrorTitle   = "Erro ao salvar parcelas"
)

const toastDuration = 3 * time.Second

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Installments InstallmentStore
	Policies     PolicyStore
	Users        UserContext
	Notifier     Notifier
	Logger       *zap.Logger

	// OnSaved runs after every completed batch, including partial ones, so
	// that projections built on the old monthly cost can be refreshed.
	OnSaved []func(ctx context.Context, policyID PolicyID, result BatchResult)
}

func NewReconciler(installments InstallmentStore, policies PolicyStore, users UserContext, notifier Notifier, logger *zap.Logger) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		Installments: installments,
		Policies:     policies,
		Users:        users,
		Notifier:     notifier,
		Logger:       logger,
	}
}

// Open derives a policy's schedule and starts an edit session on it. The
// policy the schedule was derived from is returned with the session.
func (r *Reconciler) Open(ctx context.Context, policyID PolicyID) (Policy, *Session, error) {
	p, err := r.Policies.Get(ctx, policyID)
	if err != nil {
		return Policy{}, nil, err
	}
	d := NewDeriver(r.Installments, r.Logger).Derive(ctx, *p)
	return *p, NewSession(d), nil
}

// Save writes the session back. The returned error is non-nil only for a
// total failure; row and policy write failures are in the BatchResult.
func (r *Reconciler) Save(ctx context.Context, s *Session) (BatchResult, error) {
	if s == nil || !s.HasChanges || s.PolicyID == "" {
		return BatchResult{}, nil
	}
	log := r.Logger.With(zap.String("policy_id", string(s.PolicyID)))

	user, err := r.currentUser(ctx)
	if err != nil {
		log.Error("save aborted: no current user", zap.Error(err))
		r.Notifier.Notify(ctx, Toast{
			Title:       ToastErrorTitle,
			Description: err.Error(),
			Variant:     VariantDestructive,
			Duration:    toastDuration,
		})
		return BatchResult{}, err
	}

	result := BatchResult{Attempted: true}
	for i := range s.Rows {
		outcome := r.writeRow(ctx, s, i, user)
		if outcome.Err != nil {
			log.Error("installment write failed", zap.Int("numero", outcome.Numero),
				zap.String("op", string(outcome.Op)), zap.Error(outcome.Err))
			result.Failed = append(result.Failed, outcome)
			continue
		}
		result.Succeeded = append(result.Succeeded, outcome)
	}

	result.MonthlyCost = MeanValue(s.Rows, s.MonthlyPremium)
	if err := r.Policies.UpdateMonthlyCost(ctx, s.PolicyID, result.MonthlyCost); err != nil {
		log.Error("monthly cost update failed", zap.Error(err))
		result.PolicyErr = err
	} else {
		result.PolicyUpdated = true
	}

	if result.Partial() {
		r.Notifier.Notify(ctx, Toast{
			Title:       ToastPartialTitle,
			Description: ToastPartialDesc,
			Variant:     VariantWarning,
			Duration:    toastDuration,
		})
	} else {
		s.HasChanges = false
		r.Notifier.Notify(ctx, Toast{
			Title:       ToastSavedTitle,
			Description: ToastSavedDesc,
			Variant:     VariantSuccess,
			Duration:    toastDuration,
		})
	}

	log.Info("installments saved",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Bool("policy_updated", result.PolicyUpdated),
		zap.String("monthly_cost", result.MonthlyCost.StringFixed(2)))

	for _, fn := range r.OnSaved {
		fn(ctx, s.PolicyID, result)
	}
	return result, nil
}

func (r *Reconciler) currentUser(ctx context.Context) (UserID, error) {
	if r.Users == nil {
		return "", ErrNoCurrentUser
	}
	user, err := r.Users.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if user == "" {
		return "", ErrNoCurrentUser
	}
	return user, nil
}

func (r *Reconciler) writeRow(ctx context.Context, s *Session, i int, user UserID) RowOutcome {
	row := s.Rows[i]
	outcome := RowOutcome{Index: i, Numero: row.Numero}

	if row.Persisted() {
		outcome.Op = OpUpdate
		outcome.ID = *row.ID
		err := r.Installments.Update(ctx, *row.ID, InstallmentPatch{
			Valor:      row.Valor,
			Vencimento: nullable(row.Vencimento),
		})
		if err != nil {
			outcome.Err = &RowWriteError{Index: i, Numero: row.Numero, Op: OpUpdate, Err: err}
		}
		return outcome
	}

	outcome.Op = OpInsert
	id, err := r.Installments.Insert(ctx, NewInstallment{
		PolicyID:   s.PolicyID,
		UserID:     user,
		Numero:     row.Numero,
		Valor:      row.Valor,
		Vencimento: nullable(row.Vencimento),
		Status:     statusOrDefault(string(row.Status)),
	})
	if err != nil {
		outcome.Err = &RowWriteError{Index: i, Numero: row.Numero, Op: OpInsert, Err: err}
		return outcome
	}
	// a retry of this session must update, not insert again
	outcome.ID = id
	s.Rows[i].ID = &id
	return outcome
}

// MeanValue is the arithmetic mean of the row values rounded to cents, or
// fallback when there are no rows.
func MeanValue(rows []Installment, fallback decimal.Decimal) decimal.Decimal {
	if len(rows) == 0 {
		return fallback
	}
	return Total(rows).Div(decimal.NewFromInt(int64(len(rows)))).Round(2)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
