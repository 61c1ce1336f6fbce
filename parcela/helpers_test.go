package parcela_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parcela-engine/parcela"
	"github.com/warp/parcela-engine/parcela/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var errBoom = errors.New("boom")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func policy(id string, rec parcela.Record) parcela.Policy {
	return parcela.Policy{ID: parcela.PolicyID(id), UserID: "user-1", Record: rec}
}

// flakyStore wraps the memory store and fails selected writes.
type flakyStore struct {
	*store.Memory

	mu           sync.Mutex
	failFetch    bool
	failUpdateOn map[parcela.InstallmentID]bool
	failInsertOn map[int]bool // by numero
	failPolicy   bool

	updates []parcela.InstallmentID
	inserts []parcela.NewInstallment
	monthly []decimal.Decimal
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Memory:       store.NewMemory(),
		failUpdateOn: make(map[parcela.InstallmentID]bool),
		failInsertOn: make(map[int]bool),
	}
}

func (f *flakyStore) Fetch(ctx context.Context, id parcela.PolicyID) ([]parcela.Installment, error) {
	if f.failFetch {
		return nil, errBoom
	}
	return f.Memory.Fetch(ctx, id)
}

func (f *flakyStore) Update(ctx context.Context, id parcela.InstallmentID, patch parcela.InstallmentPatch) error {
	f.mu.Lock()
	f.updates = append(f.updates, id)
	fail := f.failUpdateOn[id]
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.Memory.Update(ctx, id, patch)
}

func (f *flakyStore) Insert(ctx context.Context, in parcela.NewInstallment) (parcela.InstallmentID, error) {
	f.mu.Lock()
	f.inserts = append(f.inserts, in)
	fail := f.failInsertOn[in.Numero]
	f.mu.Unlock()
	if fail {
		return "", errBoom
	}
	return f.Memory.Insert(ctx, in)
}

func (f *flakyStore) UpdateMonthlyCost(ctx context.Context, id parcela.PolicyID, monthly decimal.Decimal) error {
	f.mu.Lock()
	f.monthly = append(f.monthly, monthly)
	f.mu.Unlock()
	if f.failPolicy {
		return errBoom
	}
	return f.Memory.UpdateMonthlyCost(ctx, id, monthly)
}

// seedRows persists rows for a policy and returns their ids in order.
func seedRows(t *testing.T, s *flakyStore, policyID string, values ...string) []parcela.InstallmentID {
	t.Helper()
	ctx := context.Background()
	ids := make([]parcela.InstallmentID, len(values))
	for i, v := range values {
		id, err := s.Memory.Insert(ctx, parcela.NewInstallment{
			PolicyID: parcela.PolicyID(policyID),
			UserID:   "user-1",
			Numero:   i + 1,
			Valor:    dec(v),
			Status:   parcela.StatusPendente,
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

// recorder collects toasts.
type recorder struct {
	toasts []parcela.Toast
}

func (r *recorder) Notify(_ context.Context, t parcela.Toast) { r.toasts = append(r.toasts, t) }

func (r *recorder) count(v parcela.Variant) int {
	n := 0
	for _, t := range r.toasts {
		if t.Variant == v {
			n++
		}
	}
	return n
}
