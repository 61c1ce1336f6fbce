package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/parcela-engine/parcela"
	"github.com/warp/parcela-engine/parcela/store"
)

func mismatchedPolicy() parcela.Policy {
	return parcela.Policy{ID: "apl-x", Record: parcela.Record{
		"valor_premio":        decimal.NewFromInt(1000),
		"quantidade_parcelas": 2,
		"installments": []any{
			map[string]any{"numero": 1, "valor": 400},
			map[string]any{"numero": 2, "valor": 400},
		},
	}}
}

func TestChecker_ReportsSumMismatch(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SavePolicy(ctx, mismatchedPolicy()))
	c := NewConsistencyChecker(m, zap.NewNop())

	report := c.RunNow(ctx)

	assert.Equal(t, 1, report.Checked)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueSumMismatch, report.Issues[0].Kind)
	assert.Equal(t, parcela.SourceInstallments, report.Issues[0].Source)
	assert.Equal(t, report.Issues, c.Latest().Issues)
}

func TestChecker_WithinToleranceIsClean(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	p := parcela.Policy{ID: "apl-y", Record: parcela.Record{
		"valor_premio": 100, "quantidade_parcelas": 3,
	}}
	require.NoError(t, m.SavePolicy(ctx, p))

	// 3 x 33.33 = 99.99
	report := NewConsistencyChecker(m, nil).RunNow(ctx)

	assert.Empty(t, report.Issues)
}

func TestChecker_CheckPolicyReplacesEntries(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	p := mismatchedPolicy()
	require.NoError(t, m.SavePolicy(ctx, p))
	c := NewConsistencyChecker(m, nil)
	c.RunNow(ctx)
	require.Len(t, c.Latest().Issues, 1)

	p.Record["valor_premio"] = decimal.NewFromInt(800)
	c.CheckPolicy(ctx, p.ID, &p)
	assert.Empty(t, c.Latest().Issues)

	c.CheckPolicy(ctx, p.ID, nil)
	assert.Empty(t, c.Latest().Issues)
}

func TestChecker_StartStop(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SavePolicy(ctx, mismatchedPolicy()))
	c := NewConsistencyChecker(m, nil)
	c.CheckInterval = 10 * time.Millisecond

	c.Start()
	require.Eventually(t, func() bool { return !c.Latest().RunAt.IsZero() }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	assert.Len(t, c.Latest().Issues, 1)
}

func TestChecker_Disabled(t *testing.T) {
	c := NewConsistencyChecker(store.NewMemory(), nil)
	c.Enabled = false

	c.Start()
	c.Stop()

	assert.True(t, c.Latest().RunAt.IsZero())
}
