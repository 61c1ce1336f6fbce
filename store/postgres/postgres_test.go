package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parcela-engine/parcela"
	"github.com/warp/parcela-engine/store/postgres"
)

// Runs only against a disposable database: the store truncates its tables.
func newTestStore(t *testing.T) *postgres.Store {
	url := os.Getenv("PARCELA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PARCELA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := postgres.New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() {
		s.Reset(context.Background())
		s.Close()
	})
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePolicy(ctx, parcela.Policy{
		ID:     "apl-1",
		UserID: "u1",
		Record: parcela.Record{"valor_premio": decimal.NewFromInt(600), "quantidade_parcelas": 2},
	}))

	id, err := s.Insert(ctx, parcela.NewInstallment{PolicyID: "apl-1", UserID: "u1", Numero: 1, Valor: decimal.RequireFromString("300.00")})
	require.NoError(t, err)

	due := "2025-03-01"
	require.NoError(t, s.Update(ctx, id, parcela.InstallmentPatch{Valor: decimal.RequireFromString("310.50"), Vencimento: &due}))

	rows, err := s.Fetch(ctx, "apl-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Valor.Equal(decimal.RequireFromString("310.50")))
	assert.Equal(t, due, rows[0].Vencimento)

	require.NoError(t, s.UpdateMonthlyCost(ctx, "apl-1", decimal.RequireFromString("310.50")))
	p, err := s.Get(ctx, "apl-1")
	require.NoError(t, err)
	custo, ok := p.Record.Decimal(parcela.FieldCustoMensal)
	require.True(t, ok)
	assert.True(t, custo.Equal(decimal.RequireFromString("310.5")))
	assert.True(t, p.Premium().Equal(decimal.NewFromInt(600)))
}

func TestStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, parcela.ErrPolicyNotFound)

	err = s.Update(ctx, "not-a-uuid", parcela.InstallmentPatch{})
	assert.ErrorIs(t, err, parcela.ErrInstallmentNotFound)

	_, err = s.Insert(ctx, parcela.NewInstallment{PolicyID: "nope", UserID: "u", Numero: 1})
	assert.ErrorIs(t, err, parcela.ErrPolicyNotFound)
}
