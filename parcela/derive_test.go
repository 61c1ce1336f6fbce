package parcela_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parcela-engine/parcela"
)

// =============================================================================
// SOURCE PRIORITY
// =============================================================================

func TestDerive_PersistedRowsWinOverInstallmentsArray(t *testing.T) {
	// GIVEN: A policy with persisted rows AND an embedded installments array
	// WHEN: Deriving the schedule
	// THEN: The persisted rows are used verbatim, with their ids

	ctx := context.Background()
	s := newFlakyStore()
	p := policy("pol-1", parcela.Record{
		"valor_premio": 300,
		"installments": []any{
			map[string]any{"numero": 1, "valor": 999},
			map[string]any{"numero": 2, "valor": 999},
		},
	})
	require.NoError(t, s.SavePolicy(ctx, p))
	ids := seedRows(t, s, "pol-1", "100", "150", "50")

	d := parcela.NewDeriver(s, nil).Derive(ctx, p)

	assert.Equal(t, parcela.SourcePersisted, d.Source)
	require.Len(t, d.Rows, 3)
	for i, row := range d.Rows {
		require.NotNil(t, row.ID)
		assert.Equal(t, ids[i], *row.ID)
		assert.Equal(t, i+1, row.Numero)
	}
	assertAmount(t, "150", d.Rows[1].Valor)
}

func TestDerive_SynthesizesFromPremiumAndCount(t *testing.T) {
	// GIVEN: No persisted rows, no arrays, quantidade_parcelas=4, valor_premio=120000
	// WHEN: Deriving
	// THEN: 4 rows numbered 1..4, each 30000 with an empty due date

	p := policy("pol-2", parcela.Record{
		"quantidade_parcelas": 4,
		"valor_premio":        120000,
	})

	d := parcela.NewDeriver(newFlakyStore(), nil).Derive(context.Background(), p)

	assert.Equal(t, parcela.SourceSynthesized, d.Source)
	require.Len(t, d.Rows, 4)
	for i, row := range d.Rows {
		assert.Equal(t, i+1, row.Numero)
		assertAmount(t, "30000", row.Valor)
		assert.Equal(t, "", row.Vencimento)
		assert.Nil(t, row.ID)
		assert.Equal(t, parcela.StatusPendente, row.Status)
	}
}

func TestDerive_InstallmentsArrayUsesFieldAliases(t *testing.T) {
	// GIVEN: An installments array written with the english field names
	// WHEN: Deriving
	// THEN: number/value/dueDate map to numero/valor/vencimento, no ids

	p := policy("pol-3", parcela.Record{
		"installments": []any{
			map[string]any{"number": 1, "value": "250.50", "dueDate": "2025-02-10", "status": "paga"},
			map[string]any{"number": 2, "value": 250.5, "data_vencimento": "2025-03-10"},
		},
	})

	d := parcela.NewDeriver(newFlakyStore(), nil).Derive(context.Background(), p)

	assert.Equal(t, parcela.SourceInstallments, d.Source)
	require.Len(t, d.Rows, 2)
	assert.Nil(t, d.Rows[0].ID)
	assertAmount(t, "250.50", d.Rows[0].Valor)
	assert.Equal(t, "2025-02-10", d.Rows[0].Vencimento)
	assert.Equal(t, parcela.StatusPaga, d.Rows[0].Status)
	assert.Equal(t, "2025-03-10", d.Rows[1].Vencimento)
	assert.Equal(t, parcela.StatusPendente, d.Rows[1].Status)
}

func TestDerive_LegacyParcelas(t *testing.T) {
	// GIVEN: Only the legacy parcelas array is present
	// WHEN: Deriving
	// THEN: It is used, and "date" is read as the due date

	p := policy("pol-4", parcela.Record{
		"parcelas": []any{
			map[string]any{"numero": 1, "valor": "1.200,00", "date": "2025-01-05"},
		},
	})

	d := parcela.NewDeriver(newFlakyStore(), nil).Derive(context.Background(), p)

	assert.Equal(t, parcela.SourceParcelas, d.Source)
	require.Len(t, d.Rows, 1)
	assertAmount(t, "1200", d.Rows[0].Valor)
	assert.Equal(t, "2025-01-05", d.Rows[0].Vencimento)
}

func TestDerive_FetchFailureFallsThrough(t *testing.T) {
	// GIVEN: The installment store fails
	// WHEN: Deriving a policy with an installments array
	// THEN: The array is used; no error surfaces

	s := newFlakyStore()
	s.failFetch = true
	p := policy("pol-5", parcela.Record{
		"installments": []any{map[string]any{"numero": 1, "valor": 10}},
	})

	d := parcela.NewDeriver(s, nil).Derive(context.Background(), p)

	assert.Equal(t, parcela.SourceInstallments, d.Source)
	assert.Len(t, d.Rows, 1)
}

func TestDerive_NilStoreSkipsPersistedStep(t *testing.T) {
	p := policy("pol-6", parcela.Record{"valor_premio": 500})

	d := parcela.NewDeriver(nil, nil).Derive(context.Background(), p)

	assert.Equal(t, parcela.SourceSynthesized, d.Source)
	require.Len(t, d.Rows, 1)
	assertAmount(t, "500", d.Rows[0].Valor)
}

func TestDerive_RenumbersMissingOrDuplicateNumeros(t *testing.T) {
	// GIVEN: Array entries with a duplicate and a missing numero
	// WHEN: Deriving
	// THEN: The list is renumbered 1..n in source order

	p := policy("pol-7", parcela.Record{
		"installments": []any{
			map[string]any{"numero": 1, "valor": 10},
			map[string]any{"numero": 1, "valor": 20},
			map[string]any{"valor": 30},
		},
	})

	d := parcela.NewDeriver(nil, nil).Derive(context.Background(), p)

	require.Len(t, d.Rows, 3)
	for i, row := range d.Rows {
		assert.Equal(t, i+1, row.Numero)
	}
	assertAmount(t, "20", d.Rows[1].Valor)
}

func TestDerive_KeepsValidNumbering(t *testing.T) {
	p := policy("pol-8", parcela.Record{
		"installments": []any{
			map[string]any{"numero": 2, "valor": 20},
			map[string]any{"numero": 1, "valor": 10},
		},
	})

	d := parcela.NewDeriver(nil, nil).Derive(context.Background(), p)

	assert.Equal(t, 2, d.Rows[0].Numero)
	assert.Equal(t, 1, d.Rows[1].Numero)
}

func TestDerive_RenumbersOutOfRangeNumeros(t *testing.T) {
	// GIVEN: Two embedded installments numbered 1 and 7
	// WHEN: Deriving
	// THEN: The rows are renumbered 1..2 in source order

	p := policy("pol-9", parcela.Record{
		"installments": []any{
			map[string]any{"numero": 1, "valor": 10},
			map[string]any{"numero": 7, "valor": 20},
		},
	})

	d := parcela.NewDeriver(nil, nil).Derive(context.Background(), p)

	require.Len(t, d.Rows, 2)
	assert.Equal(t, 1, d.Rows[0].Numero)
	assert.Equal(t, 2, d.Rows[1].Numero)
	assertAmount(t, "20", d.Rows[1].Valor)
}

func TestDerive_HugeCountDoesNotSynthesize(t *testing.T) {
	// GIVEN: A document claiming an absurd number of installments
	// WHEN: Deriving with no rows or arrays to fall back on
	// THEN: The count is ignored and a single row is synthesized

	p := policy("pol-10", parcela.Record{
		"valor_premio":        1000,
		"quantidade_parcelas": 100000000000000,
	})

	d := parcela.NewDeriver(nil, nil).Derive(context.Background(), p)

	assert.Equal(t, parcela.SourceSynthesized, d.Source)
	assert.Equal(t, 1, d.Count)
	require.Len(t, d.Rows, 1)
	assertAmount(t, "1000", d.Rows[0].Valor)
}

// =============================================================================
// COUNT AND MONTHLY PREMIUM
// =============================================================================

func TestInstallmentCount_Priority(t *testing.T) {
	two := []any{map[string]any{}, map[string]any{}}
	three := []any{map[string]any{}, map[string]any{}, map[string]any{}}

	tests := []struct {
		name string
		rec  parcela.Record
		want int
	}{
		{"quantidade wins", parcela.Record{"quantidade_parcelas": 6, "installments": two, "parcelas": three}, 6},
		{"string quantidade", parcela.Record{"quantidade_parcelas": "5"}, 5},
		{"zero quantidade falls through", parcela.Record{"quantidade_parcelas": 0, "installments": two}, 2},
		{"installments before parcelas", parcela.Record{"installments": two, "parcelas": three}, 2},
		{"parcelas", parcela.Record{"parcelas": three}, 3},
		{"default", parcela.Record{}, 1},
		{"above maximum falls through", parcela.Record{"quantidade_parcelas": 361, "installments": two}, 2},
		{"overflow falls through", parcela.Record{"quantidade_parcelas": 1e30}, 1},
		{"maximum", parcela.Record{"quantidade_parcelas": 360}, 360},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parcela.InstallmentCount(policy("p", tt.rec)))
		})
	}
}

func TestMonthlyPremium_Priority(t *testing.T) {
	tests := []struct {
		name string
		rec  parcela.Record
		want string
	}{
		{"valor_parcela wins", parcela.Record{"valor_parcela": 110, "custo_mensal": 90, "valor_premio": 1200, "quantidade_parcelas": 12}, "110"},
		{"zero valor_parcela falls through", parcela.Record{"valor_parcela": 0, "custo_mensal": 90}, "90"},
		{"monthlyAmount", parcela.Record{"monthlyAmount": 75}, "75"},
		{"premium over count", parcela.Record{"valor_premio": 1200, "quantidade_parcelas": 12}, "100"},
		{"premium alias", parcela.Record{"premium": 1000, "quantidade_parcelas": 3}, "333.33"},
		{"lump fallback", parcela.Record{"valor_premio": 800}, "800"},
		{"nothing", parcela.Record{}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertAmount(t, tt.want, parcela.MonthlyPremium(policy("p", tt.rec)))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1234.56", "1234.56", true},
		{"1234,56", "1234.56", true},
		{"1.234,56", "1234.56", true},
		{"R$ 99,90", "99.90", true},
		{"", "0", false},
		{"abc", "0", false},
		{"NaN", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parcela.ParseAmount(tt.in)
			assert.Equal(t, tt.ok, ok)
			assertAmount(t, tt.want, got)
		})
	}
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestSummarize_MismatchIsAWarning(t *testing.T) {
	p := policy("p", parcela.Record{"valor_premio": 300})
	rows := []parcela.Installment{
		{Numero: 1, Valor: dec("100")},
		{Numero: 2, Valor: dec("150")},
	}

	s := parcela.Summarize(p, rows)

	assert.True(t, s.Mismatch)
	assertAmount(t, "250", s.Total)
	assertAmount(t, "-50", s.Difference)
}

func TestSummarize_WithinToleranceIsConsistent(t *testing.T) {
	// 1000 / 3 rounds to 333.33 per row: a one-cent drift is tolerated
	p := policy("p", parcela.Record{"valor_premio": 1000, "quantidade_parcelas": 3})
	d := parcela.NewDeriver(nil, nil).Derive(context.Background(), p)

	s := parcela.Summarize(p, d.Rows)

	assert.False(t, s.Mismatch)
	assertAmount(t, "999.99", s.Total)
}
