package parcela

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FIELD ACCESSORS
// =============================================================================
//
// Policy documents come from several generations of the back office and name
// the same concept differently. Each concept has ONE ordered list of field
// names; readers try them in order and take the first usable value.

const (
	FieldInstallments       = "installments"
	FieldParcelas           = "parcelas"
	FieldQuantidadeParcelas = "quantidade_parcelas"
	FieldValorParcela       = "valor_parcela"
	FieldCustoMensal        = "custo_mensal"
)

var (
	NumeroFields     = []string{"numero", "number"}
	ValorFields      = []string{"valor", "value"}
	VencimentoFields = []string{"vencimento", "dueDate", "date", "data_vencimento"}
	StatusFields     = []string{"status"}

	PremiumFields     = []string{"valor_premio", "premium"}
	MonthlyCostFields = []string{FieldCustoMensal, "monthlyAmount"}
)

// Record is a schemaless document: a policy or one entry of an embedded
// installment array.
type Record map[string]any

// Lookup returns the first non-nil value among keys.
func (r Record) Lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Decimal returns the first value among keys that reads as a number.
func (r Record) Decimal(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// PositiveDecimal returns the first value among keys that is a number > 0.
func (r Record) PositiveDecimal(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		if d, ok := r.Decimal(k); ok && d.IsPositive() {
			return d, true
		}
	}
	return decimal.Zero, false
}

// maxWhole bounds Int so IntPart never wraps.
var maxWhole = decimal.NewFromInt(math.MaxInt32)

// Int returns the first value among keys that reads as a whole number
// within ±math.MaxInt32.
func (r Record) Int(keys ...string) (int, bool) {
	for _, k := range keys {
		d, ok := r.Decimal(k)
		if !ok || !d.Equal(d.Truncate(0)) || d.Abs().GreaterThan(maxWhole) {
			continue
		}
		return int(d.IntPart()), true
	}
	return 0, false
}

// String returns the first non-empty string among keys.
func (r Record) String(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

// Records returns the array stored under key. Entries that are not objects
// are kept as empty records so the array length is preserved.
func (r Record) Records(key string) []Record {
	raw, ok := r[key].([]any)
	if !ok {
		if typed, ok := r[key].([]Record); ok {
			return typed
		}
		if maps, ok := r[key].([]map[string]any); ok {
			out := make([]Record, len(maps))
			for i, m := range maps {
				out[i] = Record(m)
			}
			return out
		}
		return nil
	}
	out := make([]Record, len(raw))
	for i, e := range raw {
		switch m := e.(type) {
		case map[string]any:
			out[i] = Record(m)
		case Record:
			out[i] = m
		default:
			out[i] = Record{}
		}
	}
	return out
}

// Clone returns a shallow copy; nested arrays are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return toDecimal(float64(n))
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		return ParseAmount(n)
	case fmt.Stringer:
		// json.Number from either codec
		return ParseAmount(n.String())
	}
	return decimal.Zero, false
}

// ParseAmount reads a stored amount. Both "1234.56" and the pt-BR forms
// "1234,56" and "1.234,56" are accepted.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return decimal.Zero, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
