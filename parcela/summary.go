package parcela

import "github.com/shopspring/decimal"

// MismatchTolerance is how far the schedule total may drift from the premium
// before Summarize raises a warning.
var MismatchTolerance = decimal.New(1, -2)

// Summary describes a schedule against its policy. Mismatch is a soft
// warning: the schedule stays usable.
type Summary struct {
	Count          int
	Total          decimal.Decimal
	Premium        decimal.Decimal
	MonthlyPremium decimal.Decimal
	Difference     decimal.Decimal // Total - Premium
	Mismatch       bool
}

func Summarize(p Policy, rows []Installment) Summary {
	s := Summary{
		Count:          len(rows),
		Total:          Total(rows),
		Premium:        p.Premium(),
		MonthlyPremium: MonthlyPremium(p),
	}
	s.Difference = s.Total.Sub(s.Premium)
	s.Mismatch = s.Premium.IsPositive() && s.Difference.Abs().GreaterThan(MismatchTolerance)
	return s
}
