// Package tax computes the two-regime comparison. The flat rates are a
// deliberate placeholder, not tax law; what matters is the comparison
// semantics: deductions clamp at zero before the old-regime multiply and
// the best regime uses strict inequality with an explicit tie.
package tax

// Flat placeholder rates for the two regimes.
const (
	OldRegimeRate = 0.20
	NewRegimeRate = 0.15
)

// Best-regime classifications.
const (
	RegimeOld   = "old"
	RegimeNew   = "new"
	RegimeEqual = "equal"
)

// Result is one computed comparison.
type Result struct {
	GrossIncome     float64 `json:"grossIncome"`
	TotalDeductions float64 `json:"totalDeductions"`
	OldRegimeTax    float64 `json:"oldRegimeTax"`
	NewRegimeTax    float64 `json:"newRegimeTax"`
	NetTax          float64 `json:"netTax"`
	BestRegime      string  `json:"bestRegime"`
}

// Compute returns the comparison for the given gross income and total
// deductions. Negative inputs are treated as zero; absent extraction data
// arrives here as zero, never as an error.
func Compute(gross, deductions float64) Result {
	if gross < 0 {
		gross = 0
	}
	if deductions < 0 {
		deductions = 0
	}
	taxable := gross - deductions
	if taxable < 0 {
		taxable = 0
	}
	oldTax := taxable * OldRegimeRate
	newTax := gross * NewRegimeRate
	net := oldTax
	if newTax < net {
		net = newTax
	}
	best := RegimeEqual
	switch {
	case oldTax < newTax:
		best = RegimeOld
	case oldTax > newTax:
		best = RegimeNew
	}
	return Result{
		GrossIncome:     gross,
		TotalDeductions: deductions,
		OldRegimeTax:    oldTax,
		NewRegimeTax:    newTax,
		NetTax:          net,
		BestRegime:      best,
	}
}
