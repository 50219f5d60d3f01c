// Package stats provides the two-proportion statistics used by the analysis
// engine: the chi-square test statistic with fixed critical-value thresholds,
// and the normal-approximation sample size calculator.
//
// Significance is reported as the tightest fixed threshold cleared (1 degree
// of freedom, no continuity correction). This is an approximation: callers
// that need exact p-values should consume the raw statistic instead.
package stats

// Significance is the tightest chi-square threshold cleared by a comparison.
type Significance string

const (
	// NotSignificant indicates the statistic cleared no threshold.
	// This is a result, not an error.
	NotSignificant Significance = "not significant"

	// SignificantP05 indicates p < 0.05 (chi-square >= 3.84 at 1 d.f.).
	SignificantP05 Significance = "p<0.05"

	// SignificantP01 indicates p < 0.01 (chi-square >= 6.63 at 1 d.f.).
	SignificantP01 Significance = "p<0.01"

	// SignificantP001 indicates p < 0.001 (chi-square >= 10.83 at 1 d.f.).
	SignificantP001 Significance = "p<0.001"
)

// Critical values for the chi-square distribution at 1 degree of freedom.
const (
	criticalP05  = 3.84
	criticalP01  = 6.63
	criticalP001 = 10.83
)

// ChiSquare computes the two-proportion chi-square statistic for a 2x2
// contingency table:
//
//	             converted  not converted
//	variant 1        a           b
//	variant 2        c           d
//
// Formula: n*(a*d - b*c)^2 / ((a+b)*(c+d)*(a+c)*(b+d)) with n = a+b+c+d.
//
// Returns 0 when any marginal total is zero (the statistic is undefined for
// degenerate tables; a zero statistic maps to NotSignificant).
func ChiSquare(a, b, c, d int64) float64 {
	n := a + b + c + d

	row1 := a + b
	row2 := c + d
	col1 := a + c
	col2 := b + d

	if row1 == 0 || row2 == 0 || col1 == 0 || col2 == 0 {
		return 0
	}

	diff := float64(a*d - b*c)
	numerator := float64(n) * diff * diff
	denominator := float64(row1) * float64(row2) * float64(col1) * float64(col2)

	return numerator / denominator
}

// Classify returns the tightest significance threshold cleared by a
// chi-square statistic at 1 degree of freedom.
func Classify(chiSquare float64) Significance {
	switch {
	case chiSquare >= criticalP001:
		return SignificantP001
	case chiSquare >= criticalP01:
		return SignificantP01
	case chiSquare >= criticalP05:
		return SignificantP05
	default:
		return NotSignificant
	}
}
