package stats

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for sample size parameter validation.
var (
	// ErrInvalidParameter is returned for any out-of-range sizing input.
	ErrInvalidParameter = errors.New("invalid sample size parameter")
)

// Standard-normal quantiles for the supported alpha levels (two-sided).
var zAlpha = map[float64]float64{
	0.05: 1.96,
	0.10: 1.64,
	0.01: 2.58,
}

// Standard-normal quantiles for the supported power levels.
var zBeta = map[float64]float64{
	0.8: 0.84,
	0.9: 1.28,
	0.7: 0.52,
}

// DefaultAlpha and DefaultPower are the conventional defaults for experiment
// sizing.
const (
	DefaultAlpha = 0.05
	DefaultPower = 0.8
)

// RequiredSampleSize returns the per-variant sample size needed to detect a
// relative minimum detectable effect over a baseline conversion rate, using
// the standard two-proportion normal-approximation formula:
//
//	n = (z_alpha + z_beta)^2 * pbar*(1-pbar) / (p2-p1)^2
//
// where p1 is the baseline rate, p2 = p1*(1+mde) and pbar = (p1+p2)/2. The
// result is rounded up to the next whole user.
//
// Only the fixed quantile lookup is supported: alpha in {0.05, 0.10, 0.01}
// and power in {0.8, 0.9, 0.7}. Returns ErrInvalidParameter if baselineRate
// is outside (0,1), mde is <= 0, the implied p2 reaches 1, or alpha/power are
// outside the lookup table.
func RequiredSampleSize(baselineRate, mde, alpha, power float64) (int, error) {
	if baselineRate <= 0 || baselineRate >= 1 {
		return 0, fmt.Errorf("%w: baseline rate %v must be in (0,1)", ErrInvalidParameter, baselineRate)
	}

	if mde <= 0 {
		return 0, fmt.Errorf("%w: minimum detectable effect %v must be > 0", ErrInvalidParameter, mde)
	}

	za, ok := zAlpha[alpha]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported alpha %v (supported: 0.05, 0.10, 0.01)", ErrInvalidParameter, alpha)
	}

	zb, ok := zBeta[power]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported power %v (supported: 0.8, 0.9, 0.7)", ErrInvalidParameter, power)
	}

	p1 := baselineRate

	p2 := p1 * (1 + mde)
	if p2 >= 1 {
		return 0, fmt.Errorf("%w: baseline %v with effect %v implies target rate %v >= 1", ErrInvalidParameter, p1, mde, p2)
	}

	pbar := (p1 + p2) / 2
	z := za + zb

	n := z * z * pbar * (1 - pbar) / ((p2 - p1) * (p2 - p1))

	return int(math.Ceil(n)), nil
}
