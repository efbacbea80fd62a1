package domain

import "math"

// Abramowitz and Stegun formula 7.1.26.
const (
	erfA1 = 0.254829592
	erfA2 = -0.284496736
	erfA3 = 1.421413741
	erfA4 = -1.453152027
	erfA5 = 1.061405429
	erfP  = 0.3275911

	z95 = 1.645
)

func erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	t := 1.0 / (1.0 + erfP*x)
	y := 1.0 - (((((erfA5*t+erfA4)*t)+erfA3)*t+erfA2)*t+erfA1)*t*math.Exp(-x*x)
	return sign * y
}

func normalCDF(z float64) float64 {
	return 0.5 * (1.0 + erf(z/math.Sqrt2))
}

// logMoments returns the mean and Bessel-corrected standard deviation of ln(x).
// With a single measurement the deviation is zero.
func logMoments(measurements []float64) (mean, stdDev float64) {
	n := float64(len(measurements))
	if n == 0 {
		return 0, 0
	}
	for _, m := range measurements {
		mean += math.Log(m)
	}
	mean /= n
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, m := range measurements {
		d := math.Log(m) - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// ExceedanceProbability returns P(X > oel) under a lognormal fit of measurements.
// Callers supply at least two positive measurements; anything less yields 0.
func ExceedanceProbability(measurements []float64, oel float64) float64 {
	if len(measurements) < 2 || oel <= 0 {
		return 0
	}
	mean, stdDev := logMoments(measurements)
	logOEL := math.Log(oel)
	if stdDev == 0 {
		if mean > logOEL {
			return 1
		}
		return 0
	}
	z := (logOEL - mean) / stdDev
	return 1 - normalCDF(z)
}

// Percentile95 returns the lognormal 95th percentile estimate, or 0 without data.
func Percentile95(measurements []float64) float64 {
	if len(measurements) == 0 {
		return 0
	}
	mean, stdDev := logMoments(measurements)
	return math.Exp(mean + z95*stdDev)
}

// AIHARating maps p95/oel to the four AIHA exposure categories; 0 when oel is not positive.
func AIHARating(p95, oel float64) int {
	if oel <= 0 {
		return 0
	}
	ratio := p95 / oel
	switch {
	case ratio < 0.10:
		return 1
	case ratio < 0.50:
		return 2
	case ratio < 1.00:
		return 3
	default:
		return 4
	}
}
