package domain

import (
	"math"
	"testing"
)

func referenceExceedance(measurements []float64, oel float64) float64 {
	var mean float64
	for _, m := range measurements {
		mean += math.Log(m)
	}
	mean /= float64(len(measurements))
	var ss float64
	for _, m := range measurements {
		ss += (math.Log(m) - mean) * (math.Log(m) - mean)
	}
	sd := math.Sqrt(ss / float64(len(measurements)-1))
	z := (math.Log(oel) - mean) / sd
	return 1 - 0.5*(1+math.Erf(z/math.Sqrt2))
}

func TestExceedanceProbabilityMatchesReferenceCDF(t *testing.T) {
	measurements := []float64{0.04, 0.05, 0.06}
	got := ExceedanceProbability(measurements, 0.05)
	want := referenceExceedance(measurements, 0.05)

	if got <= 0 || got >= 1 {
		t.Fatalf("expected probability in (0,1), got %v", got)
	}
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("expected %v within 1e-6, got %v", want, got)
	}
}

func TestExceedanceProbabilityNeedsTwoMeasurements(t *testing.T) {
	if got := ExceedanceProbability([]float64{0.2}, 0.05); got != 0 {
		t.Fatalf("expected 0 for a single measurement, got %v", got)
	}
	if got := ExceedanceProbability([]float64{0.1, 0.1}, 0.05); got != 1 {
		t.Fatalf("expected 1 for identical measurements above the OEL, got %v", got)
	}
	if got := ExceedanceProbability([]float64{0.01, 0.01}, 0.05); got != 0 {
		t.Fatalf("expected 0 for identical measurements below the OEL, got %v", got)
	}
}

func TestPercentile95(t *testing.T) {
	if got := Percentile95(nil); got != 0 {
		t.Fatalf("expected 0 without measurements, got %v", got)
	}
	if got := Percentile95([]float64{0.3}); math.Abs(got-0.3) > 1e-12 {
		t.Fatalf("expected the single measurement back, got %v", got)
	}
	measurements := []float64{0.04, 0.05, 0.06}
	mean, sd := logMoments(measurements)
	want := math.Exp(mean + 1.645*sd)
	if got := Percentile95(measurements); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAIHARating(t *testing.T) {
	cases := []struct {
		p95, oel float64
		want     int
	}{
		{0.01, 0, 0},
		{0.01, -1, 0},
		{0.004, 0.05, 1},
		{0.02, 0.05, 2},
		{0.04, 0.05, 3},
		{0.05, 0.05, 4},
		{0.5, 0.05, 4},
	}
	for _, tc := range cases {
		if got := AIHARating(tc.p95, tc.oel); got != tc.want {
			t.Fatalf("AIHARating(%v, %v): expected %d, got %d", tc.p95, tc.oel, tc.want, got)
		}
	}
}

func TestErfSymmetry(t *testing.T) {
	for _, x := range []float64{0.1, 0.5, 1, 2.5} {
		if math.Abs(erf(x)+erf(-x)) > 1e-12 {
			t.Fatalf("erf is not odd at %v", x)
		}
		if math.Abs(erf(x)-math.Erf(x)) > 2e-7 {
			t.Fatalf("erf(%v) drifts from math.Erf: %v vs %v", x, erf(x), math.Erf(x))
		}
	}
}
