package analysis

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

func threeLevelFactor(name string, labels ...string) study.Factor {
	levels := make([]study.FactorLevel, len(labels))
	for i, l := range labels {
		levels[i] = study.FactorLevel{Raw: l, Label: l}
	}
	return study.Factor{Name: name, Levels: levels}
}

func TestFitOneWayKnownF(t *testing.T) {
	// Hand-checked 3x3 example: SS_time = 10.8889, SS_err = 0.4444,
	// F(2,4) = 49 exactly.
	d := &Design{
		Metric:       "lact",
		Participants: []core.ParticipantID{"p01", "p02", "p03"},
		FactorA:      threeLevelFactor("time", "Rest", "Int15", "Int30"),
		Y: [][]float64{
			{1, 2, 4},
			{2, 3, 4},
			{3, 4, 6},
		},
	}
	fit, err := FitRM(d)
	if err != nil {
		t.Fatalf("FitRM failed: %v", err)
	}
	if len(fit.Effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(fit.Effects))
	}
	eff := fit.Effect("time")
	if eff == nil {
		t.Fatal("time effect missing")
	}
	if math.Abs(eff.F-49) > 1e-9 {
		t.Errorf("F = %v, want 49", eff.F)
	}
	if eff.DF1 != 2 || eff.DF2 != 4 {
		t.Errorf("df = (%v, %v), want (2, 4)", eff.DF1, eff.DF2)
	}
	// 1 - CDF of F(2,4) at 49 is (4/102)^2.
	if want := math.Pow(4.0/102, 2); math.Abs(eff.PUncorrected-want) > 1e-9 {
		t.Errorf("p = %v, want %v", eff.PUncorrected, want)
	}
	if math.Abs(eff.PartialEta2-0.96078) > 1e-4 {
		t.Errorf("partial eta^2 = %v, want ~0.9608", eff.PartialEta2)
	}
	if eff.Sphericity == nil {
		t.Error("three-level term must carry a sphericity check")
	}
	if fit.OmnibusP() != eff.P {
		t.Error("one-way omnibus must be the sole main effect")
	}
	if fit.PooledSD <= 0 || fit.PooledDF != float64(3*3-3) {
		t.Errorf("pooled residual = (%v, %v), want positive SD and df=6", fit.PooledSD, fit.PooledDF)
	}
}

func TestFitTwoWayNullConditionEffect(t *testing.T) {
	// Condition means are nearly identical, so the condition term must
	// come out non-significant. F_condition = 3 exactly for these
	// numbers; for F(1,2) the survival at 3 is 1 - sqrt(3/5) ~ 0.2254
	// (equivalently the two-tailed p of T(2) at sqrt(3)).
	d := &Design{
		Metric:       "ck",
		Participants: []core.ParticipantID{"p01", "p02", "p03"},
		FactorA:      threeLevelFactor("condition", "Control", "Oxidative stress"),
		FactorB:      threeLevelFactor("time", "Baseline", "Post"),
		Y: [][]float64{
			{10.0, 12.1, 10.3, 11.8},
			{11.2, 13.0, 10.9, 13.4},
			{9.8, 11.7, 10.1, 11.6},
		},
	}
	fit, err := FitRM(d)
	if err != nil {
		t.Fatalf("FitRM failed: %v", err)
	}
	if len(fit.Effects) != 3 {
		t.Fatalf("expected 3 effects, got %d", len(fit.Effects))
	}
	for i, want := range []string{"condition", "time", "condition:time"} {
		if fit.Effects[i].Name != want {
			t.Errorf("effect %d = %q, want %q", i, fit.Effects[i].Name, want)
		}
	}

	cond := fit.Effect("condition")
	if math.Abs(cond.F-3) > 1e-6 {
		t.Errorf("condition F = %v, want 3", cond.F)
	}
	if want := 1 - math.Sqrt(3.0/5); math.Abs(cond.P-want) > 1e-6 {
		t.Errorf("condition p = %v, want %v", cond.P, want)
	}
	if cond.P < 0.05 {
		t.Error("a null condition effect must not be significant")
	}
	// All terms have 2 or fewer numerator dfs here; no sphericity check.
	for _, eff := range fit.Effects {
		if eff.Sphericity != nil {
			t.Errorf("term %s: two-level effects need no sphericity check", eff.Name)
		}
		if eff.Corrected {
			t.Errorf("term %s: nothing to correct", eff.Name)
		}
	}
	if fit.OmnibusP() != fit.Effect("condition:time").P {
		t.Error("two-way omnibus must be the interaction term")
	}
}

func TestFitRMZeroResidualVariance(t *testing.T) {
	// Perfectly additive data: every participant shows the same shift,
	// leaving the error term empty. The fit must fail loudly.
	d := &Design{
		Metric:       "flat",
		Participants: []core.ParticipantID{"p01", "p02", "p03"},
		FactorA:      threeLevelFactor("condition", "Control", "Oxidative stress"),
		Y: [][]float64{
			{1, 2},
			{2, 3},
			{3, 4},
		},
	}
	_, err := FitRM(d)
	if !errors.Is(err, core.ErrModelFitFailure) {
		t.Fatalf("expected ErrModelFitFailure, got %v", err)
	}
}

func TestBuildDesign(t *testing.T) {
	cond := threeLevelFactor("condition", "Control", "Oxidative stress")
	row := func(p, c string, v float64) study.StackedRow {
		return study.StackedRow{
			Participant: core.ParticipantID(p),
			Factors:     map[string]string{"condition": c},
			Metric:      "m",
			Value:       v,
		}
	}

	t.Run("complete design builds", func(t *testing.T) {
		d, err := BuildDesign("m", []study.StackedRow{
			row("p01", "Control", 1), row("p01", "Oxidative stress", 2),
			row("p02", "Control", 3), row("p02", "Oxidative stress", 4),
		}, cond, study.Factor{})
		if err != nil {
			t.Fatalf("BuildDesign failed: %v", err)
		}
		if d.N() != 2 || d.Cells() != 2 {
			t.Errorf("got %d participants x %d cells, want 2x2", d.N(), d.Cells())
		}
		if d.Y[0][0] != 1 || d.Y[1][1] != 4 {
			t.Errorf("matrix misassembled: %v", d.Y)
		}
	})

	t.Run("missing cell", func(t *testing.T) {
		_, err := BuildDesign("m", []study.StackedRow{
			row("p01", "Control", 1), row("p01", "Oxidative stress", 2),
			row("p02", "Control", 3),
		}, cond, study.Factor{})
		if !errors.Is(err, core.ErrIncompleteDesign) {
			t.Fatalf("expected ErrIncompleteDesign, got %v", err)
		}
	})

	t.Run("duplicate cell", func(t *testing.T) {
		_, err := BuildDesign("m", []study.StackedRow{
			row("p01", "Control", 1), row("p01", "Control", 5),
			row("p01", "Oxidative stress", 2),
		}, cond, study.Factor{})
		if !errors.Is(err, core.ErrModelFitFailure) {
			t.Fatalf("expected ErrModelFitFailure, got %v", err)
		}
	})

	t.Run("undeclared level", func(t *testing.T) {
		_, err := BuildDesign("m", []study.StackedRow{
			row("p01", "Sham", 1),
		}, cond, study.Factor{})
		if !errors.Is(err, core.ErrModelFitFailure) {
			t.Fatalf("expected ErrModelFitFailure, got %v", err)
		}
	})

	t.Run("single participant", func(t *testing.T) {
		_, err := BuildDesign("m", []study.StackedRow{
			row("p01", "Control", 1), row("p01", "Oxidative stress", 2),
		}, cond, study.Factor{})
		if !errors.Is(err, core.ErrIncompleteDesign) {
			t.Fatalf("expected ErrIncompleteDesign, got %v", err)
		}
	})
}

func TestHelmertOrthonormal(t *testing.T) {
	for _, k := range []int{2, 3, 5} {
		c := helmert(k)
		r, cols := c.Dims()
		if r != k-1 || cols != k {
			t.Fatalf("helmert(%d) dims = %dx%d, want %dx%d", k, r, cols, k-1, k)
		}
		var prod mat.Dense
		prod.Mul(c, c.T())
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(prod.At(i, j)-want) > 1e-12 {
					t.Errorf("helmert(%d): (C C^T)[%d][%d] = %v, want %v", k, i, j, prod.At(i, j), want)
				}
			}
		}
		// Every row must be orthogonal to the unit vector.
		for i := 0; i < r; i++ {
			var sum float64
			for j := 0; j < cols; j++ {
				sum += c.At(i, j)
			}
			if math.Abs(sum) > 1e-12 {
				t.Errorf("helmert(%d) row %d sums to %v, want 0", k, i, sum)
			}
		}
	}
}

func TestKroneckerDims(t *testing.T) {
	out := kronecker(helmert(3), helmert(2))
	r, c := out.Dims()
	if r != 2 || c != 6 {
		t.Errorf("kronecker dims = %dx%d, want 2x6", r, c)
	}
}

func TestSphericityBounds(t *testing.T) {
	// Seeded per-cell noise keeps the projected covariance full rank;
	// a smooth deterministic pattern would collapse an eigenvalue and
	// degenerate W to zero.
	rng := rand.New(rand.NewSource(3))
	scores := make([][]float64, 10)
	for s := range scores {
		scores[s] = make([]float64, 4)
		for j := range scores[s] {
			scores[s][j] = float64(s)*0.3 + float64(j) + rng.NormFloat64()
		}
	}
	sph := checkSphericity(scores, helmert(4))

	if sph.W <= 0 || sph.W > 1+1e-9 {
		t.Errorf("W = %v, want in (0, 1]", sph.W)
	}
	if sph.P < 0 || sph.P > 1 {
		t.Errorf("p = %v, want in [0, 1]", sph.P)
	}
	if sph.DF != 5 {
		t.Errorf("chi-square df = %v, want 5", sph.DF)
	}
	lower := 1.0 / 3
	if sph.EpsilonGG < lower-1e-9 || sph.EpsilonGG > 1 {
		t.Errorf("epsilon GG = %v, want in [1/3, 1]", sph.EpsilonGG)
	}
	if sph.EpsilonHF < sph.EpsilonGG || sph.EpsilonHF > 1 {
		t.Errorf("epsilon HF = %v, want in [GG, 1]", sph.EpsilonHF)
	}
}

func TestSphericityUndefinedForSmallSamples(t *testing.T) {
	// n <= c leaves the covariance singular; the test must opt out
	// rather than report a bogus p-value.
	scores := [][]float64{
		{1, 2, 3, 4},
		{2, 1, 4, 3},
		{3, 4, 1, 2},
	}
	sph := checkSphericity(scores, helmert(4))
	if !math.IsNaN(sph.P) {
		t.Errorf("p = %v, want NaN for n <= c", sph.P)
	}
	if sph.Violated() {
		t.Error("an undefined test must never trigger the correction")
	}
}
