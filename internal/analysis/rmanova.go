package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"physiostat/domain/core"
)

// EffectResult carries the fit statistics of one ANOVA term.
type EffectResult struct {
	Name         string
	SS           float64
	SSError      float64
	DF1          float64
	DF2          float64
	F            float64
	P            float64 // the surfaced p-value; Greenhouse-Geisser corrected when Corrected is set
	PUncorrected float64
	PartialEta2  float64
	Sphericity   *Sphericity // nil when the term has fewer than 3 levels
	Corrected    bool
}

// ModelFit is the result of fitting one metric's repeated-measures
// design. It carries the metric name as a lookup key only; the raw data
// stays with the Design.
type ModelFit struct {
	Metric  core.MetricName
	N       int
	Effects []EffectResult

	// PooledSD and PooledDF come from the cell-means model on the same
	// data and feed the post-hoc standardized effect sizes.
	PooledSD float64
	PooledDF float64
}

// Effect looks up a term by name.
func (m *ModelFit) Effect(name string) *EffectResult {
	for i := range m.Effects {
		if m.Effects[i].Name == name {
			return &m.Effects[i]
		}
	}
	return nil
}

// OmnibusP is the p-value gating post-hoc comparisons: the interaction
// term for two-way designs, the single main effect otherwise.
func (m *ModelFit) OmnibusP() float64 {
	return m.Effects[len(m.Effects)-1].P
}

// FitRM fits a one- or two-way repeated-measures ANOVA to a complete
// design. Sphericity is checked for every term with more than two
// levels; when Mauchly's test rejects, the Greenhouse-Geisser corrected
// p-value is the one surfaced.
func FitRM(d *Design) (*ModelFit, error) {
	if d.A() < 2 {
		return nil, core.NewModelFitError(d.Metric, fmt.Errorf("factor %s has fewer than 2 levels", d.FactorA.Name))
	}
	if d.TwoWay() {
		return fitTwoWay(d)
	}
	return fitOneWay(d)
}

func fitOneWay(d *Design) (*ModelFit, error) {
	n, k := d.N(), d.A()
	fn, fk := float64(n), float64(k)

	var gm float64
	for _, row := range d.Y {
		for _, v := range row {
			gm += v
		}
	}
	gm /= fn * fk

	var ssTotal, ssSubj, ssA float64
	for _, row := range d.Y {
		var ps float64
		for _, v := range row {
			ps += v
			ssTotal += (v - gm) * (v - gm)
		}
		ps /= fk
		ssSubj += fk * (ps - gm) * (ps - gm)
	}
	for i := 0; i < k; i++ {
		var ai float64
		for _, row := range d.Y {
			ai += row[i]
		}
		ai /= fn
		ssA += fn * (ai - gm) * (ai - gm)
	}
	ssErr := ssTotal - ssSubj - ssA

	eff, err := buildEffect(d.FactorA.Name, d.Metric, ssA, ssErr, fk-1, (fk-1)*(fn-1))
	if err != nil {
		return nil, err
	}
	if k > 2 {
		sph := checkSphericity(d.Y, helmert(k))
		applySphericity(eff, sph)
	}

	fit := &ModelFit{Metric: d.Metric, N: n, Effects: []EffectResult{*eff}}
	fit.PooledSD, fit.PooledDF = pooledResidual(d)
	return fit, nil
}

func fitTwoWay(d *Design) (*ModelFit, error) {
	n, a, b := d.N(), d.A(), d.B()
	fn, fa, fb := float64(n), float64(a), float64(b)

	var gm float64
	for _, row := range d.Y {
		for _, v := range row {
			gm += v
		}
	}
	gm /= fn * fa * fb

	// Marginal means.
	subj := make([]float64, n)
	am := make([]float64, a)
	bm := make([]float64, b)
	cell := make([]float64, a*b)
	pa := make([][]float64, n) // participant x A, collapsed over B
	pb := make([][]float64, n) // participant x B, collapsed over A
	for s, row := range d.Y {
		pa[s] = make([]float64, a)
		pb[s] = make([]float64, b)
		for i := 0; i < a; i++ {
			for j := 0; j < b; j++ {
				v := row[i*b+j]
				subj[s] += v
				am[i] += v
				bm[j] += v
				cell[i*b+j] += v
				pa[s][i] += v
				pb[s][j] += v
			}
		}
		subj[s] /= fa * fb
		for i := range pa[s] {
			pa[s][i] /= fb
		}
		for j := range pb[s] {
			pb[s][j] /= fa
		}
	}
	for i := range am {
		am[i] /= fn * fb
	}
	for j := range bm {
		bm[j] /= fn * fa
	}
	for c := range cell {
		cell[c] /= fn
	}

	var ssTotal float64
	for _, row := range d.Y {
		for _, v := range row {
			ssTotal += (v - gm) * (v - gm)
		}
	}
	var ssSubj float64
	for _, ps := range subj {
		ssSubj += fa * fb * (ps - gm) * (ps - gm)
	}
	var ssA float64
	for _, m := range am {
		ssA += fn * fb * (m - gm) * (m - gm)
	}
	var ssB float64
	for _, m := range bm {
		ssB += fn * fa * (m - gm) * (m - gm)
	}
	var ssAB float64
	for i := 0; i < a; i++ {
		for j := 0; j < b; j++ {
			dev := cell[i*b+j] - am[i] - bm[j] + gm
			ssAB += fn * dev * dev
		}
	}
	var ssAS float64
	for s := 0; s < n; s++ {
		for i := 0; i < a; i++ {
			dev := pa[s][i] - subj[s] - am[i] + gm
			ssAS += fb * dev * dev
		}
	}
	var ssBS float64
	for s := 0; s < n; s++ {
		for j := 0; j < b; j++ {
			dev := pb[s][j] - subj[s] - bm[j] + gm
			ssBS += fa * dev * dev
		}
	}
	ssABS := ssTotal - ssSubj - ssA - ssB - ssAB - ssAS - ssBS
	if ssABS < 0 {
		ssABS = 0
	}

	effA, err := buildEffect(d.FactorA.Name, d.Metric, ssA, ssAS, fa-1, (fa-1)*(fn-1))
	if err != nil {
		return nil, err
	}
	effB, err := buildEffect(d.FactorB.Name, d.Metric, ssB, ssBS, fb-1, (fb-1)*(fn-1))
	if err != nil {
		return nil, err
	}
	interName := d.FactorA.Name + ":" + d.FactorB.Name
	effAB, err := buildEffect(interName, d.Metric, ssAB, ssABS, (fa-1)*(fb-1), (fa-1)*(fb-1)*(fn-1))
	if err != nil {
		return nil, err
	}

	if a > 2 {
		applySphericity(effA, checkSphericity(pa, helmert(a)))
	}
	if b > 2 {
		applySphericity(effB, checkSphericity(pb, helmert(b)))
	}
	if (a-1)*(b-1) > 1 {
		applySphericity(effAB, checkSphericity(d.Y, kronecker(helmert(a), helmert(b))))
	}

	fit := &ModelFit{
		Metric:  d.Metric,
		N:       n,
		Effects: []EffectResult{*effA, *effB, *effAB},
	}
	fit.PooledSD, fit.PooledDF = pooledResidual(d)
	return fit, nil
}

func buildEffect(name string, metric core.MetricName, ss, ssErr, df1, df2 float64) (*EffectResult, error) {
	msErr := ssErr / df2
	if msErr <= 0 || math.IsNaN(msErr) {
		return nil, core.NewModelFitError(metric,
			fmt.Errorf("term %s has zero residual variance", name))
	}
	f := (ss / df1) / msErr
	p := 1 - distuv.F{D1: df1, D2: df2}.CDF(f)
	return &EffectResult{
		Name:         name,
		SS:           ss,
		SSError:      ssErr,
		DF1:          df1,
		DF2:          df2,
		F:            f,
		P:            p,
		PUncorrected: p,
		PartialEta2:  ss / (ss + ssErr),
	}, nil
}

// applySphericity attaches Mauchly's test to a term and, when the test
// rejects, replaces the surfaced p-value with the Greenhouse-Geisser
// corrected one.
func applySphericity(eff *EffectResult, sph Sphericity) {
	s := sph
	eff.Sphericity = &s
	if !sph.Violated() {
		return
	}
	df1 := eff.DF1 * sph.EpsilonGG
	df2 := eff.DF2 * sph.EpsilonGG
	eff.P = 1 - distuv.F{D1: df1, D2: df2}.CDF(eff.F)
	eff.Corrected = true
}

// pooledResidual fits the cell-means model on the same data and returns
// its residual standard deviation and degrees of freedom (N - cells).
// This is the denominator of the post-hoc standardized effect sizes.
func pooledResidual(d *Design) (sd, df float64) {
	n, cells := d.N(), d.Cells()
	var ss float64
	for c := 0; c < cells; c++ {
		var mean float64
		for s := 0; s < n; s++ {
			mean += d.Y[s][c]
		}
		mean /= float64(n)
		for s := 0; s < n; s++ {
			dev := d.Y[s][c] - mean
			ss += dev * dev
		}
	}
	df = float64(n*cells - cells)
	return math.Sqrt(ss / df), df
}
