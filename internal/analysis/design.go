package analysis

import (
	"fmt"
	"math"
	"strings"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

// Design is one metric's complete within-subject layout: a dense
// participants x cells matrix over the declared factor level order.
// Cells run B-fastest: cell = ai*b + bi. A one-factor design has an
// empty FactorB and b == 1.
type Design struct {
	Metric       core.MetricName
	Participants []core.ParticipantID
	FactorA      study.Factor
	FactorB      study.Factor
	Y            [][]float64
}

// A returns the level count of the first within factor.
func (d *Design) A() int { return len(d.FactorA.Levels) }

// B returns the level count of the second within factor (1 if absent).
func (d *Design) B() int {
	if len(d.FactorB.Levels) == 0 {
		return 1
	}
	return len(d.FactorB.Levels)
}

// Cells returns the number of condition x timepoint cells.
func (d *Design) Cells() int { return d.A() * d.B() }

// N returns the participant count.
func (d *Design) N() int { return len(d.Participants) }

// TwoWay reports whether a second within factor is present.
func (d *Design) TwoWay() bool { return len(d.FactorB.Levels) > 0 }

// CellLabel renders the display label of one cell, e.g.
// "Control Baseline" or just "Control" for one-factor designs.
func (d *Design) CellLabel(cell int) string {
	ai := cell / d.B()
	if !d.TwoWay() {
		return d.FactorA.Levels[ai].Label
	}
	bi := cell % d.B()
	return d.FactorA.Levels[ai].Label + " " + d.FactorB.Levels[bi].Label
}

// Column extracts one cell's values across participants.
func (d *Design) Column(cell int) []float64 {
	out := make([]float64, d.N())
	for s := range d.Y {
		out[s] = d.Y[s][cell]
	}
	return out
}

// BuildDesign assembles the dense design matrix for one metric's stacked
// rows. Every participant must cover every factor cell exactly once;
// missing cells fail with ErrIncompleteDesign and duplicate cells with
// ErrModelFitFailure, so a degrees-of-freedom mismatch can never slip
// through silently.
func BuildDesign(metric core.MetricName, rows []study.StackedRow, factorA, factorB study.Factor) (*Design, error) {
	d := &Design{Metric: metric, FactorA: factorA, FactorB: factorB}
	cells := d.Cells()

	index := make(map[core.ParticipantID]int)
	for _, r := range rows {
		ai := factorA.LevelIndex(r.Factors[factorA.Name])
		if ai < 0 {
			return nil, core.NewModelFitError(metric,
				fmt.Errorf("row has undeclared %s level %q", factorA.Name, r.Factors[factorA.Name]))
		}
		bi := 0
		if d.TwoWay() {
			bi = factorB.LevelIndex(r.Factors[factorB.Name])
			if bi < 0 {
				return nil, core.NewModelFitError(metric,
					fmt.Errorf("row has undeclared %s level %q", factorB.Name, r.Factors[factorB.Name]))
			}
		}
		cell := ai*d.B() + bi

		si, ok := index[r.Participant]
		if !ok {
			si = len(d.Participants)
			index[r.Participant] = si
			d.Participants = append(d.Participants, r.Participant)
			row := make([]float64, cells)
			for i := range row {
				row[i] = math.NaN()
			}
			d.Y = append(d.Y, row)
		}
		if !math.IsNaN(d.Y[si][cell]) {
			return nil, core.NewModelFitError(metric,
				fmt.Errorf("participant %s has duplicate observation in cell %s", r.Participant, d.CellLabel(cell)))
		}
		d.Y[si][cell] = r.Value
	}

	var missing []string
	for si, pid := range d.Participants {
		for cell := 0; cell < cells; cell++ {
			if math.IsNaN(d.Y[si][cell]) {
				missing = append(missing, fmt.Sprintf("%s/%s", pid, d.CellLabel(cell)))
			}
		}
	}
	if len(missing) > 0 {
		return nil, core.NewIncompleteDesignError(metric,
			fmt.Sprintf("missing cells %s", strings.Join(missing, ", ")))
	}
	if d.N() < 2 {
		return nil, core.NewIncompleteDesignError(metric, "fewer than 2 participants")
	}
	return d, nil
}
