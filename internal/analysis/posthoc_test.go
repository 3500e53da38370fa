package analysis

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"strings"
	"testing"

	"physiostat/domain/core"
)

// wobblyTwoWay builds an 8-participant 2x2 design with a real condition
// effect and deterministic per-cell wobble.
func wobblyTwoWay(metric string) *Design {
	d := &Design{
		Metric:  core.MetricName(metric),
		FactorA: threeLevelFactor("condition", "Control", "Oxidative stress"),
		FactorB: threeLevelFactor("time", "Baseline", "Post"),
	}
	for s := 0; s < 8; s++ {
		d.Participants = append(d.Participants, core.ParticipantID('a'+rune(s)))
		row := make([]float64, 4)
		for c := 0; c < 4; c++ {
			condShift := 0.0
			if c >= 2 {
				condShift = 4
			}
			timeShift := float64(c%2) * 1.5
			row[c] = 10 + float64(s)*0.2 + condShift + timeShift + math.Sin(float64(s*5+c*3))*0.8
		}
		d.Y = append(d.Y, row)
	}
	return d
}

func TestPostHocContrasts(t *testing.T) {
	d := wobblyTwoWay("ck")
	fit, err := FitRM(d)
	if err != nil {
		t.Fatalf("FitRM failed: %v", err)
	}

	contrasts, err := PostHoc(d, fit, AdjustSidak)
	if err != nil {
		t.Fatalf("PostHoc failed: %v", err)
	}
	if got, want := len(contrasts), 4*3/2; got != want {
		t.Fatalf("got %d contrasts, want %d", got, want)
	}

	labels := make([]string, len(contrasts))
	for i, c := range contrasts {
		labels[i] = c.Label
		if !strings.Contains(c.Label, " - ") {
			t.Errorf("label %q is not a cell pair", c.Label)
		}
		if c.PAdjusted < c.PRaw-1e-12 {
			t.Errorf("%s: adjusted p %v below raw %v", c.Label, c.PAdjusted, c.PRaw)
		}
		if c.Stars != Stars(c.PAdjusted) {
			t.Errorf("%s: stars %q disagree with adjusted p %v", c.Label, c.Stars, c.PAdjusted)
		}
		if c.DF != 7 {
			t.Errorf("%s: df = %v, want 7", c.Label, c.DF)
		}
	}
	if !sort.StringsAreSorted(labels) {
		t.Errorf("contrasts must be sorted by label, got %v", labels)
	}

	// The cross-condition contrasts carry a ~4-unit shift and must
	// dominate the within-condition ones.
	for _, c := range contrasts {
		if strings.HasPrefix(c.Label, "Control") && strings.Contains(c.Label, "- Oxidative") {
			if c.Estimate > -2 {
				t.Errorf("%s: estimate %v, want strongly negative", c.Label, c.Estimate)
			}
		}
	}
}

func TestPostHocAdjustments(t *testing.T) {
	d := wobblyTwoWay("ldh")
	fit, err := FitRM(d)
	if err != nil {
		t.Fatalf("FitRM failed: %v", err)
	}

	sidak, err := PostHoc(d, fit, AdjustSidak)
	if err != nil {
		t.Fatalf("PostHoc (Sidak) failed: %v", err)
	}
	bonf, err := PostHoc(d, fit, AdjustBonferroni)
	if err != nil {
		t.Fatalf("PostHoc (Bonferroni) failed: %v", err)
	}

	for i := range sidak {
		if sidak[i].Label != bonf[i].Label {
			t.Fatalf("contrast order differs between adjustments")
		}
		// Sidak is uniformly no more conservative than Bonferroni.
		if sidak[i].PAdjusted > bonf[i].PAdjusted+1e-12 {
			t.Errorf("%s: Sidak %v > Bonferroni %v", sidak[i].Label, sidak[i].PAdjusted, bonf[i].PAdjusted)
		}
		if bonf[i].PAdjusted > 1 {
			t.Errorf("%s: Bonferroni p %v exceeds 1", bonf[i].Label, bonf[i].PAdjusted)
		}
	}
}

func TestFilterSignificantIdempotent(t *testing.T) {
	d := wobblyTwoWay("cs")
	fit, err := FitRM(d)
	if err != nil {
		t.Fatalf("FitRM failed: %v", err)
	}
	contrasts, err := PostHoc(d, fit, AdjustSidak)
	if err != nil {
		t.Fatalf("PostHoc failed: %v", err)
	}

	once := FilterSignificant(contrasts, 0.05)
	twice := FilterSignificant(once, 0.05)
	if !reflect.DeepEqual(once, twice) {
		t.Error("FilterSignificant must be idempotent")
	}
	for _, c := range once {
		if c.PAdjusted >= 0.05 {
			t.Errorf("%s survived the filter with p %v", c.Label, c.PAdjusted)
		}
	}
}

func TestPostHocRequiresPooledSD(t *testing.T) {
	d := wobblyTwoWay("bad")
	_, err := PostHoc(d, &ModelFit{Metric: d.Metric}, AdjustSidak)
	if !errors.Is(err, core.ErrModelFitFailure) {
		t.Fatalf("expected ErrModelFitFailure for zero pooled SD, got %v", err)
	}
}

func TestPostHocIdenticalColumns(t *testing.T) {
	// Two cells byte-identical across participants: the contrast must
	// report no evidence, not NaN.
	d := &Design{
		Metric:  "m",
		FactorA: threeLevelFactor("time", "Rest", "Post", "P24"),
	}
	for s := 0; s < 5; s++ {
		v := 10 + float64(s) + math.Cos(float64(s*3))*0.5
		d.Participants = append(d.Participants, core.ParticipantID('a'+rune(s)))
		d.Y = append(d.Y, []float64{v, v, v + 2 + float64(s%2)})
	}
	fit, err := FitRM(d)
	if err != nil {
		t.Fatalf("FitRM failed: %v", err)
	}
	contrasts, err := PostHoc(d, fit, AdjustSidak)
	if err != nil {
		t.Fatalf("PostHoc failed: %v", err)
	}
	var found bool
	for _, c := range contrasts {
		if c.Label == "Post - Rest" || c.Label == "Rest - Post" {
			found = true
			if c.T != 0 || c.PAdjusted != 1 {
				t.Errorf("identical columns: t=%v p=%v, want 0 and 1", c.T, c.PAdjusted)
			}
		}
		if math.IsNaN(c.T) || math.IsNaN(c.PAdjusted) {
			t.Errorf("%s: NaN statistics", c.Label)
		}
	}
	if !found {
		t.Fatal("Rest/Post contrast missing")
	}
}
