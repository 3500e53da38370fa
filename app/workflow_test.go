package app

import (
	"context"
	"strings"
	"testing"

	"physiostat/adapters/report"
	"physiostat/domain/core"
	"physiostat/domain/study"
	"physiostat/internal/analysis"
	"physiostat/internal/reshape"
	"physiostat/internal/testkit"
)

type memReader struct {
	wide *study.WideTable
}

func (r *memReader) ReadWide(ctx context.Context) (*study.WideTable, error) {
	return r.wide, nil
}

type memStore struct {
	bundle *study.Bundle
}

func (s *memStore) Save(ctx context.Context, b *study.Bundle) error {
	s.bundle = b
	return nil
}

func (s *memStore) Load(ctx context.Context) (*study.Bundle, error) {
	if s.bundle == nil {
		return nil, core.ErrBundleNotFound
	}
	return s.bundle, nil
}

func (s *memStore) Close() error { return nil }

type memSink struct {
	name     string
	markdown []byte
	html     []byte
}

func (s *memSink) WriteReport(ctx context.Context, name string, md, html []byte) error {
	s.name, s.markdown, s.html = name, md, html
	return nil
}

func TestWorkflowEndToEnd(t *testing.T) {
	ctx := context.Background()
	wide := testkit.StudyWide(12, 42)
	bundleStore := &memStore{}

	tidy := NewTidyService(&memReader{wide: wide}, bundleStore, "study.xlsx", true, nil)
	bundle, err := tidy.Run(ctx)
	if err != nil {
		t.Fatalf("tidy stage failed: %v", err)
	}
	if bundle.Len() != len(study.Domains()) {
		t.Fatalf("bundle has %d tables, want %d", bundle.Len(), len(study.Domains()))
	}
	if bundleStore.bundle == nil {
		t.Fatal("bundle was not persisted")
	}

	// The enzyme panel: 12 participants x 2 conditions x 3 timepoints,
	// 17 metrics; stacking multiplies the rows out.
	enzymes, err := bundle.Table("enzymes")
	if err != nil {
		t.Fatalf("enzymes table missing: %v", err)
	}
	if got, want := len(enzymes.Rows), 12*2*3; got != want {
		t.Errorf("enzymes rows = %d, want %d", got, want)
	}
	if got := len(enzymes.Metrics); got != 17 {
		t.Errorf("enzymes metrics = %d, want 17", got)
	}
	stacked := reshape.Stack(enzymes)
	if err := stacked.Validate(); err != nil {
		t.Errorf("balanced enzymes table failed validation: %v", err)
	}
	if got, want := len(stacked.Rows), 12*2*3*17; got != want {
		t.Errorf("stacked enzymes rows = %d, want %d", got, want)
	}

	// Strength adds the limb factor: 12 x 2 x 2 x 2 observation units
	// over 10 metrics.
	strength, err := bundle.Table("strength")
	if err != nil {
		t.Fatalf("strength table missing: %v", err)
	}
	if got, want := len(strength.Rows), 12*2*2*2; got != want {
		t.Errorf("strength rows = %d, want %d", got, want)
	}
	if got := len(strength.Metrics); got != 10 {
		t.Errorf("strength metrics = %d, want 10", got)
	}

	// Demographics carries no factors and is descriptives-only.
	demo, err := bundle.Table("demographics")
	if err != nil {
		t.Fatalf("demographics table missing: %v", err)
	}
	if len(demo.Factors) != 0 || len(demo.Rows) != 12 {
		t.Errorf("demographics shape wrong: %d factors, %d rows", len(demo.Factors), len(demo.Rows))
	}

	sink := &memSink{}
	svc := NewAnalysisService(bundleStore, sink, analysis.Options{Workers: 4}, nil)
	rep, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("analysis stage failed: %v", err)
	}

	// Eight plans, with strength split per limb: nine sections.
	if got := len(rep.Sections); got != 9 {
		t.Fatalf("report has %d sections, want 9", got)
	}
	titles := make(map[string]*report.Section)
	for i := range rep.Sections {
		titles[rep.Sections[i].Title] = &rep.Sections[i]
	}
	for _, want := range []string{
		"glycolysis",
		"enzymes",
		"strength (Dominant)",
		"strength (Non-dominant)",
		"fragility: post-exercise condition effect",
		"dose",
	} {
		if _, ok := titles[want]; !ok {
			t.Errorf("section %q missing", want)
		}
	}

	for _, sec := range rep.Sections {
		if len(sec.Batch.Failures) != 0 {
			t.Errorf("section %s has unexpected failures: %v", sec.Title, sec.Batch.Failures)
		}
	}

	// The declared paired plan fits both fragility metrics as paired
	// comparisons, honoring the Wilcoxon override for hemolysis.
	post := titles["fragility: post-exercise condition effect"]
	if post == nil {
		t.Fatal("paired plan section missing")
	}
	hemol, ok := post.Batch.Paired["hemol"]
	if !ok || hemol.Test != study.TestWilcoxon {
		t.Errorf("hemol must use the Wilcoxon test, got %+v", hemol)
	}
	mcf, ok := post.Batch.Paired["mcf"]
	if !ok || mcf.Test != study.TestPairedT {
		t.Errorf("mcf must default to the paired t-test, got %+v", mcf)
	}
	if hemol != nil && hemol.N != 12 {
		t.Errorf("paired n = %d, want 12", hemol.N)
	}

	if got := len(rep.Descriptives); got != len(study.Domains()) {
		t.Errorf("descriptives cover %d tables, want %d", got, len(study.Domains()))
	}

	if sink.name != "analysis" {
		t.Errorf("report written as %q, want \"analysis\"", sink.name)
	}
	md := string(sink.markdown)
	if !strings.Contains(md, "# Analysis report") || !strings.Contains(md, "## enzymes") {
		t.Error("markdown report incomplete")
	}
	if len(sink.html) == 0 {
		t.Error("HTML rendering missing")
	}
}

func TestFilterStackedSourceRows(t *testing.T) {
	// 3 participants x 2 conditions at the Post timepoint, 2 metrics,
	// with one metric knocked out for one unit. SourceRows must count
	// the 6 distinct observation units; dividing the 11 surviving rows
	// by the metric count would round down to 5.
	cond := study.ConditionFactor()
	timeF := study.Factor{Name: "time", Levels: []study.FactorLevel{
		{Raw: "rest", Label: "Baseline"},
		{Raw: "post", Label: "Post"},
	}}
	s := &study.StackedTable{
		Name:    "panel",
		Factors: []study.Factor{cond, timeF},
		Metrics: []core.MetricName{"m1", "m2"},
	}
	for p := 0; p < 3; p++ {
		pid := core.ParticipantID('a' + rune(p))
		for _, c := range cond.Labels() {
			for _, tp := range timeF.Labels() {
				for _, m := range s.Metrics {
					if p == 0 && c == "Control" && tp == "Post" && m == "m2" {
						continue
					}
					s.Rows = append(s.Rows, study.StackedRow{
						Participant: pid,
						Factors:     map[string]string{"condition": c, "time": tp},
						Metric:      m,
						Value:       1,
					})
				}
			}
		}
	}

	post := filterStacked(s, map[string]string{"time": "Post"})
	if got, want := len(post.Rows), 3*2*2-1; got != want {
		t.Fatalf("filtered rows = %d, want %d", got, want)
	}
	if post.SourceRows != 6 {
		t.Errorf("SourceRows = %d, want 6 distinct units", post.SourceRows)
	}
}

func TestTidyServiceFailsFastOnBadValue(t *testing.T) {
	wide := testkit.StudyWide(4, 7)
	wide.Rows[1]["ck_con_rest"] = "not-a-number"

	bundleStore := &memStore{}
	tidy := NewTidyService(&memReader{wide: wide}, bundleStore, "study.xlsx", true, nil)
	if _, err := tidy.Run(context.Background()); err == nil {
		t.Fatal("a malformed cell must abort the tidy stage")
	}
	if bundleStore.bundle != nil {
		t.Error("no bundle may be persisted after a tidy failure")
	}
}

func TestAnalysisServiceRequiresBundle(t *testing.T) {
	svc := NewAnalysisService(&memStore{}, &memSink{}, analysis.Options{}, nil)
	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("an empty store must abort the analysis stage")
	}
}
