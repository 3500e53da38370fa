package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"physiostat/domain/core"
	"physiostat/domain/study"
)

func openTempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bundle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBundle(t *testing.T) *study.Bundle {
	t.Helper()
	cond := study.ConditionFactor()
	tp := study.Factor{Name: "time", Levels: []study.FactorLevel{
		{Raw: "rest", Label: "Baseline"},
		{Raw: "post", Label: "Post"},
	}}

	fragility := &study.TidyTable{
		Name:    "fragility",
		Factors: []study.Factor{cond, tp},
		Metrics: []core.MetricName{"hemol", "mcf"},
		Missing: map[core.MetricName]int{"mcf": 1},
	}
	for _, pid := range []core.ParticipantID{"p01", "p02"} {
		for _, c := range cond.Labels() {
			for _, l := range tp.Labels() {
				row := study.TidyRow{
					Participant: pid,
					Factors:     map[string]string{"condition": c, "time": l},
					Values:      map[core.MetricName]float64{"hemol": 1.5, "mcf": 2.25},
				}
				fragility.Rows = append(fragility.Rows, row)
			}
		}
	}
	// One genuinely absent cell, matching the missing count.
	delete(fragility.Rows[3].Values, "mcf")

	demographics := &study.TidyTable{
		Name:    "demographics",
		Metrics: []core.MetricName{"age", "vo2max"},
		Missing: map[core.MetricName]int{},
		Rows: []study.TidyRow{
			{Participant: "p01", Factors: map[string]string{}, Values: map[core.MetricName]float64{"age": 24, "vo2max": 52.3}},
			{Participant: "p02", Factors: map[string]string{}, Values: map[core.MetricName]float64{"age": 31, "vo2max": 47.8}},
		},
	}

	b, err := study.NewBundle(core.NewRunID(), "study.xlsx", []*study.TidyTable{fragility, demographics})
	require.NoError(t, err)
	return b
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	saved := sampleBundle(t)
	require.NoError(t, s.Save(ctx, saved))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)

	require.Equal(t, saved.RunID, loaded.RunID)
	require.Equal(t, saved.Source, loaded.Source)
	require.Equal(t, saved.Names(), loaded.Names())

	for _, name := range saved.Names() {
		want, err := saved.Table(name)
		require.NoError(t, err)
		got, err := loaded.Table(name)
		require.NoError(t, err)

		require.Equal(t, want.Metrics, got.Metrics, "metric order of %s", name)
		require.Equal(t, want.Factors, got.Factors, "factor declaration of %s", name)
		require.Len(t, got.Rows, len(want.Rows), "row count of %s", name)
		for i := range want.Rows {
			require.Equal(t, want.Rows[i].Participant, got.Rows[i].Participant, "row %d of %s", i, name)
			require.Equal(t, want.Rows[i].Factors, got.Rows[i].Factors, "row %d of %s", i, name)
			require.Equal(t, want.Rows[i].Values, got.Rows[i].Values, "row %d of %s", i, name)
		}
		for m, c := range want.Missing {
			if c > 0 {
				require.Equal(t, c, got.Missing[m], "missing count of %s/%s", name, m)
			}
		}
	}
}

func TestLoadReturnsLatestBundle(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	first := sampleBundle(t)
	require.NoError(t, s.Save(ctx, first))

	second := sampleBundle(t)
	second.CreatedAt = first.CreatedAt.Add(time.Second) // force a strict ordering
	require.NoError(t, s.Save(ctx, second))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, second.RunID, loaded.RunID)
}

func TestLoadEmptyStore(t *testing.T) {
	s := openTempStore(t)
	_, err := s.Load(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrBundleNotFound))
}
