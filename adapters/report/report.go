// Package report renders the statistics-stage results into a markdown
// summary and an HTML rendering of it.
package report

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"physiostat/domain/core"
	"physiostat/internal/analysis"
)

// Section is one fitted analysis in the report: a domain table,
// optionally narrowed to a split level (e.g. one limb).
type Section struct {
	Title string
	Batch *analysis.BatchResult
}

// Report is the assembled output of one statistics run.
type Report struct {
	RunID        core.RunID
	Source       string
	Sections     []Section
	Descriptives map[core.TableName][]analysis.Summary
}

// Markdown renders the report.
func (r *Report) Markdown() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Analysis report\n\n")
	fmt.Fprintf(&b, "Run `%s`, source `%s`.\n\n", r.RunID, r.Source)

	for _, sec := range r.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Title)
		writeBatch(&b, sec.Batch)
	}

	if len(r.Descriptives) > 0 {
		fmt.Fprintf(&b, "## Appendix: descriptives\n\n")
		var names []core.TableName
		for n := range r.Descriptives {
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
		for _, n := range names {
			fmt.Fprintf(&b, "### %s\n\n", n)
			writeDescriptives(&b, r.Descriptives[n])
		}
	}
	return []byte(b.String())
}

func writeBatch(b *strings.Builder, batch *analysis.BatchResult) {
	metrics := sortedKeys(batch.Fits)
	if len(metrics) > 0 {
		fmt.Fprintf(b, "| Metric | Effect | F | df | p | pes | Sphericity |\n")
		fmt.Fprintf(b, "|---|---|---|---|---|---|---|\n")
		for _, m := range metrics {
			fit := batch.Fits[m]
			for _, eff := range fit.Effects {
				sph := "-"
				if eff.Sphericity != nil && !math.IsNaN(eff.Sphericity.P) {
					sph = fmt.Sprintf("W=%.3f, p=%.3f", eff.Sphericity.W, eff.Sphericity.P)
					if eff.Corrected {
						sph += fmt.Sprintf(" (GG eps=%.3f)", eff.Sphericity.EpsilonGG)
					}
				}
				fmt.Fprintf(b, "| %s | %s | %.3f | %.2f, %.2f | %s%s | %.3f | %s |\n",
					m, eff.Name, eff.F, dfShown(eff).d1, dfShown(eff).d2,
					fmtP(eff.P), analysis.Stars(eff.P), eff.PartialEta2, sph)
			}
		}
		fmt.Fprintf(b, "\n")
	}

	paired := sortedKeys(batch.Paired)
	if len(paired) > 0 {
		fmt.Fprintf(b, "| Metric | Test | Statistic | p | Effect |\n")
		fmt.Fprintf(b, "|---|---|---|---|---|\n")
		for _, m := range paired {
			pf := batch.Paired[m]
			stat := fmt.Sprintf("t(%.0f)=%.3f", pf.DF, pf.Statistic)
			if math.IsNaN(pf.DF) {
				stat = fmt.Sprintf("W=%.1f", pf.Statistic)
			}
			fmt.Fprintf(b, "| %s | %s | %s | %s%s | %s=%.3f |\n",
				m, pf.TestName(), stat, fmtP(pf.P), analysis.Stars(pf.P), pf.EffectName, pf.EffectSize)
		}
		fmt.Fprintf(b, "\n")
	}

	contrastMetrics := sortedKeys(batch.Contrasts)
	if len(contrastMetrics) > 0 {
		fmt.Fprintf(b, "Significant post-hoc contrasts (adjusted p < .05):\n\n")
		fmt.Fprintf(b, "| Metric | Contrast | Estimate | SE | p (adj) | g |\n")
		fmt.Fprintf(b, "|---|---|---|---|---|---|\n")
		for _, m := range contrastMetrics {
			for _, c := range batch.Contrasts[m] {
				fmt.Fprintf(b, "| %s | %s | %.3f | %.3f | %s%s | %.3f |\n",
					m, c.Label, c.Estimate, c.SE, fmtP(c.PAdjusted), c.Stars, c.G)
			}
		}
		fmt.Fprintf(b, "\n")
	}

	failures := sortedKeys(batch.Failures)
	if len(failures) > 0 {
		fmt.Fprintf(b, "Metrics excluded from fitting:\n\n")
		for _, m := range failures {
			fmt.Fprintf(b, "- `%s`: %v\n", m, batch.Failures[m])
		}
		fmt.Fprintf(b, "\n")
	}
}

func writeDescriptives(b *strings.Builder, sums []analysis.Summary) {
	fmt.Fprintf(b, "| Metric | n | Mean | SD | Median | IQR | Skew | Kurtosis |\n")
	fmt.Fprintf(b, "|---|---|---|---|---|---|---|---|\n")
	for _, s := range sums {
		fmt.Fprintf(b, "| %s | %d | %.3f | %.3f | %.3f | %.3f | %.2f | %.2f |\n",
			s.Metric, s.N, s.Mean, s.SD, s.Median, s.Q75-s.Q25, s.Skewness, s.Kurtosis)
	}
	fmt.Fprintf(b, "\n")
}

type dfPair struct{ d1, d2 float64 }

// dfShown reports the degrees of freedom actually used for the surfaced
// p-value, i.e. epsilon-scaled when a correction was applied.
func dfShown(eff analysis.EffectResult) dfPair {
	if eff.Corrected && eff.Sphericity != nil {
		return dfPair{eff.DF1 * eff.Sphericity.EpsilonGG, eff.DF2 * eff.Sphericity.EpsilonGG}
	}
	return dfPair{eff.DF1, eff.DF2}
}

func fmtP(p float64) string {
	if p < 0.001 {
		return "<.001"
	}
	return fmt.Sprintf("%.3f", p)
}

func sortedKeys[V any](m map[core.MetricName]V) []core.MetricName {
	out := make([]core.MetricName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RenderHTML converts the markdown report to a standalone HTML page.
func RenderHTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: "Analysis report",
	})
	return markdown.ToHTML(md, p, renderer)
}

// FileSink writes reports under a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// WriteReport writes <name>.md and, when html is non-empty, <name>.html.
func (s *FileSink) WriteReport(ctx context.Context, name string, md []byte, html []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name+".md"), md, 0o644); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	if len(html) > 0 {
		if err := os.WriteFile(filepath.Join(s.dir, name+".html"), html, 0o644); err != nil {
			return fmt.Errorf("failed to write HTML report: %w", err)
		}
	}
	return nil
}
