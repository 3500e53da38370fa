package study

import (
	"fmt"
	"sort"
	"time"

	"physiostat/domain/core"
)

// Bundle is the canonical handoff between the tidying stage and the
// statistics stage: an immutable set of named tidy tables plus run
// metadata. The statistics stage consumes tables by name and never
// re-derives them from the wide source.
type Bundle struct {
	RunID     core.RunID
	Source    string
	CreatedAt time.Time

	tables map[core.TableName]*TidyTable
}

// NewBundle assembles a bundle from tidy tables. Table names must be
// unique.
func NewBundle(runID core.RunID, source string, tables []*TidyTable) (*Bundle, error) {
	m := make(map[core.TableName]*TidyTable, len(tables))
	for _, t := range tables {
		if _, dup := m[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tidy table %q in bundle", t.Name)
		}
		m[t.Name] = t
	}
	return &Bundle{
		RunID:     runID,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		tables:    m,
	}, nil
}

// Table looks up a tidy table by name.
func (b *Bundle) Table(name core.TableName) (*TidyTable, error) {
	t, ok := b.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTableNotFound, name)
	}
	return t, nil
}

// Names returns the table names in sorted order.
func (b *Bundle) Names() []core.TableName {
	out := make([]core.TableName, 0, len(b.tables))
	for n := range b.tables {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of tables.
func (b *Bundle) Len() int { return len(b.tables) }
