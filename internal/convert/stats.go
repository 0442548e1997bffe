package convert

import (
	"sort"
	"strconv"

	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/record"

	"github.com/jedib0t/go-pretty/v6/table"
)

type FieldStat struct {
	Total     int
	Null      int
	NonNull   int
	Zero      int
	EmptyMap  int
	EmptyList int
}

func (s FieldStat) Empty() int {
	return s.EmptyMap + s.EmptyList
}

type CategoryStat struct {
	Present int
	Zero    int
	Missing int
}

type Stats struct {
	Records    int
	Unreadable int
	Fields     map[string]*FieldStat
	Categories map[string]*CategoryStat
}

func NewStats() *Stats {
	stats := &Stats{
		Fields:     map[string]*FieldStat{},
		Categories: map[string]*CategoryStat{},
	}
	for _, category := range Categories {
		stats.Categories[category] = &CategoryStat{}
	}
	return stats
}

// these nested objects are counted as a whole instead of per key
var opaqueFields = map[string]bool{
	"where_trader_bets_most":    true,
	record.FieldCategoryMetrics: true,
}

func isZero(value any) bool {
	switch v := value.(type) {
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	case float32:
		return v == 0
	}
	return false
}

func (s *Stats) field(name string) *FieldStat {
	stat, ok := s.Fields[name]
	if !ok {
		stat = &FieldStat{}
		s.Fields[name] = stat
	}
	return stat
}

func (s *Stats) value(name string, value any) {
	stat := s.field(name)
	stat.Total++
	if value == nil {
		stat.Null++
		return
	}
	stat.NonNull++
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			stat.EmptyMap++
		}
	case []any:
		if len(v) == 0 {
			stat.EmptyList++
		}
	case []string:
		if len(v) == 0 {
			stat.EmptyList++
		}
	default:
		if isZero(v) {
			stat.Zero++
		}
	}
}

func (s *Stats) walk(prefix string, data map[string]any) {
	for key, value := range data {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if m, ok := value.(map[string]any); ok && !opaqueFields[key] {
			s.walk(name, m)
			continue
		}
		s.value(name, value)
	}
}

func (s *Stats) categories(metrics map[string]any) {
	for _, metric := range CategoryMetrics {
		raw, ok := metrics[metric]
		if !ok {
			continue
		}
		values := nested(raw)
		for _, category := range Categories {
			stat := s.Categories[category]
			value, ok := values[category]
			switch {
			case !ok:
				stat.Missing++
			case value == nil || isZero(value):
				stat.Zero++
			default:
				stat.Present++
			}
		}
	}
}

// Add counts one record.
func (s *Stats) Add(rec record.Record) {
	s.Records++
	s.walk("", rec)
	if metrics, ok := rec[record.FieldCategoryMetrics].(map[string]any); ok && len(metrics) > 0 {
		s.categories(metrics)
	}
}

// Collect reads every record in store.
func Collect(store record.Store, tel telemetry.API) (*Stats, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("stats", tel)

	ids, err := store.List()
	if err != nil {
		return nil, err
	}
	stats := NewStats()
	for _, id := range ids {
		rec, err := store.Read(id)
		if err != nil {
			tel.ReportWarning(report_convert_read, id, err)
			stats.Unreadable++
			continue
		}
		stats.Add(rec)
	}
	return stats, nil
}

func (s *Stats) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Stats) FieldTable() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"field", "null", "non-null", "zero", "empty"})
	for _, name := range s.FieldNames() {
		stat := s.Fields[name]
		t.AppendRow(table.Row{name, stat.Null, stat.NonNull, stat.Zero, stat.Empty()})
	}
	t.AppendFooter(table.Row{"records", strconv.Itoa(s.Records), "", "", ""})
	return t.Render()
}

func (s *Stats) CategoryTable() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"category", "present", "zero", "missing"})
	for _, category := range Categories {
		stat := s.Categories[category]
		t.AppendRow(table.Row{category, stat.Present, stat.Zero, stat.Missing})
	}
	return t.Render()
}
