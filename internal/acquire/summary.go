package acquire

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary counts the outcomes of a run. Total is the number of identifiers
// left after offset and limit were applied.
type Summary struct {
	Total     int
	Attempted int
	Skipped   int
	Success   int
	Empty     int
	TimedOut  int
	Errored   int
	Elapsed   time.Duration
}

func (s *Summary) Add(o Outcome) {
	switch o.Kind {
	case KindSkipped:
		s.Skipped++
		return
	case KindSuccess:
		s.Success++
	case KindEmpty:
		s.Empty++
	case KindTimedOut:
		s.TimedOut++
	case KindErrored:
		s.Errored++
	}
	s.Attempted++
}

// Processed is the number of identifiers that reached a terminal outcome.
func (s Summary) Processed() int {
	return s.Attempted + s.Skipped
}

func (s Summary) Count(kind Kind) int {
	switch kind {
	case KindSkipped:
		return s.Skipped
	case KindSuccess:
		return s.Success
	case KindEmpty:
		return s.Empty
	case KindTimedOut:
		return s.TimedOut
	case KindErrored:
		return s.Errored
	default:
		return 0
	}
}

func (s Summary) Table() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Summary")
	t.AppendHeader(table.Row{"Outcome", "Count"})
	t.AppendRow(table.Row{"total", s.Total})
	t.AppendRow(table.Row{"attempted", s.Attempted})
	t.AppendSeparator()
	for _, kind := range Kinds {
		t.AppendRow(table.Row{string(kind), s.Count(kind)})
	}
	if s.Elapsed > 0 {
		t.AppendFooter(table.Row{"elapsed", s.Elapsed.Round(time.Second).String()})
	}
	return t.Render()
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"total=%d attempted=%d skipped=%d success=%d empty=%d timeout=%d error=%d",
		s.Total, s.Attempted, s.Skipped, s.Success, s.Empty, s.TimedOut, s.Errored,
	)
}
