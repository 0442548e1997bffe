package acquire

import (
	"fmt"
	"io"
)

// Progress receives a line per identifier as the run goes.
type Progress interface {
	Started(index, total int, id string)
	Finished(index, total int, id string, outcome Outcome, tally Summary)
}

type nopProgress struct{}

func (nopProgress) Started(int, int, string)                    {}
func (nopProgress) Finished(int, int, string, Outcome, Summary) {}

// ConsoleProgress prints one line per state change, indices are one based.
type ConsoleProgress struct {
	Out io.Writer
}

func (p ConsoleProgress) Started(index, total int, id string) {
	fmt.Fprintf(p.Out, "[%d/%d] Fetching data for %s...\n", index, total, id)
}

func (p ConsoleProgress) Finished(index, total int, id string, outcome Outcome, tally Summary) {
	mark := "✓"
	switch outcome.Kind {
	case KindSkipped:
		mark = "-"
	case KindEmpty:
		mark = "○"
	case KindTimedOut, KindErrored:
		mark = "✗"
	}
	fmt.Fprintf(
		p.Out,
		"[%d/%d] %s %s %s (ok %d, empty %d, failed %d)\n",
		index, total, mark, id, outcome,
		tally.Success, tally.Empty, tally.TimedOut+tally.Errored,
	)
}
