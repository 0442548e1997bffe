package acquire

import (
	"fmt"
	"time"

	"hashdive-scraper/internal/channel"
)

// Kind is the terminal state of one identifier in a run.
type Kind string

const (
	// KindSkipped means a record already existed and refetch was off.
	KindSkipped Kind = "skipped"
	// KindSuccess means at least one classification tag was extracted.
	KindSuccess Kind = "success"
	// KindEmpty means the stream was read but nothing classifiable came back.
	KindEmpty Kind = "empty"
	// KindTimedOut means the attempt ran out of time before the stream started.
	KindTimedOut Kind = "timeout"
	// KindErrored covers connection, send, read and persistence failures.
	KindErrored Kind = "error"
)

var Kinds = []Kind{KindSkipped, KindSuccess, KindEmpty, KindTimedOut, KindErrored}

// Persists reports whether a record is written for this outcome. Failed
// attempts never overwrite an earlier record.
func (k Kind) Persists() bool {
	switch k {
	case KindSuccess, KindEmpty:
		return true
	case KindSkipped, KindTimedOut, KindErrored:
		return false
	default:
		panic(fmt.Sprintf("unknown outcome kind %q", string(k)))
	}
}

// Outcome is what happened to one identifier.
type Outcome struct {
	Kind Kind
	// Messages is the number of frames read from the stream.
	Messages int
	Stop     channel.StopReason
	Tags     []string
	Err      error
	Duration time.Duration
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSkipped:
		return "skipped (already exists)"
	case KindSuccess:
		return fmt.Sprintf("saved, %d messages, types %v", o.Messages, o.Tags)
	case KindEmpty:
		return fmt.Sprintf("saved without trader types, %d messages (%s)", o.Messages, o.Stop)
	case KindTimedOut:
		return fmt.Sprintf("timed out: %v", o.Err)
	case KindErrored:
		return fmt.Sprintf("failed: %v", o.Err)
	default:
		return string(o.Kind)
	}
}
