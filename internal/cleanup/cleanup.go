// Package cleanup removes records that carry no trader types, together with
// their message captures.
package cleanup

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/msglog"
	"hashdive-scraper/internal/record"

	"github.com/tcnksm/go-input"
)

const (
	report_scan_read     = "scan.read"
	report_delete_record = "delete.record"
	report_delete_logs   = "delete.logs"
)

var ErrCancelled = errors.New("cleanup cancelled")

type Candidate struct {
	Identifier string
	RecordPath string
	LogDir     string
	// LogFiles is the number of captured messages, zero when there is no capture directory.
	LogFiles int
	HasLogs  bool
}

type Plan struct {
	Scanned    int
	Unreadable []string
	Candidates []Candidate
}

type Confirmer interface {
	// Confirm is asked once before anything is deleted.
	Confirm(count int) (bool, error)
}

// AlwaysConfirm skips the prompt.
type AlwaysConfirm struct{}

func (AlwaysConfirm) Confirm(int) (bool, error) {
	return true, nil
}

// PromptConfirmer asks on the terminal, only "yes" or "y" confirm.
type PromptConfirmer struct {
	UI *input.UI
}

func NewPromptConfirmer(in io.Reader, out io.Writer) PromptConfirmer {
	return PromptConfirmer{UI: &input.UI{Reader: in, Writer: out}}
}

func (p PromptConfirmer) Confirm(count int) (bool, error) {
	answer, err := p.UI.Ask(
		fmt.Sprintf("Delete %d users and their logs? (yes/no)", count),
		&input.Options{Required: true, HideOrder: true, Loop: false},
	)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true, nil
	default:
		return false, nil
	}
}

type Options struct {
	DryRun  bool
	Confirm Confirmer
}

type Report struct {
	DryRun         bool
	Scanned        int
	Unreadable     int
	ToDelete       int
	DeletedRecords int
	DeletedLogs    int
	FailedRecords  int
	FailedLogs     int
	Cancelled      bool
}

type Cleaner struct {
	store record.Store
	logs  msglog.Writer
	tel   telemetry.API
}

func NewCleaner(store record.Store, logs msglog.Writer, tel telemetry.API) Cleaner {
	assert.NotNil(tel)
	return Cleaner{
		store: store,
		logs:  logs,
		tel:   telemetry.NewScopedAPI("cleanup", tel),
	}
}

// Scan reads every record and collects the ones whose trader type list is
// present and empty. Records that cannot be read are counted, never deleted.
func (c Cleaner) Scan() (Plan, error) {
	ids, err := c.store.List()
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Scanned: len(ids)}
	for _, id := range ids {
		rec, err := c.store.Read(id)
		if err != nil {
			c.tel.ReportWarning(report_scan_read, id, err)
			plan.Unreadable = append(plan.Unreadable, id)
			continue
		}
		if !rec.HasNoTags() {
			continue
		}

		candidate := Candidate{
			Identifier: id,
			RecordPath: c.store.Path(id),
			LogDir:     c.logs.Dir(id),
			HasLogs:    c.logs.Exists(id),
		}
		if candidate.HasLogs {
			candidate.LogFiles, _ = c.logs.Count(id)
		}
		plan.Candidates = append(plan.Candidates, candidate)
	}
	return plan, nil
}

// Execute deletes what the plan lists. A dry run deletes nothing and only
// reports what would go. Outside a dry run the confirmer must agree first,
// a refusal returns ErrCancelled with nothing deleted.
func (c Cleaner) Execute(plan Plan, opts Options) (Report, error) {
	report := Report{
		DryRun:     opts.DryRun,
		Scanned:    plan.Scanned,
		Unreadable: len(plan.Unreadable),
		ToDelete:   len(plan.Candidates),
	}
	if len(plan.Candidates) == 0 || opts.DryRun {
		return report, nil
	}

	confirm := opts.Confirm
	if confirm == nil {
		return report, fmt.Errorf("%w: no confirmation available", ErrCancelled)
	}
	ok, err := confirm.Confirm(len(plan.Candidates))
	if err != nil {
		return report, fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		report.Cancelled = true
		return report, ErrCancelled
	}

	for _, candidate := range plan.Candidates {
		err := c.store.Delete(candidate.Identifier)
		if err != nil {
			c.tel.ReportWarning(report_delete_record, candidate.Identifier, err)
			report.FailedRecords++
		} else {
			report.DeletedRecords++
		}

		if !candidate.HasLogs {
			continue
		}
		err = c.logs.Remove(candidate.Identifier)
		if err != nil {
			c.tel.ReportWarning(report_delete_logs, candidate.Identifier, err)
			report.FailedLogs++
		} else {
			report.DeletedLogs++
		}
	}
	return report, nil
}
