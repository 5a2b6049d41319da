package catalog

import (
	"time"

	"github.com/samber/lo"
)

/*
The catalog is the record of a harvest run: one entry per eligible source,
emitted once every source has been attempted. It is the single source of
truth for the outcome of a run.
*/

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// SkippedUnsupported is the detail recorded for sources whose protocol has
// no request strategy.
const SkippedUnsupported = "skipped: unsupported protocol"

type Entry struct {
	Source    string    `json:"source"`
	Protocol  string    `json:"protocol"`
	Status    Status    `json:"status"`
	Records   int       `json:"records"`
	Deleted   int       `json:"deleted"`
	Pages     int       `json:"pages"`
	Request   string    `json:"request,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// Detail is the human readable outcome of the entry.
func (e Entry) Detail() string {
	switch e.Status {
	case StatusFailed:
		return "failed: " + e.Error
	case StatusSkipped:
		if e.Error != "" {
			return SkippedUnsupported + " (" + e.Error + ")"
		}
		return SkippedUnsupported
	}
	return ""
}

type Report struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	From      string    `json:"from,omitempty"`
	Entries   []Entry   `json:"entries"`
	Completed bool      `json:"completed"`
}

func (r *Report) Lookup(source string) (Entry, bool) {
	return lo.Find(r.Entries, func(e Entry) bool {
		return e.Source == source
	})
}

type Summary struct {
	Sources   int `json:"sources"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Records   int `json:"records"`
	Deleted   int `json:"deleted"`
}

func (r *Report) Summary() Summary {
	counts := lo.CountValuesBy(r.Entries, func(e Entry) Status {
		return e.Status
	})
	return Summary{
		Sources:   len(r.Entries),
		Succeeded: counts[StatusSucceeded],
		Failed:    counts[StatusFailed],
		Skipped:   counts[StatusSkipped],
		Records: lo.SumBy(r.Entries, func(e Entry) int {
			return e.Records
		}),
		Deleted: lo.SumBy(r.Entries, func(e Entry) int {
			return e.Deleted
		}),
	}
}
