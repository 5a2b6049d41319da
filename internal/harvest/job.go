package harvest

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/turbolytics/harvester/internal"
)

// Job describes a single harvest of one source. Jobs are rebuilt from the
// registry on every run and never persisted by the driver.
type Job struct {
	SourceName string            `json:"section"`
	BaseURL    string            `json:"baseURL"`
	Request    string            `json:"records"`
	OutputDir  string            `json:"outputDir"`
	Protocol   internal.Protocol `json:"hProtocol"`
}

// URL is the first request of the harvest.
func (j Job) URL() string {
	return j.BaseURL + j.Request
}

type Result struct {
	Records int
	Deleted int
	Pages   int
}

// Engine performs the protocol exchange for a job, including pagination, and
// stages the raw responses under the job's output directory. An error means
// the returned result must not be trusted.
type Engine interface {
	Harvest(ctx context.Context, job Job) (Result, error)
}

type EngineFunc func(ctx context.Context, job Job) (Result, error)

func (f EngineFunc) Harvest(ctx context.Context, job Job) (Result, error) {
	return f(ctx, job)
}

// Outcome is the terminal state of one source in a run.
type Outcome struct {
	Source   internal.Source
	State    State
	Request  string
	Result   Result
	Err      error
	Started  time.Time
	Finished time.Time
}

// WriteJobs dumps jobs in the job-list format used by earlier tooling.
func WriteJobs(w io.Writer, jobs []Job) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if jobs == nil {
		jobs = []Job{}
	}
	return enc.Encode(map[string][]Job{
		"record": jobs,
	})
}
