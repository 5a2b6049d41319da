package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/catalog"
	"github.com/turbolytics/harvester/internal/request"
)

var (
	ErrNoEngine          = errors.New("harvest engine is required")
	ErrOutputDirMissing  = errors.New("output directory does not exist")
	ErrEnginePanic       = errors.New("harvest engine panicked")
	ErrNegativeCount     = errors.New("harvest engine returned a negative record count")
	ErrInvalidSourceConf = errors.New("invalid source configuration")
)

// BuildJob turns a source into its job descriptor. Unsupported protocols
// return request.ErrUnsupportedProtocol.
func BuildJob(src internal.Source, from internal.TemporalFilter) (Job, error) {
	req, err := request.Build(src, from)
	if err != nil {
		return Job{}, err
	}
	return Job{
		SourceName: src.Name,
		BaseURL:    src.Endpoint,
		Request:    req,
		OutputDir:  src.RawDir,
		Protocol:   src.Protocol,
	}, nil
}

type Option func(*Driver)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

func WithEngine(engine Engine) Option {
	return func(d *Driver) {
		d.engine = engine
	}
}

// WithConcurrency bounds the number of sources harvested at once. Values
// below one mean sequential.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		d.concurrency = n
	}
}

// WithTimeout bounds a single source's harvest. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.timeout = timeout
	}
}

func WithTemporalFilter(from internal.TemporalFilter) Option {
	return func(d *Driver) {
		d.from = from
	}
}

type Driver struct {
	engine      Engine
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
	from        internal.TemporalFilter

	mu     sync.RWMutex
	order  []string
	states map[string]*FSM
}

func New(opts ...Option) (*Driver, error) {
	d := &Driver{
		logger:      zap.NewNop(),
		concurrency: 1,
		states:      make(map[string]*FSM),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.engine == nil {
		return nil, ErrNoEngine
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	return d, nil
}

// Jobs builds the job descriptor of every source in the registry. Sources
// that cannot be built are returned in errs keyed by name.
func (d *Driver) Jobs(reg *internal.Registry) (jobs []Job, errs map[string]error) {
	errs = make(map[string]error)
	for _, src := range reg.Sources() {
		job, err := BuildJob(src, d.from)
		if err != nil {
			errs[src.Name] = err
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errs
}

// Run harvests every source in the registry once and returns the report.
// Per-source failures are recorded in the report; Run itself never fails.
func (d *Driver) Run(ctx context.Context, reg *internal.Registry) *catalog.Report {
	sources := reg.Sources()
	report := &catalog.Report{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		From:      d.from.String(),
	}
	l := d.logger.With(zap.String("run_id", report.RunID))

	l.Info("starting harvest",
		zap.Int("sources", len(sources)),
		zap.Int("concurrency", d.concurrency),
		zap.String("from", d.from.String()),
		zap.Duration("timeout", d.timeout),
	)

	fsms := d.track(sources, l)

	// every task owns one slot, so no locking is needed on outcomes
	outcomes := make([]Outcome, len(sources))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			outcomes[i] = d.harvest(ctx, src, fsms[i], l.With(zap.String("source", src.Name)))
			return nil
		})
	}
	g.Wait()

	for _, o := range outcomes {
		report.Entries = append(report.Entries, entry(o))
	}
	report.EndTime = time.Now()
	report.Completed = true

	s := report.Summary()
	l.Info("harvest complete",
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("records", s.Records),
		zap.Duration("duration", report.EndTime.Sub(report.StartTime)),
	)
	return report
}

func (d *Driver) harvest(ctx context.Context, src internal.Source, fsm *FSM, l *zap.Logger) (out Outcome) {
	out = Outcome{
		Source:  src,
		Started: time.Now(),
	}
	defer func() {
		out.State = fsm.Current()
		out.Finished = time.Now()
	}()

	fsm.Transition(StateBuilding)
	job, err := BuildJob(src, d.from)
	if errors.Is(err, request.ErrUnsupportedProtocol) {
		l.Warn("protocol not supported, skipping", zap.String("protocol", string(src.Protocol)))
		fsm.Transition(StateSkipped)
		return out
	}
	if err != nil {
		l.Error("invalid source configuration", zap.Error(err))
		out.Err = fmt.Errorf("%w: %w", ErrInvalidSourceConf, err)
		fsm.Transition(StateFailed)
		return out
	}
	out.Request = job.Request

	fsm.Transition(StateDispatched)
	l.Info("harvesting",
		zap.String("protocol", string(job.Protocol)),
		zap.String("url", job.URL()),
		zap.String("output_dir", job.OutputDir),
	)

	res, err := d.dispatch(ctx, job)
	if err != nil {
		l.Error("harvest failed", zap.Error(err))
		out.Err = err
		fsm.Transition(StateFailed)
		return out
	}

	out.Result = res
	fsm.Transition(StateSucceeded)
	l.Info("harvested",
		zap.Int("records", res.Records),
		zap.Int("deleted", res.Deleted),
		zap.Int("pages", res.Pages),
	)
	return out
}

func (d *Driver) dispatch(ctx context.Context, job Job) (res Result, err error) {
	fi, err := os.Stat(job.OutputDir)
	if err != nil || !fi.IsDir() {
		return res, fmt.Errorf("%w: %q", ErrOutputDirMissing, job.OutputDir)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
	}()

	res, err = d.engine.Harvest(ctx, job)
	if err != nil {
		return Result{}, err
	}
	if res.Records < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeCount, res.Records)
	}
	return res, nil
}

func (d *Driver) track(sources []internal.Source, l *zap.Logger) []*FSM {
	d.mu.Lock()
	defer d.mu.Unlock()

	fsms := make([]*FSM, len(sources))
	d.order = make([]string, len(sources))
	d.states = make(map[string]*FSM, len(sources))
	for i, src := range sources {
		fsms[i] = NewFSM(FSMWithLogger(l.Named("fsm").With(zap.String("source", src.Name))))
		d.order[i] = src.Name
		d.states[src.Name] = fsms[i]
	}
	return fsms
}

type SourceState struct {
	Source string `json:"source"`
	State  State  `json:"state"`
}

// States returns the current state of every source of the latest run.
func (d *Driver) States() []SourceState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]SourceState, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, SourceState{Source: name, State: d.states[name].Current()})
	}
	return out
}

func (d *Driver) State(source string) (State, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fsm, ok := d.states[source]
	if !ok {
		return "", false
	}
	return fsm.Current(), true
}

func entry(o Outcome) catalog.Entry {
	e := catalog.Entry{
		Source:    o.Source.Name,
		Protocol:  string(o.Source.Protocol),
		Request:   o.Request,
		Records:   o.Result.Records,
		Deleted:   o.Result.Deleted,
		Pages:     o.Result.Pages,
		StartTime: o.Started,
		EndTime:   o.Finished,
	}
	switch o.State {
	case StateSucceeded:
		e.Status = catalog.StatusSucceeded
	case StateSkipped:
		e.Status = catalog.StatusSkipped
	default:
		e.Status = catalog.StatusFailed
		if o.Err != nil {
			e.Error = o.Err.Error()
		} else {
			e.Error = fmt.Sprintf("harvest ended in state %s", o.State)
		}
	}
	return e
}
