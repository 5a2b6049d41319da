package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/catalog"
	"github.com/turbolytics/harvester/internal/request"
)

// fakeEngine answers per source name and records every call.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []Job
	results map[string]Result
	errs    map[string]error
}

func (f *fakeEngine) Harvest(ctx context.Context, job Job) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.mu.Unlock()

	if err, ok := f.errs[job.SourceName]; ok {
		return Result{}, err
	}
	return f.results[job.SourceName], nil
}

func (f *fakeEngine) called(source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.calls {
		if j.SourceName == source {
			return true
		}
	}
	return false
}

func mustRegistry(t *testing.T, sources ...internal.Source) *internal.Registry {
	t.Helper()
	r, err := internal.NewRegistry(sources...)
	require.NoError(t, err)
	return r
}

func mustDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	d, err := New(opts...)
	require.NoError(t, err)
	return d
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestRunEndToEndScenario(t *testing.T) {
	dir := t.TempDir()
	from, err := internal.ParseTemporalFilter("2024-01-01T00:00:00Z")
	require.NoError(t, err)

	reg := mustRegistry(t,
		internal.Source{
			Name:            "S1",
			Protocol:        internal.ProtocolOAIPMH,
			Endpoint:        "https://s1.example.org/oai",
			MetadataKeyword: "iso",
			Set:             "gcw",
			RawDir:          dir,
		},
		internal.Source{
			Name:     "S2",
			Protocol: internal.ProtocolCSW,
			Endpoint: "https://s2.example.org/csw",
			RawDir:   dir,
		},
	)

	engine := &fakeEngine{
		results: map[string]Result{"S1": {Records: 5, Pages: 1}},
		errs:    map[string]error{"S2": errors.New("connection reset by peer")},
	}
	d := mustDriver(t, WithEngine(engine), WithTemporalFilter(from))

	report := d.Run(context.Background(), reg)
	require.True(t, report.Completed)
	require.Len(t, report.Entries, 2)

	s1, ok := report.Lookup("S1")
	require.True(t, ok)
	assert.Equal(t, catalog.StatusSucceeded, s1.Status)
	assert.Equal(t, 5, s1.Records)
	assert.Equal(t, "?verb=ListRecords&metadataPrefix=iso&set=gcw&from=2024-01-01T00:00:00Z", s1.Request)

	s2, ok := report.Lookup("S2")
	require.True(t, ok)
	assert.Equal(t, catalog.StatusFailed, s2.Status)
	assert.Contains(t, s2.Error, "connection reset by peer")
	assert.Equal(t, request.CSWGetRecords, s2.Request)

	require.Len(t, engine.calls, 2)
	assert.Equal(t, "https://s1.example.org/oai", engine.calls[0].BaseURL)
	assert.Equal(t, internal.ProtocolOAIPMH, engine.calls[0].Protocol)
	assert.Equal(t, dir, engine.calls[0].OutputDir)
}

func TestRunFailureDoesNotSuppressLaterSources(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t,
		internal.Source{Name: "A", Protocol: internal.ProtocolCSW, RawDir: dir},
		internal.Source{Name: "B", Protocol: internal.ProtocolCSW, RawDir: dir},
	)
	engine := &fakeEngine{
		results: map[string]Result{"B": {Records: 0}},
		errs:    map[string]error{"A": errors.New("malformed response")},
	}
	report := mustDriver(t, WithEngine(engine)).Run(context.Background(), reg)

	a, _ := report.Lookup("A")
	b, _ := report.Lookup("B")
	assert.Equal(t, catalog.StatusFailed, a.Status)
	assert.Equal(t, catalog.StatusSucceeded, b.Status)
	assert.Equal(t, 0, b.Records)
}

func TestRunSkipsUnsupportedProtocol(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t,
		internal.Source{Name: "OS", Protocol: "OpenSearch", RawDir: dir},
		internal.Source{Name: "CSW", Protocol: internal.ProtocolCSW, RawDir: dir},
	)
	engine := &fakeEngine{results: map[string]Result{"CSW": {Records: 3}}}
	d := mustDriver(t, WithEngine(engine))
	report := d.Run(context.Background(), reg)

	assert.False(t, engine.called("OS"))

	e, ok := report.Lookup("OS")
	require.True(t, ok)
	assert.Equal(t, catalog.StatusSkipped, e.Status)
	assert.Equal(t, catalog.SkippedUnsupported, e.Detail())

	st, ok := d.State("OS")
	require.True(t, ok)
	assert.Equal(t, StateSkipped, st)
}

func TestRunNeverReportsReservedSection(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t,
		internal.Source{Name: internal.ReservedSection, Protocol: internal.ProtocolCSW, RawDir: dir},
		internal.Source{Name: "NPI", Protocol: internal.ProtocolCSW, RawDir: dir},
	)
	engine := &fakeEngine{}
	report := mustDriver(t, WithEngine(engine)).Run(context.Background(), reg)

	_, ok := report.Lookup(internal.ReservedSection)
	assert.False(t, ok)
	assert.False(t, engine.called(internal.ReservedSection))
	assert.Len(t, report.Entries, 1)
}

func TestRunConfigurationError(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t,
		internal.Source{Name: "NOKW", Protocol: internal.ProtocolOAIPMH, RawDir: dir},
		internal.Source{Name: "OK", Protocol: internal.ProtocolOAIPMH, MetadataKeyword: "dif", RawDir: dir},
	)
	engine := &fakeEngine{results: map[string]Result{"OK": {Records: 2}}}
	report := mustDriver(t, WithEngine(engine)).Run(context.Background(), reg)

	assert.False(t, engine.called("NOKW"))
	e, _ := report.Lookup("NOKW")
	assert.Equal(t, catalog.StatusFailed, e.Status)
	assert.Contains(t, e.Error, "metadata keyword")

	ok, _ := report.Lookup("OK")
	assert.Equal(t, 2, ok.Records)
}

func TestRunMissingOutputDir(t *testing.T) {
	reg := mustRegistry(t,
		internal.Source{Name: "S", Protocol: internal.ProtocolCSW, RawDir: filepath.Join(t.TempDir(), "missing")},
	)
	engine := &fakeEngine{}
	report := mustDriver(t, WithEngine(engine)).Run(context.Background(), reg)

	assert.False(t, engine.called("S"))
	e, _ := report.Lookup("S")
	assert.Equal(t, catalog.StatusFailed, e.Status)
	assert.Contains(t, e.Error, "output directory does not exist")
}

func TestRunRecoversEnginePanic(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t,
		internal.Source{Name: "P", Protocol: internal.ProtocolCSW, RawDir: dir},
		internal.Source{Name: "Q", Protocol: internal.ProtocolCSW, RawDir: dir},
	)
	engine := EngineFunc(func(ctx context.Context, job Job) (Result, error) {
		if job.SourceName == "P" {
			panic("nil map")
		}
		return Result{Records: 1}, nil
	})
	report := mustDriver(t, WithEngine(engine)).Run(context.Background(), reg)

	p, _ := report.Lookup("P")
	q, _ := report.Lookup("Q")
	assert.Equal(t, catalog.StatusFailed, p.Status)
	assert.Contains(t, p.Error, "panicked")
	assert.Equal(t, catalog.StatusSucceeded, q.Status)
}

func TestRunNegativeCount(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t, internal.Source{Name: "N", Protocol: internal.ProtocolCSW, RawDir: dir})
	engine := EngineFunc(func(ctx context.Context, job Job) (Result, error) {
		return Result{Records: -1}, nil
	})
	report := mustDriver(t, WithEngine(engine)).Run(context.Background(), reg)
	e, _ := report.Lookup("N")
	assert.Equal(t, catalog.StatusFailed, e.Status)
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	reg := mustRegistry(t,
		internal.Source{Name: "SLOW", Protocol: internal.ProtocolCSW, RawDir: dir},
		internal.Source{Name: "FAST", Protocol: internal.ProtocolCSW, RawDir: dir},
	)
	engine := EngineFunc(func(ctx context.Context, job Job) (Result, error) {
		if job.SourceName == "SLOW" {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}
		return Result{Records: 4}, nil
	})
	report := mustDriver(t, WithEngine(engine), WithTimeout(20*time.Millisecond)).Run(context.Background(), reg)

	slow, _ := report.Lookup("SLOW")
	fast, _ := report.Lookup("FAST")
	assert.Equal(t, catalog.StatusFailed, slow.Status)
	assert.Contains(t, slow.Error, context.DeadlineExceeded.Error())
	assert.Equal(t, 4, fast.Records)
}

func TestRunConcurrency(t *testing.T) {
	dir := t.TempDir()
	var sources []internal.Source
	for _, name := range []string{"A", "B", "C", "D", "E", "F"} {
		sources = append(sources, internal.Source{Name: name, Protocol: internal.ProtocolCSW, RawDir: dir})
	}
	reg := mustRegistry(t, sources...)

	var inflight, peak int32
	engine := EngineFunc(func(ctx context.Context, job Job) (Result, error) {
		n := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if job.SourceName == "C" {
			return Result{}, errors.New("boom")
		}
		return Result{Records: len(job.SourceName)}, nil
	})

	report := mustDriver(t, WithEngine(engine), WithConcurrency(2)).Run(context.Background(), reg)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	require.Len(t, report.Entries, 6)
	for i, e := range report.Entries {
		assert.Equal(t, sources[i].Name, e.Source, "report keeps registry order")
		if e.Source == "C" {
			assert.Equal(t, catalog.StatusFailed, e.Status)
			continue
		}
		assert.Equal(t, catalog.StatusSucceeded, e.Status)
		assert.Equal(t, 1, e.Records)
	}
}

func TestJobs(t *testing.T) {
	reg := mustRegistry(t,
		internal.Source{Name: "S1", Protocol: internal.ProtocolOAIPMH, MetadataKeyword: "iso", Endpoint: "https://a/oai", RawDir: "/raw/s1"},
		internal.Source{Name: "S3", Protocol: "Z39.50"},
	)
	d := mustDriver(t, WithEngine(&fakeEngine{}))
	jobs, errs := d.Jobs(reg)

	require.Len(t, jobs, 1)
	assert.Equal(t, Job{
		SourceName: "S1",
		BaseURL:    "https://a/oai",
		Request:    "?verb=ListRecords&metadataPrefix=iso",
		OutputDir:  "/raw/s1",
		Protocol:   internal.ProtocolOAIPMH,
	}, jobs[0])
	assert.ErrorIs(t, errs["S3"], request.ErrUnsupportedProtocol)

	var buf bytes.Buffer
	require.NoError(t, WriteJobs(&buf, jobs))

	var dump map[string][]map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &dump))
	require.Len(t, dump["record"], 1)
	assert.Equal(t, "S1", dump["record"][0]["section"])
	assert.Equal(t, "?verb=ListRecords&metadataPrefix=iso", dump["record"][0]["records"])
	assert.Equal(t, "OAI-PMH", dump["record"][0]["hProtocol"])
}
