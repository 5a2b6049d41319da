package internal

import (
	"errors"
	"fmt"
	"time"
)

// ReservedSection is the control section of a harvest config. It is never
// treated as a data centre.
const ReservedSection = "CCIN"

type Protocol string

const (
	ProtocolOAIPMH Protocol = "OAI-PMH"
	ProtocolCSW    Protocol = "OGC-CSW"
)

var (
	ErrEmptySourceName     = errors.New("source name must not be empty")
	ErrDuplicateSource     = errors.New("duplicate source")
	ErrInvalidTemporalFrom = errors.New("invalid from timestamp")
)

// Source is the configuration of a single data centre.
type Source struct {
	Name            string   `yaml:"-" json:"name"`
	Protocol        Protocol `yaml:"protocol" json:"protocol"`
	Endpoint        string   `yaml:"source" json:"source"`
	MetadataKeyword string   `yaml:"mdkw" json:"mdkw,omitempty"`
	Set             string   `yaml:"set" json:"set,omitempty"`
	RawDir          string   `yaml:"raw" json:"raw"`
	ProcessedDir    string   `yaml:"mmd" json:"mmd"`
}

// Dirs returns the output directories the source needs before harvesting.
func (s Source) Dirs() []string {
	var dirs []string
	for _, d := range []string{s.RawDir, s.ProcessedDir} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Registry is the ordered, read-only set of sources for a run.
type Registry struct {
	sources []Source
	index   map[string]int
}

func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{
		index: make(map[string]int, len(sources)),
	}
	for _, s := range sources {
		if s.Name == "" {
			return nil, ErrEmptySourceName
		}
		if s.Name == ReservedSection {
			continue
		}
		if _, ok := r.index[s.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, s.Name)
		}
		r.index[s.Name] = len(r.sources)
		r.sources = append(r.sources, s)
	}
	return r, nil
}

func (r *Registry) Len() int {
	return len(r.sources)
}

// Sources returns a copy of the sources in configuration order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Get(name string) (Source, bool) {
	i, ok := r.index[name]
	if !ok {
		return Source{}, false
	}
	return r.sources[i], true
}

// OAI-PMH datestamp granularities (3.3.2).
var temporalLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

// TemporalFilter is the run-wide lower bound of an incremental harvest. The
// zero value means a full harvest.
type TemporalFilter struct {
	raw  string
	from time.Time
}

func ParseTemporalFilter(s string) (TemporalFilter, error) {
	if s == "" {
		return TemporalFilter{}, nil
	}
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TemporalFilter{raw: s, from: t}, nil
		}
	}
	return TemporalFilter{}, fmt.Errorf("%w: %q (want YYYY-MM-DD or YYYY-MM-DDThh:mm:ssZ)", ErrInvalidTemporalFrom, s)
}

func (f TemporalFilter) IsZero() bool {
	return f.raw == ""
}

// String returns the timestamp as given by the operator.
func (f TemporalFilter) String() string {
	return f.raw
}

func (f TemporalFilter) Time() time.Time {
	return f.from
}
