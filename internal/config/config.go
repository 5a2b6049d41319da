package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turbolytics/harvester/internal"
)

var (
	ErrEmptyConfig   = errors.New("config: no sections")
	ErrNotAMapping   = errors.New("config: top level must be a mapping of section name to settings")
	ErrDuplicateName = errors.New("config: duplicate section")
)

const (
	DefaultConcurrency = 1
	DefaultTimeout     = 30 * time.Minute
	DefaultMaxRequests = 16384
	DefaultRetries     = 8
	DefaultPageSize    = 100
)

type Logger struct {
	Level string `yaml:"level"`
}

type Archive struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// Control holds the run-wide settings of the reserved control section.
type Control struct {
	Logger            Logger        `yaml:"logger"`
	Concurrency       int           `yaml:"concurrency"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRequests       int           `yaml:"max_requests"`
	Retries           *int          `yaml:"retries"`
	PageSize          int           `yaml:"page_size"`
	Report            string        `yaml:"report"`
	Archive           *Archive      `yaml:"archive"`
	RawDir            string        `yaml:"raw"`
	ProcessedDir      string        `yaml:"mmd"`
}

func (c *Control) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Retries == nil {
		r := DefaultRetries
		c.Retries = &r
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
}

// Dirs returns the control section's own output directories.
func (c Control) Dirs() []string {
	var dirs []string
	for _, d := range []string{c.RawDir, c.ProcessedDir} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

type Harvester struct {
	Control Control
	// Sources in document order, without the control section.
	Sources []internal.Source
}

func (h *Harvester) Registry() (*internal.Registry, error) {
	return internal.NewRegistry(h.Sources...)
}

func NewHarvesterFromFile(fpath string) (*Harvester, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	h, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fpath, err)
	}
	return h, nil
}

// Parse decodes a harvest config. Sections keep the order of the document.
func Parse(bs []byte) (*Harvester, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, ErrEmptyConfig
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, ErrNotAMapping
	}

	var h Harvester
	seen := make(map[string]struct{}, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		name := key.Value

		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q (line %d)", ErrDuplicateName, name, key.Line)
		}
		seen[name] = struct{}{}

		if name == internal.ReservedSection {
			if err := value.Decode(&h.Control); err != nil {
				return nil, fmt.Errorf("section %s: %w", name, err)
			}
			continue
		}

		var src internal.Source
		if err := value.Decode(&src); err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
		src.Name = name
		h.Sources = append(h.Sources, src)
	}

	h.Control.applyDefaults()
	return &h, nil
}
