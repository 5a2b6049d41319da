// Package engine dispatches harvest jobs to the protocol harvesters and
// wires their transport and output repositories.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/csw"
	"github.com/turbolytics/harvester/internal/harvest"
	"github.com/turbolytics/harvester/internal/local"
	"github.com/turbolytics/harvester/internal/oaipmh"
	"github.com/turbolytics/harvester/internal/s3"
	"github.com/turbolytics/harvester/internal/transport"
)

var ErrUnsupportedProtocol = errors.New("engine: protocol not supported")

// Ensure Engine implements the driver's interface.
var _ harvest.Engine = (*Engine)(nil)

// Harvester is one protocol implementation.
type Harvester interface {
	Harvest(ctx context.Context, g transport.Getter, repo internal.Repository, job harvest.Job) (harvest.Result, error)
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithClient(c *transport.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithHarvester registers or replaces the harvester for a protocol.
func WithHarvester(p internal.Protocol, h Harvester) Option {
	return func(e *Engine) {
		e.harvesters[p] = h
	}
}

// WithArchive mirrors every raw page to S3, below the source name.
func WithArchive(r *s3.Repository) Option {
	return func(e *Engine) {
		e.archive = r
	}
}

type Engine struct {
	logger     *zap.Logger
	client     *transport.Client
	archive    *s3.Repository
	harvesters map[internal.Protocol]Harvester
}

func New(opts ...Option) *Engine {
	e := &Engine{
		logger:     zap.NewNop(),
		harvesters: make(map[internal.Protocol]Harvester),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = transport.New(transport.WithLogger(e.logger.Named("transport")))
	}
	if _, ok := e.harvesters[internal.ProtocolOAIPMH]; !ok {
		e.harvesters[internal.ProtocolOAIPMH] = oaipmh.New(oaipmh.WithLogger(e.logger.Named("oaipmh")))
	}
	if _, ok := e.harvesters[internal.ProtocolCSW]; !ok {
		e.harvesters[internal.ProtocolCSW] = csw.New(csw.WithLogger(e.logger.Named("csw")))
	}
	return e
}

func (e *Engine) Harvest(ctx context.Context, job harvest.Job) (harvest.Result, error) {
	h, ok := e.harvesters[job.Protocol]
	if !ok {
		return harvest.Result{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, job.Protocol)
	}
	return h.Harvest(ctx, e.client.Session(), e.repository(job), job)
}

func (e *Engine) repository(job harvest.Job) internal.Repository {
	raw := local.New(job.OutputDir, local.WithLogger(e.logger.Named("local")))
	if e.archive == nil {
		return raw
	}
	return internal.Tee{raw, e.archive.Under(job.SourceName)}
}
