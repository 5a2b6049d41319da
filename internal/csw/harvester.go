// Package csw harvests OGC Catalogue Service GetRecords results, paging with
// startPosition and maxRecords.
package csw

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/harvest"
	"github.com/turbolytics/harvester/internal/transport"
)

var (
	ErrTooManyRequests   = errors.New("too many requests")
	ErrMalformedResponse = errors.New("malformed CSW response")
	ErrPaginationStalled = errors.New("CSW pagination did not advance")
)

const (
	DefaultPageSize    = 100
	DefaultMaxRequests = 16384
)

type Option func(*Harvester)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Harvester) {
		h.logger = logger
	}
}

func WithPageSize(n int) Option {
	return func(h *Harvester) {
		h.pageSize = n
	}
}

func WithMaxRequests(n int) Option {
	return func(h *Harvester) {
		h.maxRequests = n
	}
}

type Harvester struct {
	logger      *zap.Logger
	pageSize    int
	maxRequests int
}

func New(opts ...Option) *Harvester {
	h := &Harvester{
		logger:      zap.NewNop(),
		pageSize:    DefaultPageSize,
		maxRequests: DefaultMaxRequests,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.pageSize < 1 {
		h.pageSize = DefaultPageSize
	}
	return h
}

func PageKey(n int) string {
	return fmt.Sprintf("page-%06d.xml", n)
}

func (h *Harvester) pageURL(job harvest.Job, start int) string {
	return fmt.Sprintf("%s&startPosition=%d&maxRecords=%d", job.URL(), start, h.pageSize)
}

// Harvest pages through the job's GetRecords result set. Every page is
// written to repo.
func (h *Harvester) Harvest(ctx context.Context, g transport.Getter, repo internal.Repository, job harvest.Job) (harvest.Result, error) {
	var res harvest.Result
	l := h.logger.With(zap.String("source", job.SourceName))

	start := 1
	for page := 1; ; page++ {
		if h.maxRequests > 0 && page > h.maxRequests {
			return res, fmt.Errorf("%w: stopped after %d pages", ErrTooManyRequests, h.maxRequests)
		}

		body, err := g.Get(ctx, h.pageURL(job, start))
		if err != nil {
			return res, err
		}

		resp, err := decode(body)
		var exc ExceptionError
		if errors.As(err, &exc) {
			return res, err
		}
		if err != nil {
			return res, fmt.Errorf("%w: page %d: %w", ErrMalformedResponse, page, err)
		}

		if err := repo.Write(ctx, PageKey(page), bytes.NewReader(body)); err != nil {
			return res, fmt.Errorf("write page %d: %w", page, err)
		}
		res.Pages++

		sr := resp.SearchResults
		res.Records += sr.Returned
		l.Debug("page harvested",
			zap.Int("page", page),
			zap.Int("start", start),
			zap.Int("returned", sr.Returned),
			zap.Int("matched", sr.Matched),
			zap.Int("next", sr.NextRecord),
		)

		// nextRecord is 0 when the result set is exhausted
		if sr.Returned == 0 || sr.NextRecord == 0 || sr.NextRecord > sr.Matched {
			return res, nil
		}
		if sr.NextRecord <= start {
			return res, fmt.Errorf("%w: nextRecord %d after startPosition %d", ErrPaginationStalled, sr.NextRecord, start)
		}
		start = sr.NextRecord
	}
}
