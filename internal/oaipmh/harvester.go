// Package oaipmh harvests OAI-PMH ListRecords responses page by page,
// following resumption tokens.
package oaipmh

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/harvest"
	"github.com/turbolytics/harvester/internal/transport"
)

var (
	ErrTooManyRequests   = errors.New("too many requests")
	ErrMalformedResponse = errors.New("malformed OAI-PMH response")
)

// DefaultMaxRequests prevents endless loops due to broken resumptionToken
// implementations.
const DefaultMaxRequests = 16384

type Option func(*Harvester)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Harvester) {
		h.logger = logger
	}
}

// WithMaxRequests caps the number of pages of one harvest. Zero means no
// limit.
func WithMaxRequests(n int) Option {
	return func(h *Harvester) {
		h.maxRequests = n
	}
}

type Harvester struct {
	logger      *zap.Logger
	maxRequests int
}

func New(opts ...Option) *Harvester {
	h := &Harvester{
		logger:      zap.NewNop(),
		maxRequests: DefaultMaxRequests,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PageKey names the raw file of the n-th response page.
func PageKey(n int) string {
	return fmt.Sprintf("page-%06d.xml", n)
}

// Harvest runs the job's ListRecords request to completion. Every response
// page is written to repo before it is interpreted.
func (h *Harvester) Harvest(ctx context.Context, g transport.Getter, repo internal.Repository, job harvest.Job) (harvest.Result, error) {
	var res harvest.Result
	l := h.logger.With(zap.String("source", job.SourceName))

	link := job.URL()
	for page := 1; ; page++ {
		if h.maxRequests > 0 && page > h.maxRequests {
			return res, fmt.Errorf("%w: stopped after %d pages", ErrTooManyRequests, h.maxRequests)
		}

		body, err := g.Get(ctx, link)
		if err != nil {
			return res, err
		}

		var resp Response
		if err := xml.Unmarshal(body, &resp); err != nil {
			return res, fmt.Errorf("%w: page %d: %w", ErrMalformedResponse, page, err)
		}

		if err := repo.Write(ctx, PageKey(page), bytes.NewReader(body)); err != nil {
			return res, fmt.Errorf("write page %d: %w", page, err)
		}
		res.Pages++

		if err := resp.Err(); err != nil {
			var oerr OAIError
			if errors.As(err, &oerr) && oerr.Code == CodeNoRecordsMatch {
				l.Info("no records match", zap.Int("page", page))
				return res, nil
			}
			return res, err
		}

		records, deleted := resp.Counts()
		res.Records += records
		res.Deleted += deleted

		token := resp.Token()
		l.Debug("page harvested",
			zap.Int("page", page),
			zap.Int("records", records),
			zap.Int("total", res.Records),
			zap.String("complete_list_size", resp.ListRecords.Token.CompleteListSize),
		)
		if token == "" {
			return res, nil
		}

		// resumptionToken is an exclusive argument (3.5)
		link = job.BaseURL + "?verb=ListRecords&resumptionToken=" + url.QueryEscape(token)
	}
}
