package config

import (
	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
	"github.com/turbolytics/harvester/internal/csw"
	"github.com/turbolytics/harvester/internal/engine"
	"github.com/turbolytics/harvester/internal/harvest"
	"github.com/turbolytics/harvester/internal/oaipmh"
	"github.com/turbolytics/harvester/internal/s3"
	"github.com/turbolytics/harvester/internal/transport"
)

func InitializeEngine(c Control, logger *zap.Logger) (*engine.Engine, error) {
	client := transport.New(
		transport.WithLogger(logger.Named("transport")),
		transport.WithRetries(*c.Retries),
		transport.WithRequestsPerSecond(c.RequestsPerSecond),
	)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClient(client),
		engine.WithHarvester(internal.ProtocolOAIPMH, oaipmh.New(
			oaipmh.WithLogger(logger.Named("oaipmh")),
			oaipmh.WithMaxRequests(c.MaxRequests),
		)),
		engine.WithHarvester(internal.ProtocolCSW, csw.New(
			csw.WithLogger(logger.Named("csw")),
			csw.WithMaxRequests(c.MaxRequests),
			csw.WithPageSize(c.PageSize),
		)),
	}

	if a := c.Archive; a != nil && a.Bucket != "" {
		archive, err := s3.New(
			s3.WithLogger(logger.Named("s3")),
			s3.WithRegion(a.Region),
			s3.WithBucket(a.Bucket),
			s3.WithPrefix(a.Prefix),
			s3.WithEndpoint(a.Endpoint),
			s3.WithForcePathStyle(a.ForcePathStyle),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithArchive(archive))
	}

	return engine.New(opts...), nil
}

func InitializeDriver(c Control, from internal.TemporalFilter, logger *zap.Logger) (*harvest.Driver, error) {
	e, err := InitializeEngine(c, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	return harvest.New(
		harvest.WithLogger(logger),
		harvest.WithEngine(e),
		harvest.WithConcurrency(c.Concurrency),
		harvest.WithTimeout(c.Timeout),
		harvest.WithTemporalFilter(from),
	)
}
