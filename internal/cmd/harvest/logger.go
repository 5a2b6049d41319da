package harvest

import (
	"go.uber.org/zap"
)

// newLogger builds the development logger, optionally teeing into logfile.
func newLogger(level, logfile string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	if logfile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logfile)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logfile)
	}
	return cfg.Build()
}
