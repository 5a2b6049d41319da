package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/turbolytics/harvester/internal"
)

// EnsureDirectories creates every output directory a run needs. It must
// succeed before any source is harvested.
func EnsureDirectories(control Control, reg *internal.Registry, logger *zap.Logger) error {
	if err := ensure(internal.ReservedSection, control.Dirs(), logger); err != nil {
		return err
	}
	for _, src := range reg.Sources() {
		if err := ensure(src.Name, src.Dirs(), logger); err != nil {
			return err
		}
	}
	return nil
}

func ensure(section string, dirs []string, logger *zap.Logger) error {
	for _, dir := range dirs {
		fi, err := os.Stat(dir)
		switch {
		case err == nil && fi.IsDir():
			logger.Debug("using existing directory",
				zap.String("section", section),
				zap.String("path", dir),
			)
			continue
		case err == nil:
			return fmt.Errorf("output directory %q for %s is not a directory", dir, section)
		case !os.IsNotExist(err):
			return fmt.Errorf("output directory %q for %s: %w", dir, section, err)
		}

		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create output directory %q for %s: %w", dir, section, err)
		}
		logger.Info("created directory",
			zap.String("section", section),
			zap.String("path", dir),
		)
	}
	return nil
}
