package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FilesystemWriter persists reports as JSON files.
type FilesystemWriter struct {
	path   string
	logger *zap.Logger
}

func NewFilesystemWriter(path string, logger *zap.Logger) *FilesystemWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemWriter{
		path:   path,
		logger: logger,
	}
}

// Save writes the report to the configured path. The file is replaced
// atomically so readers never observe a partial report.
func (f *FilesystemWriter) Save(report *Report) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	if file, err := os.OpenFile(tempPath, os.O_RDWR, 0644); err == nil {
		file.Sync()
		file.Close()
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return err
	}

	f.logger.Info("report saved",
		zap.String("path", f.path),
		zap.String("run_id", report.RunID),
	)
	return nil
}

func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
