package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CronFlag is the persisted switch deciding whether maintenance runs. It
// survives across invocations; a missing file counts as enabled, matching
// the default written on first install.
type CronFlag struct {
	path string
}

// NewCronFlag creates a flag persisted at the given path
func NewCronFlag(path string) *CronFlag {
	return &CronFlag{path: path}
}

// Enabled reads the persisted flag
func (f *CronFlag) Enabled() (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read cron flag: %w", err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// SetEnabled persists the flag
func (f *CronFlag) SetEnabled(enabled bool) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	value := "0"
	if enabled {
		value = "1"
	}
	if err := os.WriteFile(f.path, []byte(value+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write cron flag: %w", err)
	}
	return nil
}
