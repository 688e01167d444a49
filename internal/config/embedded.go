package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

//go:embed env.sample
var configFS embed.FS

// WriteSampleEnv extracts the embedded env.sample to targetPath. An existing
// file is left alone unless backupExisting is set, in which case it is copied
// to a dated .bak file first. It reports whether a file was written.
func WriteSampleEnv(targetPath string, backupExisting bool) (bool, error) {
	if _, err := os.Stat(targetPath); err == nil {
		if !backupExisting {
			return false, nil
		}

		existing, err := os.ReadFile(targetPath)
		if err != nil {
			return false, fmt.Errorf("failed to read existing file for backup: %w", err)
		}
		backupPath := fmt.Sprintf("%s.%s.bak", targetPath, time.Now().Format("2006-01-02"))
		if err := os.WriteFile(backupPath, existing, 0600); err != nil {
			return false, fmt.Errorf("failed to write backup file: %w", err)
		}
	}

	data, err := configFS.ReadFile("env.sample")
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return false, err
	}

	if err := os.WriteFile(targetPath, data, 0600); err != nil {
		return false, err
	}

	return true, nil
}
