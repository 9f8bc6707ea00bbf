package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDirectories creates the state-store directory and the log
// directory if missing, mode 0700.
func (c *Config) EnsureDirectories() error {
	dirs := map[string]bool{
		filepath.Dir(c.StateDBPath): true,
		c.LogDir:                    true,
	}
	for dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
