package config

import (
	"os"
	"path/filepath"
)

// Home returns the taskweave home directory, defaulting to ~/.taskweave but
// overridable with the TASKWEAVE_HOME environment variable. Adapted from
// govega's Home/DefaultDBPath/WorkspacePath helpers.
func Home() string {
	if v := os.Getenv("TASKWEAVE_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskweave")
}

// DefaultDBPath returns the default SQLite database path used by
// store.NewSQLiteStore when store.backend is "sqlite" (the default).
func DefaultDBPath() string {
	return filepath.Join(Home(), "taskweave.db")
}

// DefaultWorkDir returns the default shared task working directory, the
// root `cmd.Dir` for task runtime processes.
func DefaultWorkDir() string {
	return filepath.Join(Home(), "work")
}

// EnsureHome creates the taskweave home and work directories if missing.
func EnsureHome() error {
	return os.MkdirAll(DefaultWorkDir(), 0o755)
}
