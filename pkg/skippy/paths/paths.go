// Package paths resolves the per-user data layout under ~/.Skippy.
// Every file the daemon touches lives below the data root:
//
//	Skippy.json   configuration
//	Skippy.log    plain-text log
//	daemon.pid    pid file
//	skippy.sock   IPC socket
//	context.json  persistent context items
//	memory/       SQLite databases (memory.db, cron.db)
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the data directory name under the user's home.
const DirName = ".Skippy"

// DataDir returns the absolute path of the data root, creating nothing.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// EnsureDataDir creates the data root and the memory subdirectory if
// missing and returns the root path.
func EnsureDataDir() (string, error) {
	root, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(root, "memory"), 0o755); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	return root, nil
}

// ConfigFile returns the path of Skippy.json under root.
func ConfigFile(root string) string { return filepath.Join(root, "Skippy.json") }

// LogFile returns the path of Skippy.log under root.
func LogFile(root string) string { return filepath.Join(root, "Skippy.log") }

// PIDFile returns the path of daemon.pid under root.
func PIDFile(root string) string { return filepath.Join(root, "daemon.pid") }

// SocketFile returns the path of the IPC socket under root.
func SocketFile(root string) string { return filepath.Join(root, "skippy.sock") }

// ContextFile returns the path of context.json under root.
func ContextFile(root string) string { return filepath.Join(root, "context.json") }

// MemoryDB returns the path of the memory database under root.
func MemoryDB(root string) string { return filepath.Join(root, "memory", "memory.db") }

// CronDB returns the path of the cron database under root.
func CronDB(root string) string { return filepath.Join(root, "memory", "cron.db") }
