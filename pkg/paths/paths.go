// Package paths resolves the on-disk layout used by the handler runtime:
// a root directory (default ~/skyclaw) holding data, sessions, and skills.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const envRoot = "SKYCLAW_ROOT"

// Layout holds the resolved runtime directories.
type Layout struct {
	Root     string
	Data     string
	Sessions string
	Skills   string
}

// Resolve returns the runtime layout without touching the filesystem.
// The root comes from SKYCLAW_ROOT when set, otherwise ~/skyclaw.
func Resolve() (*Layout, error) {
	root := strings.TrimSpace(os.Getenv(envRoot))
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, "skyclaw")
	}
	root = filepath.Clean(root)

	return &Layout{
		Root:     root,
		Data:     filepath.Join(root, "data"),
		Sessions: filepath.Join(root, "sessions"),
		Skills:   filepath.Join(root, "skills"),
	}, nil
}

// InitDirs creates every layout directory that does not exist yet.
func (l *Layout) InitDirs() error {
	for _, dir := range []string{l.Root, l.Data, l.Sessions, l.Skills} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// OffsetFile is the offset-store document location under the data dir.
func (l *Layout) OffsetFile() string {
	return filepath.Join(l.Data, "offsets.json")
}
