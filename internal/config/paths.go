package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".widgetchat"

// Paths holds resolved filesystem paths for widgetchat data.
type Paths struct {
	Base   string // ~/.widgetchat
	Config string // ~/.widgetchat/config.yaml
	Data   string // ~/.widgetchat/data
	Logs   string // ~/.widgetchat/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If WIDGETCHAT_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("WIDGETCHAT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the identity database location for the configured
// backend, honoring an explicit storage.path.
func (p Paths) StoragePath(s StorageConfig) string {
	if s.Path != "" {
		return s.Path
	}
	switch s.Backend {
	case "bolt":
		return filepath.Join(p.Data, "identity.bolt")
	case "memory":
		return ""
	default:
		return filepath.Join(p.Data, "identity.db")
	}
}
