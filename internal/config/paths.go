package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".waygate"

// Paths holds resolved filesystem paths for waygate data.
type Paths struct {
	Base        string // ~/.waygate
	Config      string // ~/.waygate/config.yaml
	Credentials string // ~/.waygate/credentials
	Data        string // ~/.waygate/data
	MediaTmp    string // ~/.waygate/media-tmp
}

// ResolvePaths computes all standard paths from the home directory.
// If WAYGATE_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("WAYGATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:        base,
		Config:      filepath.Join(base, "config.yaml"),
		Credentials: filepath.Join(base, "credentials"),
		Data:        filepath.Join(base, "data"),
		MediaTmp:    filepath.Join(base, "media-tmp"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	dirs := []string{p.Base, p.Credentials, p.Data, p.MediaTmp}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
