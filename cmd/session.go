package cmd

import (
	"fmt"
	"os"

	"github.com/loopsync/loopsync"
	"go.uber.org/zap"
)

// LoadSession reads a YAML session file. An empty path gives the default
// session. Values that had to fall back to defaults are logged.
func LoadSession(path string, log *zap.Logger) (loopsync.Session, error) {
	if path == "" {
		return loopsync.DefaultSession(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return loopsync.Session{}, fmt.Errorf("cannot read session: %w", err)
	}
	session, fixes, err := loopsync.ParseSession(data)
	if err != nil {
		return loopsync.Session{}, fmt.Errorf("cannot load session %s: %w", path, err)
	}
	for _, fix := range fixes {
		log.Warn("session fallback", zap.String("path", path), zap.String("fix", fix))
	}
	return session, nil
}
