package cmd

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the logger of a command: JSON at info level normally,
// human readable at debug level with debug set.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot build logger: %w", err)
	}
	return log, nil
}
