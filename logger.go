package main

import (
	"go.uber.org/zap"
)

// newLogger writes to path so log lines never interleave with the TUI on
// stderr. Development builds log at debug level in console format.
func newLogger(environment, path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if environment != "production" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	return cfg.Build()
}
