package utils

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the root logger from the log section. Output defaults to
// stderr. Unknown levels fall back to info.
func NewLogger(s Settings, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	level := hclog.LevelFromString(s.Log.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "keyspace",
		Level:      level,
		Output:     output,
		JSONFormat: s.Log.JSON,
	})
}
