package arbor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/petrijr/arbor/internal/ctxlog"
)

// Logger returns the logger of the engine performing the current action.
// Leaf callbacks use it to log with the run id attached. Outside a run it
// returns slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	return ctxlog.FromContext(ctx)
}

// NewLogger creates a text logger on stderr, leaving stdout to the
// commands being run. It standardizes the "error" key to "err".
func NewLogger(level slog.Level) *slog.Logger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// ParseLevel parses "debug", "info", "warn" or "error". An empty string is
// info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}
