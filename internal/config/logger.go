package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bull/vector-rag/internal/rag"
)

// NewLogger builds a slog logger writing to w. Format "json" selects the
// JSON handler; anything else uses text.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", rag.ErrConfiguration, s)
	}
	return level, nil
}
