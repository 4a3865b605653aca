package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"

	"github.com/roach88/bitstrat/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the command logger: text on stderr, plus JSON lines
// appended to cfg.LogFile when one is configured. --verbose forces debug.
func newLogger(cfg *config.Config, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	text := slog.NewTextHandler(stderr, handlerOpts)

	if cfg.LogFile == "" {
		return slog.New(text), nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.LogFile, err)
	}
	handler := slogmulti.Fanout(text, slog.NewJSONHandler(f, handlerOpts))
	return slog.New(handler), f, nil
}
