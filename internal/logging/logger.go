package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelOff disables a channel entirely.
const LevelOff = slog.Level(1 << 10)

type Config struct {
	Level    string
	Format   string // text, json
	Output   io.Writer
	Channels map[string]string
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Output: os.Stderr,
	}
}

// New builds a logger whose records are filtered per channel. Records
// without a channel attribute use cfg.Level.
func New(cfg Config) (*slog.Logger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	base, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	levels := make(map[string]slog.Level, len(cfg.Channels))
	lowest := base
	for name, s := range cfg.Channels {
		lvl, err := ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		levels[name] = lvl
		if lvl < lowest {
			lowest = lvl
		}
	}

	opts := &slog.HandlerOptions{Level: lowest}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	case "", "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	return slog.New(NewChannelHandler(handler, base, levels)), nil
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Channel returns a child logger bound to the named channel.
func Channel(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(ChannelKey, name)
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}
