package logging

import (
	"context"
	"log/slog"
)

// ChannelKey is the attribute that binds a logger to a channel.
const ChannelKey = "channel"

// ChannelHandler gates records by the minimum level configured for the
// channel the logger was bound to.
type ChannelHandler struct {
	handler slog.Handler
	base    slog.Level
	levels  map[string]slog.Level
	channel string
}

func NewChannelHandler(handler slog.Handler, base slog.Level, levels map[string]slog.Level) *ChannelHandler {
	if levels == nil {
		levels = make(map[string]slog.Level)
	}
	return &ChannelHandler{
		handler: handler,
		base:    base,
		levels:  levels,
	}
}

func (h *ChannelHandler) minLevel() slog.Level {
	if h.channel != "" {
		if lvl, ok := h.levels[h.channel]; ok {
			return lvl
		}
	}
	return h.base
}

func (h *ChannelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	floor := h.minLevel()
	if floor >= LevelOff {
		return false
	}
	return level >= floor && h.handler.Enabled(ctx, level)
}

func (h *ChannelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *ChannelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	channel := h.channel
	for _, a := range attrs {
		if a.Key == ChannelKey {
			channel = a.Value.String()
		}
	}
	return &ChannelHandler{
		handler: h.handler.WithAttrs(attrs),
		base:    h.base,
		levels:  h.levels,
		channel: channel,
	}
}

func (h *ChannelHandler) WithGroup(name string) slog.Handler {
	return &ChannelHandler{
		handler: h.handler.WithGroup(name),
		base:    h.base,
		levels:  h.levels,
		channel: h.channel,
	}
}
