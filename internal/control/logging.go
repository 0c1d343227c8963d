package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel parses a single slog level name ("debug", "info", "warn",
// "error", case-insensitive). An empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("control: unrecognised log level %q", name)
	}
}

// ModuleLevels holds a default level plus any per-component overrides
// parsed from a `module=level,...` filter string, the shape the
// JETRELAY_LOG_LEVEL environment variable takes.
type ModuleLevels struct {
	Default slog.Level
	Modules map[string]slog.Level
}

// ParseFilter parses a log-filter string of the form "info" or
// "upstream=debug,engine=warn,info" into a ModuleLevels. A bare level
// with no "=" sets the default (the last one wins); every module=level
// part is a per-module override, wherever it appears. An empty string
// defaults to "info".
func ParseFilter(filter string) (ModuleLevels, error) {
	ml := ModuleLevels{Default: slog.LevelInfo, Modules: make(map[string]slog.Level)}
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return ml, nil
	}

	for _, part := range strings.Split(filter, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		module, levelStr, hasModule := strings.Cut(part, "=")
		level, err := ParseLevel(levelStr)
		if !hasModule {
			level, err = ParseLevel(module)
			if err != nil {
				return ModuleLevels{}, err
			}
			ml.Default = level
			continue
		}
		if err != nil {
			return ModuleLevels{}, err
		}
		ml.Modules[module] = level
	}
	return ml, nil
}

// Level returns the effective level for component, falling back to the
// default when component has no override.
func (ml ModuleLevels) Level(component string) slog.Level {
	if lvl, ok := ml.Modules[component]; ok {
		return lvl
	}
	return ml.Default
}

// Enabled reports whether a record at lvl for component should be logged.
func (ml ModuleLevels) Enabled(component string, lvl slog.Level) bool {
	return lvl >= ml.Level(component)
}

// moduleHandler wraps an slog.Handler, filtering each record against its
// own "component" attribute rather than a single global level.
type moduleHandler struct {
	next   slog.Handler
	levels ModuleLevels
	// component is set by WithAttrs when a "component" attribute is
	// attached via logger.With("component", name), so Enabled can find it
	// without re-scanning every record's attrs.
	component string
}

// NewLogger builds a JSON-handler *slog.Logger honoring ml: every
// .With("component", name) sub-logger is filtered against its own level,
// falling back to ml.Default for anything un-tagged.
func NewLogger(ml ModuleLevels) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&moduleHandler{next: base, levels: ml})
}

func (h *moduleHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.levels.Enabled(h.component, lvl)
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &moduleHandler{next: h.next.WithAttrs(attrs), levels: h.levels, component: component}
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	return &moduleHandler{next: h.next.WithGroup(name), levels: h.levels, component: h.component}
}
