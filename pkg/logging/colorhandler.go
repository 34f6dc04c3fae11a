package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"
)

// levelColors maps each slog level to the color it's printed in, the same
// table-of-styles-by-category idea as the teacher's C-syntax keyword/type/
// string color map, repurposed here for log levels instead of tokens.
var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgHiBlack),
	slog.LevelInfo:  color.New(color.FgCyan),
	slog.LevelWarn:  color.New(color.FgYellow, color.Bold),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

// colorHandler is a minimal slog.Handler that renders one colorized line
// per record: "LEVEL time message key=value ...".
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	color  bool
	attrs  []slog.Attr
	groups []string
}

func newColorHandler(out io.Writer, level slog.Level, useColor bool) *colorHandler {
	return &colorHandler{mu: &sync.Mutex{}, out: out, level: level, color: useColor}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	levelText := r.Level.String()
	if h.color {
		if c, ok := levelColors[r.Level]; ok {
			levelText = c.Sprint(levelText)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.out, "%-5s %s %s", levelText, r.Time.Format(time.RFC3339), r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
		return true
	})
	fmt.Fprintln(h.out)

	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}
