package dot

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
)

var (
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

// NewWithWriter returns a handler printing one mark per conversion to w.
func NewWithWriter(h slog.Handler, w io.Writer) slog.Handler {
	return &dotHandler{
		handler: h,
		stdout:  w,
	}
}

type dotHandler struct {
	handler slog.Handler
	stdout  io.Writer
}

func (h *dotHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *dotHandler) Handle(ctx context.Context, r slog.Record) error {
	switch {
	case r.Message == "converted image":
		_, _ = h.stdout.Write([]byte(yellow(".")))
	case strings.HasPrefix(r.Message, "failed to"):
		_, _ = h.stdout.Write([]byte(red("!")))
	case r.Message == "watching":
		_, _ = h.stdout.Write([]byte(cyan("*")))
	case r.Message == "watch stopped":
		_, _ = h.stdout.Write([]byte("\n"))
	}
	return nil
}

func (h *dotHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dotHandler{handler: h.handler.WithAttrs(attrs), stdout: h.stdout}
}

func (h *dotHandler) WithGroup(name string) slog.Handler {
	return &dotHandler{handler: h.handler.WithGroup(name), stdout: h.stdout}
}
