package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// consoleHandler renders records through slog.TextHandler with the level
// compressed to a three-letter tag in front of the message. The tag is
// colored only when the destination is a terminal, so piped and redirected
// output stays free of escape codes.
type consoleHandler struct {
	*slog.TextHandler
	color bool
}

func newConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *consoleHandler {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &consoleHandler{TextHandler: slog.NewTextHandler(w, opts), color: color}
}

// levelTag maps the full slog level range, custom levels included, onto the
// four console tags.
func levelTag(l slog.Level) (tag, color string) {
	switch {
	case l < slog.LevelInfo:
		return "DBG", "\033[36m"
	case l < slog.LevelWarn:
		return "INF", "\033[32m"
	case l < slog.LevelError:
		return "WRN", "\033[33m"
	default:
		return "ERR", "\033[31m"
	}
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	tag, c := levelTag(r.Level)
	if h.color {
		r.Message = c + tag + "\033[0m " + r.Message
	} else {
		r.Message = tag + " " + r.Message
	}
	return h.TextHandler.Handle(ctx, r)
}
