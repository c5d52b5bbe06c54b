package internal

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level shared by every logger created with [NewLogger].
var logLevel slog.LevelVar

// Creates a logger writing human-readable records to w.
//
// Colour is used only when w is a terminal. Verbose loggers also print the
// source location of each record. The level is shared and changed with
// [SetLogLevel], so loggers created before flag parsing follow it.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      &logLevel,
		AddSource:  verbose,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	})
	return slog.New(handler)
}

// Sets the level of every logger created with [NewLogger].
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// Returns the level selected by the current output modes.
func ModeLevel() slog.Level {
	switch {
	case IsDebug():
		return slog.LevelDebug
	case IsQuiet():
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
