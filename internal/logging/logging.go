// Package logging holds the process logger shared by the API server.
package logging

import (
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the process logger. Components derive their own with L.With.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// Configure sets level and output format on L. Unknown levels fall back to info.
func Configure(level, format string) {
	L = New(os.Stderr, level, format)
}

// New builds a logger writing to w.
func New(w io.Writer, level, format string) *clog.Logger {
	logger := clog.NewWithOptions(w, clog.Options{ReportTimestamp: true})
	lvl, err := clog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = clog.InfoLevel
	}
	logger.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(clog.JSONFormatter)
	}
	return logger
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) *clog.Logger {
	return L.With("component", name)
}
