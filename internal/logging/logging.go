// Package logging builds the process logger. Every package logs through a
// *log.Logger handed down from here so the cluster prefix and level apply
// everywhere.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at the given level. An unknown level falls
// back to info and is reported once.
func New(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
		logger.Warn("unknown log level, using info", "level", level)
	}
	logger.SetLevel(lvl)
	return logger
}

// ForCluster returns a logger prefixed with the cluster number.
func ForCluster(base *log.Logger, id int) *log.Logger {
	return base.WithPrefix(fmt.Sprintf("Cluster #%d", id))
}

// Default is the stderr logger used by the manager process and installed as the
// package-level charmbracelet logger.
func Default(level string) *log.Logger {
	logger := New(os.Stderr, level)
	log.SetDefault(logger)
	return logger
}
