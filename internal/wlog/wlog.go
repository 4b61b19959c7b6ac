// Package wlog provides the structured logger shared by the probe
// stack. It wraps logrus the way a debug-probe host tool uses it: one
// package-level logger, field-scoped children per session/chip, level
// driven by a single environment variable.
package wlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// EnvLevel is the environment variable that overrides the default log
// level (spec §6: "Environment variables: log level override only").
const EnvLevel = "WLINK_LOG_LEVEL"

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if lvl, ok := os.LookupEnv(EnvLevel); ok {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(parsed)
		}
	}
	return l
}

// Logger is the package-level entry point; callers scope it with
// WithField/WithFields for a given probe session or chip instance.
var Logger = base

// Session returns a logger scoped to one probe session, tagged with the
// probe variant once known.
func Session(variant string) *logrus.Entry {
	return Logger.WithField("variant", variant)
}

// Chip returns a logger scoped to an attached chip instance.
func Chip(family string, chipID uint32) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"family":   family,
		"chip_id":  chipID,
	})
}
