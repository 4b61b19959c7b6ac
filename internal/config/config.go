// Package config resolves host-side defaults from environment
// variables. The tool is stateless between invocations (spec §6:
// "Persisted state: none"), so unlike the teacher's .env-file loader
// this reads only the process environment — no file on disk carries
// state across runs.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Defaults holds the environment-resolved defaults a CLI invocation
// falls back to when a flag is not given explicitly.
type Defaults struct {
	// Speed is the default probe speed name ("low", "medium", "high").
	Speed string
	// VID/PID are the probe's vendor/product IDs, zero when unset.
	// There is no built-in VID/PID table: the CLI needs these or its
	// -vid/-pid flags to open a probe.
	VID, PID uint16
	// LogLevel mirrors wlog.EnvLevel for callers that want to read it
	// without importing logrus directly.
	LogLevel string
}

const (
	envSpeed    = "WLINK_SPEED"
	envVID      = "WLINK_VID"
	envPID      = "WLINK_PID"
	envLogLevel = "WLINK_LOG_LEVEL"
)

var (
	resolved     *Defaults
	resolvedOnce bool
)

// Load resolves Defaults from the environment. Subsequent calls return
// the cached result, mirroring the teacher's load-once config cache.
func Load() *Defaults {
	if resolved != nil && resolvedOnce {
		return resolved
	}

	d := &Defaults{Speed: "medium"}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv(envSpeed))); v != "" {
		d.Speed = v
	}
	if v := os.Getenv(envVID); v != "" {
		if parsed, err := strconv.ParseUint(stripHexPrefix(v), 16, 16); err == nil {
			d.VID = uint16(parsed)
		}
	}
	if v := os.Getenv(envPID); v != "" {
		if parsed, err := strconv.ParseUint(stripHexPrefix(v), 16, 16); err == nil {
			d.PID = uint16(parsed)
		}
	}
	d.LogLevel = os.Getenv(envLogLevel)

	resolved = d
	resolvedOnce = true
	return d
}

func stripHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return s
}
