// Package logging wires up the process-wide zerolog logger. The rest of the
// codebase logs through the standard log/zerolog global logger rather than
// passing a logger instance everywhere, matching how small Go services in
// this codebase's lineage tend to wire a single process logger in main.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global zerolog level and output format. When verbose is
// true, the level is lowered to DEBUG and structured JSON is written to
// stdout; otherwise a level-filtered console writer is used so operators
// running a one-off CLI command aren't drowned in JSON.
func Configure(levelName string, verbose bool) {
	level := parseLevel(levelName)
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if verbose {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
}

func parseLevel(name string) zerolog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
