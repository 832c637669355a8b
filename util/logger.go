// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Level tags as they appear in the console output.
var levelTags = map[string]string{
	"err": "[ERR]",
	"wrn": "[WRN]",
	"inf": "[INF]",
	"vrb": "[VRB]",
	"dbg": "[DBG]",
}

var levelColors = map[string]string{
	"err": "\x1b[31m",
	"wrn": "\x1b[33m",
	"inf": "\x1b[32m",
	"vrb": "\x1b[36m",
	"dbg": "\x1b[90m",
}

// Logger writes levelled operator messages through a zerolog console
// writer.  Verbosity filtering happens here so that the VRB/DBG split
// does not depend on zerolog's global level.
type Logger struct {
	level      LogLevel
	output     io.Writer
	timestamps bool
	color      bool

	mu sync.Mutex
	zl zerolog.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = errors only, 1 = normal, 2 = verbose, 3 = debug) to
// stdout.  Colour is enabled when stdout is a terminal.
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stdout,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
		color:      term.IsTerminal(int(os.Stdout.Fd())),
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.rebuild()
	l.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stdout).  Colour
// is turned off for anything that is not a terminal.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.color = false
	if f, ok := w.(*os.File); ok {
		l.color = term.IsTerminal(int(f.Fd()))
	}
	l.rebuild()
	l.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("inf", format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("wrn", format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write("vrb", format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write("dbg", format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("err", format, args...)
}

func (l *Logger) write(tag, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.zl.Log().
		Str(zerolog.LevelFieldName, tag).
		Msg(fmt.Sprintf(format, args...))
}

// rebuild recreates the zerolog pipeline.  Callers hold l.mu (or own
// l exclusively during construction).
func (l *Logger) rebuild() {
	cw := zerolog.ConsoleWriter{
		Out:        l.output,
		NoColor:    !l.color,
		TimeFormat: "15:04:05.000",
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			zerolog.MessageFieldName,
		},
		FormatLevel: l.formatLevel,
	}
	if !l.timestamps {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	zctx := zerolog.New(cw).With()
	if l.timestamps {
		zctx = zctx.Timestamp()
	}
	l.zl = zctx.Logger()
}

func (l *Logger) formatLevel(i interface{}) string {
	raw, _ := i.(string)
	raw = strings.ToLower(raw)
	tag, ok := levelTags[raw]
	if !ok {
		return "[???]"
	}
	if l.color {
		return levelColors[raw] + tag + "\x1b[0m"
	}
	return tag
}
