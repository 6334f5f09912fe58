package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LoggerType uint8

const (
	ConsoleLogger LoggerType = iota
	JSONLogger
)

// Component loggers. They stay disabled until Init is called so that
// importing packages never write to stdout on their own.
var (
	Root     = zerolog.Nop()
	Dispatch = zerolog.Nop()
	Store    = zerolog.Nop()
	Server   = zerolog.Nop()
)

// Options for Logger
type Options struct {
	// Enable Debug loglevel, default Info
	LogLevel zerolog.Level
	Type     LoggerType
	// Output defaults to os.Stdout.
	Output io.Writer
}

func ParseLogLevel(loglevel string) (zerolog.Level, error) {
	return zerolog.ParseLevel(loglevel)
}

func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	switch opts.Type {
	case ConsoleLogger:
		Root = zerolog.New(newConsoleWriter(out)).Level(opts.LogLevel).
			With().Timestamp().Logger()
	default:
		Root = zerolog.New(out).Level(opts.LogLevel).
			With().Timestamp().Logger()
	}

	Dispatch = Root.With().Str("component", "dispatch").Logger()
	Store = Root.With().Str("component", "store").Logger()
	Server = Root.With().Str("component", "server").Logger()
}

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}

	cw.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}

	cw.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("message: \"%s\" |", i)
	}

	cw.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("\"%s\": ", i)
	}

	cw.FormatFieldValue = func(i interface{}) string {
		return fmt.Sprintf("\"%s\" |", i)
	}

	cw.FormatErrFieldValue = func(i interface{}) string {
		return fmt.Sprintf(" %s |", i)
	}
	return cw
}
