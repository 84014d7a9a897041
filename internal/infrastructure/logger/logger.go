package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

const logFlags = log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

func init() {
	Info = log.New(os.Stdout, "INFO: ", logFlags)
	Error = log.New(os.Stdout, "ERROR: ", logFlags)
	Debug = log.New(io.Discard, "DEBUG: ", logFlags)
	Warn = log.New(os.Stdout, "WARN: ", logFlags)
}

// SetLevel enables Debug output for "debug" and silences Info for "warn"
// and "error". Unknown levels behave like "info".
func SetLevel(level string) {
	SetOutput(os.Stdout, level)
}

// SetOutput redirects every logger to w using the given level.
func SetOutput(w io.Writer, level string) {
	level = strings.ToLower(strings.TrimSpace(level))

	Error.SetOutput(w)
	Warn.SetOutput(w)
	Info.SetOutput(w)
	Debug.SetOutput(io.Discard)

	switch level {
	case "debug":
		Debug.SetOutput(w)
	case "warn":
		Info.SetOutput(io.Discard)
	case "error":
		Info.SetOutput(io.Discard)
		Warn.SetOutput(io.Discard)
	}
}
