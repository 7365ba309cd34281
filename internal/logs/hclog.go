package logs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const rootName = "mcpsetup"

type LoggerOptions struct {
	Debug bool
	// Stderr mirrors log lines to stderr; the TUI leaves it off.
	Stderr bool
}

// NewLogger builds the component logger. Every line is also delivered to rb
// so it shows up in the UI log panels and the log file.
func NewLogger(rb *RingBuffer, opts LoggerOptions) hclog.InterceptLogger {
	level := hclog.Info
	if opts.Debug {
		level = hclog.Debug
	}
	var out io.Writer = io.Discard
	if opts.Stderr {
		out = os.Stderr
	}
	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   rootName,
		Level:  level,
		Output: out,
	})
	if rb != nil {
		rb.SetDebug(opts.Debug)
		logger.RegisterSink(&ringSink{rb: rb})
	}
	return logger
}

type ringSink struct {
	rb *RingBuffer
}

func (s *ringSink) Accept(name string, level hclog.Level, msg string, args ...interface{}) {
	e := LogEntry{
		Time:      time.Now(),
		Component: componentName(name),
		Level:     levelFor(level),
	}
	var extra []string
	for i := 0; i+1 < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		val := args[i+1]
		switch key {
		case "server":
			e.Server = fmt.Sprint(val)
			continue
		case "status":
			if fmt.Sprint(val) == "ok" && e.Level == LevelInfo {
				e.Level = LevelSuccess
				continue
			}
		}
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		extra = append(extra, fmt.Sprintf("%s=%v", key, val))
	}
	if len(args)%2 == 1 {
		extra = append(extra, fmt.Sprintf("EXTRA_VALUE_AT_END=%v", args[len(args)-1]))
	}
	e.Message = msg
	if len(extra) > 0 {
		e.Message += " " + strings.Join(extra, " ")
	}
	s.rb.Add(e)
}

func componentName(name string) string {
	name = strings.TrimPrefix(name, rootName)
	name = strings.TrimPrefix(name, ".")
	if name == "" {
		return rootName
	}
	return name
}

func levelFor(l hclog.Level) LogLevel {
	switch {
	case l <= hclog.Debug:
		return LevelDebug
	case l == hclog.Warn:
		return LevelWarn
	case l >= hclog.Error:
		return LevelError
	}
	return LevelInfo
}
