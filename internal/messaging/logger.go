package messaging

import (
	"strings"

	"github.com/codefionn/wsrpc/internal/logger"
)

// Logger is the diagnostic capability a message connection reports to
type Logger interface {
	Error(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Info(format string, args ...interface{})
	Log(format string, args ...interface{})
}

// ConsoleLogger writes connection diagnostics through the process logger,
// which defaults to stderr.
type ConsoleLogger struct {
	l *logger.Logger
}

// NewConsoleLogger creates a logger prefixed with "jsonrpc"
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{l: logger.Global().WithPrefix("jsonrpc")}
}

// NewLogger wraps an existing logger
func NewLogger(l *logger.Logger) *ConsoleLogger {
	return &ConsoleLogger{l: l}
}

func (c *ConsoleLogger) Error(format string, args ...interface{}) { c.l.Error(format, args...) }
func (c *ConsoleLogger) Warn(format string, args ...interface{})  { c.l.Warn(format, args...) }
func (c *ConsoleLogger) Info(format string, args ...interface{})  { c.l.Info(format, args...) }

// Log writes verbose output at debug level
func (c *ConsoleLogger) Log(format string, args ...interface{}) { c.l.Debug(format, args...) }

// printfLogger feeds jsonrpc2's own diagnostics into a Logger
type printfLogger struct {
	log Logger
}

func (p printfLogger) Printf(format string, v ...interface{}) {
	p.log.Warn(strings.TrimSuffix(format, "\n"), v...)
}
