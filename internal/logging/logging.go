// Package logging provides the levelled logger handed to every mdhrecon
// component. Messages go either to stderr or to a rotating log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity a logger prints.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

// Logger provides a way for components to log messages at different severities.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level. Only written when the logger runs in DebugMode.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Criticalf is like Debugf, but at Critical level.
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// LogConfig selects the log destination.
type LogConfig struct {
	Logfile string `yaml:"file"`
	MaxSize int    `yaml:"maxSize"`
	MaxAge  int    `yaml:"maxAge"`
	Verbose bool   `yaml:"verbose"`
}

// NewLogger creates a logger that saves to a rotating log file, or to stderr
// if no log file is configured.
func (c *LogConfig) NewLogger() Logger {
	mode := InfoMode
	if c != nil && c.Verbose {
		mode = DebugMode
	}
	if c == nil || c.Logfile == "" {
		return New(os.Stderr, mode)
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	s := New(l, mode)
	s.closer = l
	return s
}

// StdLogger writes prefixed lines through the standard log package.
type StdLogger struct {
	out    *log.Logger
	mode   ModeFlag
	closer io.Closer
}

// New returns a logger writing to w that drops messages below mode.
func New(w io.Writer, mode ModeFlag) *StdLogger {
	return &StdLogger{
		out:  log.New(w, "", log.LstdFlags),
		mode: mode,
	}
}

// Discard returns a logger that prints nothing.
func Discard() *StdLogger {
	return New(io.Discard, SilentMode)
}

// SetMode sets the severity required for a message to be printed.
func (s *StdLogger) SetMode(mode ModeFlag) {
	s.mode = mode
}

func (s *StdLogger) printf(level ModeFlag, tag, format string, args ...interface{}) {
	if s.mode > level {
		return
	}
	s.out.Printf(tag+format, args...)
}

func (s *StdLogger) Debugf(format string, args ...interface{}) {
	s.printf(DebugMode, " DEBUG ", format, args...)
}

func (s *StdLogger) Infof(format string, args ...interface{}) {
	s.printf(InfoMode, " INFO ", format, args...)
}

func (s *StdLogger) Warningf(format string, args ...interface{}) {
	s.printf(WarningMode, " WARNING ", format, args...)
}

func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.printf(ErrorMode, " ERROR ", format, args...)
}

func (s *StdLogger) Criticalf(format string, args ...interface{}) {
	s.printf(CriticalMode, " CRITICAL ", format, args...)
}

func (s *StdLogger) Shutdown() {
	if s.closer != nil {
		s.printf(InfoMode, " INFO ", "Closing log file...")
		s.closer.Close()
		s.closer = nil
	}
}

// TimeLog adds elapsed time to logging.
// Example:
//
//	tlog := logging.NewTimeLog(logger)
//	...
//	tlog.Infof("unpacked %d records", n)  // Appends elapsed time since NewTimeLog().
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog(logger Logger) TimeLog {
	return TimeLog{logger, time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	t.logger.Debugf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	t.logger.Infof(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	t.logger.Warningf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	t.logger.Errorf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Criticalf(format string, args ...interface{}) {
	t.logger.Criticalf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Shutdown() {
	t.logger.Shutdown()
}
