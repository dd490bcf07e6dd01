package logger

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Log interface {
	WithField(name string, value interface{}) Log
	WithFields(fields Fields) Log
	Trace(args ...interface{})
	Tracef(msg string, args ...interface{})
	Debug(args ...interface{})
	Debugf(msg string, args ...interface{})
	Info(args ...interface{})
	Infof(msg string, args ...interface{})
	Warn(args ...interface{})
	Warnf(msg string, args ...interface{})
	Error(args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(msg string, args ...interface{})
	Panic(args ...interface{})
	Panicf(msg string, args ...interface{})
	Print(args ...interface{})
}

// Fields is a set of keys/values to include in a structured log message.
type Fields map[string]interface{}

type LogFilePath string

// LogFactory produces a logger scoped to the named daemon subsystem.
type LogFactory func(subsystem string) Log

// LogrusLogger is a Log implementation backed by the Logrus library.
type LogrusLogger struct {
	*logrus.Entry
}

func (l *LogrusLogger) WithField(name string, value interface{}) Log {
	return &LogrusLogger{Entry: l.Entry.WithFields(map[string]interface{}{name: value})}
}

func (l *LogrusLogger) WithFields(fields Fields) Log {
	return &LogrusLogger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// MakeLogrusLogFactoryStdOut logs to stdout, in text format when stdout is a
// terminal and JSON otherwise.
func MakeLogrusLogFactoryStdOut(logRegistry *LogRegistry) LogFactory {
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	return func(subsystem string) Log {
		return newSubsystemLog(logRegistry, subsystem, os.Stdout, interactive)
	}
}

// MakeLogrusLogFactoryStdOutPlain produces minimal log lines with no
// timestamp and no system field, for interactive tooling.
func MakeLogrusLogFactoryStdOutPlain(logRegistry *LogRegistry) LogFactory {
	return func(subsystem string) Log {
		log := logrus.New()
		log.SetLevel(logRegistry.GetLogLevel(subsystem))
		log.SetOutput(os.Stdout)
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		logRegistry.RegisterLogger(subsystem, log)
		return &LogrusLogger{Entry: log.WithFields(logrus.Fields{})}
	}
}

// MakeLogrusLogFactoryToFile appends text-format log lines to the specified
// file. Used when the daemon runs detached from a terminal.
func MakeLogrusLogFactoryToFile(logRegistry *LogRegistry, logFile LogFilePath) (LogFactory, error) {
	file, err := os.OpenFile(string(logFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "Error opening log file: %s", logFile)
	}
	return func(subsystem string) Log {
		return newSubsystemLog(logRegistry, subsystem, file, false)
	}, nil
}

func newSubsystemLog(logRegistry *LogRegistry, subsystem string, out io.Writer, text bool) Log {
	log := logrus.New()
	log.SetLevel(logRegistry.GetLogLevel(subsystem))
	log.SetOutput(out)
	if text {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableQuote:    true,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	logRegistry.RegisterLogger(subsystem, log)
	return &LogrusLogger{Entry: log.WithFields(logrus.Fields{"system": subsystem})}
}

// NoOpLog implements the Log interface without performing any logging.
type NoOpLog struct {
}

func NewNoOpLog() *NoOpLog {
	return &NoOpLog{}
}

// NoOpLogFactory is a LogFactory that always returns a NoOpLog, for when logging is not required.
func NoOpLogFactory(subsystem string) Log {
	return NewNoOpLog()
}

func (l *NoOpLog) WithField(name string, value interface{}) Log { return NewNoOpLog() }
func (l *NoOpLog) WithFields(fields Fields) Log                 { return NewNoOpLog() }
func (l *NoOpLog) Trace(args ...interface{})                    {}
func (l *NoOpLog) Tracef(msg string, args ...interface{})       {}
func (l *NoOpLog) Debug(args ...interface{})                    {}
func (l *NoOpLog) Debugf(msg string, args ...interface{})       {}
func (l *NoOpLog) Info(args ...interface{})                     {}
func (l *NoOpLog) Infof(msg string, args ...interface{})        {}
func (l *NoOpLog) Warn(args ...interface{})                     {}
func (l *NoOpLog) Warnf(msg string, args ...interface{})        {}
func (l *NoOpLog) Error(args ...interface{})                    {}
func (l *NoOpLog) Errorf(msg string, args ...interface{})       {}
func (l *NoOpLog) Fatal(args ...interface{})                    {}
func (l *NoOpLog) Fatalf(msg string, args ...interface{})       {}
func (l *NoOpLog) Panic(args ...interface{})                    {}
func (l *NoOpLog) Panicf(msg string, args ...interface{})       {}
func (l *NoOpLog) Print(args ...interface{})                    {}
