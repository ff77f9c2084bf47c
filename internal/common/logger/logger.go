package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger writes one structured entry per action. Every entry carries the
// service name, the action and the host it was produced on.
type Logger struct {
	entry   *logrus.Entry
	service string
}

type Options struct {
	Level  string // debug | info | warn | error
	Format string // json | text
	Output io.Writer
}

func New(service string) *Logger {
	return NewWithOptions(service, Options{})
}

func NewWithOptions(service string, opts Options) *Logger {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stdout)
	}
	if strings.EqualFold(opts.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	}
	lvl, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return FromLogrus(l, service)
}

// FromLogrus wraps an existing logrus logger. Tests use it with
// logrus/hooks/test to inspect emitted entries.
func FromLogrus(l *logrus.Logger, service string) *Logger {
	return &Logger{
		entry:   l.WithFields(logrus.Fields{"service": service, "hostname": hostname()}),
		service: service,
	}
}

// With returns a child logger for a sub-component.
func (l *Logger) With(service string) *Logger {
	return &Logger{entry: l.entry.WithField("service", service), service: service}
}

func (l *Logger) log(level logrus.Level, action string, fields map[string]any, err error) {
	e := l.entry.WithField("action", action)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	if err != nil {
		e = e.WithError(err)
	}
	e.Log(level, action)
}

func (l *Logger) Info(action string, fields map[string]any)  { l.log(logrus.InfoLevel, action, fields, nil) }
func (l *Logger) Debug(action string, fields map[string]any) { l.log(logrus.DebugLevel, action, fields, nil) }
func (l *Logger) Warn(action string, fields map[string]any)  { l.log(logrus.WarnLevel, action, fields, nil) }
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log(logrus.ErrorLevel, action, fields, err)
}

func hostname() string { h, _ := os.Hostname(); return h }
