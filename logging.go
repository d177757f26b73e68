package h1mux

import "github.com/sirupsen/logrus"

// Logger is the small structured-logging surface Conn depends on, letting
// callers plug in their own logrus.FieldLogger (e.g. a *logrus.Entry
// pre-populated with connection-id fields) without this package importing
// a concrete sink.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// logrusLogger adapts *logrus.Entry to Logger, mirroring the
// logrus.WithField/WithFields chains used throughout
// _examples/docker-compose/containerd (utils.go, main_linux.go, log.go).
type logrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger(base *logrus.Logger) Logger {
	if base == nil {
		base = logrus.New()
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }
