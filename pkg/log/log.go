package log

import (
	"github.com/sirupsen/logrus"
)

// PrefixLogger is a logrus-backed logger that prepends a component
// prefix to every message. Components receive one by injection and never
// construct their own logrus entries.
type PrefixLogger struct {
	*logrus.Logger
	prefix string
}

// NewPrefixLogger returns a logger with the given prefix. An empty
// prefix produces unprefixed output.
func NewPrefixLogger(prefix string) *PrefixLogger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return &PrefixLogger{
		Logger: logger,
		prefix: prefix,
	}
}

// WithPrefix returns a child logger sharing the underlying logrus
// instance but using a different prefix.
func (l *PrefixLogger) WithPrefix(prefix string) *PrefixLogger {
	return &PrefixLogger{
		Logger: l.Logger,
		prefix: prefix,
	}
}

// Prefix returns the configured prefix.
func (l *PrefixLogger) Prefix() string {
	return l.prefix
}

func (l *PrefixLogger) prefixed(format string) string {
	if l.prefix == "" {
		return format
	}
	return l.prefix + ": " + format
}

func (l *PrefixLogger) Debugf(format string, args ...interface{}) {
	l.Logger.Debugf(l.prefixed(format), args...)
}

func (l *PrefixLogger) Infof(format string, args ...interface{}) {
	l.Logger.Infof(l.prefixed(format), args...)
}

func (l *PrefixLogger) Warnf(format string, args ...interface{}) {
	l.Logger.Warnf(l.prefixed(format), args...)
}

func (l *PrefixLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf(l.prefixed(format), args...)
}

func (l *PrefixLogger) Debug(args ...interface{}) {
	if l.prefix != "" {
		l.Logger.Debug(append([]interface{}{l.prefix + ": "}, args...)...)
		return
	}
	l.Logger.Debug(args...)
}

func (l *PrefixLogger) Info(args ...interface{}) {
	if l.prefix != "" {
		l.Logger.Info(append([]interface{}{l.prefix + ": "}, args...)...)
		return
	}
	l.Logger.Info(args...)
}

func (l *PrefixLogger) Warn(args ...interface{}) {
	if l.prefix != "" {
		l.Logger.Warn(append([]interface{}{l.prefix + ": "}, args...)...)
		return
	}
	l.Logger.Warn(args...)
}

func (l *PrefixLogger) Error(args ...interface{}) {
	if l.prefix != "" {
		l.Logger.Error(append([]interface{}{l.prefix + ": "}, args...)...)
		return
	}
	l.Logger.Error(args...)
}

// SetLevel parses and applies a logrus level name, defaulting to info on
// parse failure.
func (l *PrefixLogger) SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.Logger.SetLevel(parsed)
}
