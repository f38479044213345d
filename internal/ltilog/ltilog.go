// internal/ltilog/ltilog.go
package ltilog

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

/*
Shared logger for the LTI toolkit.

Protocol-level rejections (bad signatures, replayed nonces, unknown
consumer keys) are expected events whenever a tool is reachable from the
open internet; they are not program bugs. Those are logged through the
dedicated "lti" component entry so operators can filter them apart from
real errors, the same way the original toolkit used a custom log level.
*/

// New builds the root logger. level accepts the usual logrus names
// ("debug", "info", "warn", ...); unknown values fall back to info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if lv, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		l.SetLevel(lv)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// LTI returns the entry used for protocol-level events (validation,
// replay and trust rejections).
func LTI(l *logrus.Logger) *logrus.Entry {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", "lti")
}

// Discard returns a logger that drops everything. Used as the default when
// an engine is constructed without a logger, and in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	l.SetLevel(logrus.PanicLevel)
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
