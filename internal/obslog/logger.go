// Package obslog centralizes structured logging for the runtime. The
// event loop must never swallow a user-callback exception silently (see
// spec §7); when no exception handler hook is registered it logs through
// here instead.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOOPWIRE_LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// For returns a logger scoped to a component, e.g. For("eventloop").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetLevel overrides the base logger's level; used by config.Load.
func SetLevel(lvl logrus.Level) {
	base.SetLevel(lvl)
}
