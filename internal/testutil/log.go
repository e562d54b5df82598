package testutil

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger returns a logrus logger that discards output unless TEST_VERBOSE
// is set.
func Logger() *logrus.Logger {
	l := logrus.New()
	if EnvOr("TEST_VERBOSE", "") == "" {
		l.SetOutput(io.Discard)
	}
	l.SetLevel(logrus.DebugLevel)
	return l
}
