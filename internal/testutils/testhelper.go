package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a debug logger that writes through t.Log, so log
// lines only show up for failing or verbose tests. Only use it where every
// goroutine that logs has stopped before the test returns.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(testWriter{t: t})
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logger
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
