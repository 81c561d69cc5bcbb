package errors

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives every built error. Validation errors are user mistakes
// and never reach it.
type Reporter interface {
	Report(err *EnhancedError)
}

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the global reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(ee *EnhancedError) {
	if ee.category == CategoryValidation || ee.category == CategoryNotFound {
		return
	}
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r == nil {
		return
	}
	if ee.reported.CompareAndSwap(false, true) {
		r.Report(ee)
	}
}

// SentryReporter forwards errors to sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

// InitSentry configures the sentry client and installs a SentryReporter.
// An empty dsn leaves reporting disabled.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return New(err).Component("errors").Category(CategoryConfiguration).Build()
	}
	SetReporter(&SentryReporter{hub: sentry.CurrentHub()})
	return nil
}

// NewSentryReporter wraps an explicit hub, mainly for tests.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (s *SentryReporter) Report(ee *EnhancedError) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.component)
		scope.SetTag("category", string(ee.category))
		if len(ee.context) > 0 {
			scope.SetContext("error", sentry.Context(ee.GetContext()))
		}
		s.hub.CaptureException(ee)
	})
}

// FlushSentry waits for buffered events to be delivered.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
