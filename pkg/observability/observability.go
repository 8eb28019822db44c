// Package observability exposes run metrics as Prometheus series. The
// Recorder interface is what the rest of the code records against; the
// prometheus-backed Metrics implements it, NoopRecorder stands in when
// no metrics listener is configured.
package observability

import (
	"sync"
	"time"
)

// Location outcomes reported to RecordLocation.
const (
	OutcomeFound  = "found"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

// Recorder receives events from the pipeline and the LLM service.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// IncLocationsInFlight and DecLocationsInFlight bracket one
	// location's processing.
	IncLocationsInFlight()
	DecLocationsInFlight()

	// RecordLocation reports a finished location with one of the
	// Outcome constants.
	RecordLocation(outcome string, duration time.Duration)

	// RecordLLMCall reports one chat completion attempt under its
	// usage label. Token counts are zero when the call failed.
	RecordLLMCall(label string, duration time.Duration, promptTokens, responseTokens int, err error)

	// RecordDocuments reports fetched documents by format
	// ("pdf", "html" or "unknown").
	RecordDocuments(format string, n int)

	// RecordSearch reports one completed search round and how many
	// candidate URLs it produced.
	RecordSearch(urls int)
}

// NoopRecorder drops everything.
type NoopRecorder struct{}

func (NoopRecorder) IncLocationsInFlight()                                {}
func (NoopRecorder) DecLocationsInFlight()                                {}
func (NoopRecorder) RecordLocation(string, time.Duration)                 {}
func (NoopRecorder) RecordLLMCall(string, time.Duration, int, int, error) {}
func (NoopRecorder) RecordDocuments(string, int)                          {}
func (NoopRecorder) RecordSearch(int)                                     {}

var (
	globalMu       sync.RWMutex
	globalRecorder Recorder = NoopRecorder{}
)

// SetGlobalRecorder installs the process-wide recorder. Called once at
// startup when metrics are enabled.
func SetGlobalRecorder(r Recorder) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if r == nil {
		r = NoopRecorder{}
	}
	globalRecorder = r
}

// GetGlobalRecorder returns the installed recorder, NoopRecorder until
// SetGlobalRecorder runs.
func GetGlobalRecorder() Recorder {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRecorder
}
