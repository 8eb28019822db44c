// Package usage tracks LLM token consumption. It serves two purposes:
// labeled per-location accounting persisted to a shared usage report, and
// a sliding time window over recent token submissions used to enforce the
// provider rate limit.
package usage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultLabel is the bucket used when a call does not name a sub-label.
const DefaultLabel = "default"

// Counts accumulates request and token counters under one label.
type Counts struct {
	Requests       int `json:"requests"`
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
}

func (c *Counts) add(promptTokens, responseTokens int) {
	c.Requests++
	c.PromptTokens += promptTokens
	c.ResponseTokens += responseTokens
}

// Record accumulates usage for a single location across labels. It is
// safe for concurrent use; every pipeline stage for a location shares one
// Record.
type Record struct {
	mu      sync.Mutex
	counts  map[string]*Counts
	elapsed time.Duration
}

// NewRecord returns an empty usage record.
func NewRecord() *Record {
	return &Record{counts: make(map[string]*Counts)}
}

// Add charges one request with the given token counts under label. An
// empty label falls back to DefaultLabel.
func (r *Record) Add(label string, promptTokens, responseTokens int) {
	if label == "" {
		label = DefaultLabel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	counts, ok := r.counts[label]
	if !ok {
		counts = &Counts{}
		r.counts[label] = counts
	}
	counts.add(promptTokens, responseTokens)
}

// AddElapsed extends the total wall-clock time attributed to the location.
func (r *Record) AddElapsed(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elapsed += d
}

// Elapsed returns the accumulated wall-clock time.
func (r *Record) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Labels returns the labels seen so far in sorted order.
func (r *Record) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	labels := make([]string, 0, len(r.counts))
	for label := range r.counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Get returns a copy of the counters under label.
func (r *Record) Get(label string) Counts {
	if label == "" {
		label = DefaultLabel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if counts, ok := r.counts[label]; ok {
		return *counts
	}
	return Counts{}
}

// Snapshot freezes the record into its persistable form.
func (r *Record) Snapshot() LocationUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	labels := make(map[string]Counts, len(r.counts))
	for label, counts := range r.counts {
		labels[label] = *counts
	}
	return LocationUsage{Labels: labels, Elapsed: r.elapsed}
}

// LocationUsage is the per-location entry of the persisted report: the
// labeled counters plus the total processing time. It serializes as a
// single flat JSON object with the label names as keys alongside
// total_time_seconds and a human-readable total_time.
type LocationUsage struct {
	Labels  map[string]Counts
	Elapsed time.Duration
}

// Report is the full usage report, keyed by location name.
type Report map[string]LocationUsage

// MarshalJSON flattens labels and time fields into one object.
func (lu LocationUsage) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(lu.Labels)+2)
	for label, counts := range lu.Labels {
		flat[label] = counts
	}
	flat["total_time_seconds"] = lu.Elapsed.Seconds()
	flat["total_time"] = formatClock(lu.Elapsed)
	return json.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON; unknown non-object keys
// other than the time fields are ignored.
func (lu *LocationUsage) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	lu.Labels = make(map[string]Counts)
	for key, raw := range flat {
		switch key {
		case "total_time_seconds":
			var seconds float64
			if err := json.Unmarshal(raw, &seconds); err != nil {
				return fmt.Errorf("invalid total_time_seconds: %w", err)
			}
			lu.Elapsed = time.Duration(seconds * float64(time.Second))
		case "total_time":
			// Derived from total_time_seconds, nothing to restore.
		default:
			var counts Counts
			if err := json.Unmarshal(raw, &counts); err != nil {
				return fmt.Errorf("invalid counters for label %q: %w", key, err)
			}
			lu.Labels[key] = counts
		}
	}
	return nil
}

// formatClock renders a duration as H:MM:SS with unpadded hours.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
