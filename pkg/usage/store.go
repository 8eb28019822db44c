package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the cross-location usage report as a single JSON file.
// Merges are read-modify-write under a process-wide mutex; cross-process
// writers are not supported.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current report. A missing file yields an empty report.
func (s *Store) Load() (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Report, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Report{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse usage report: %w", err)
	}
	if report == nil {
		report = Report{}
	}
	return report, nil
}

// Merge folds a finished location's record into the report on disk,
// replacing any previous entry for that location.
func (s *Store) Merge(location string, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.loadLocked()
	if err != nil {
		return err
	}
	report[location] = record.Snapshot()
	return s.saveLocked(report)
}

func (s *Store) saveLocked(report Report) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create usage report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage report: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write usage report: %w", err)
	}
	return nil
}
