package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ordexlabs/ordex/pkg/usage"
)

const (
	FileCacheServiceName     = "file_cache"
	FileMoverServiceName     = "file_mover"
	CleanedTextServiceName   = "cleaned_text_writer"
	ValueDBServiceName       = "value_db_writer"
	UsageRecorderServiceName = "usage_recorder"
)

// FileCacheService owns a temporary directory for fetched originals. The
// directory lives for the provider scope and is removed on release, so a
// crashed run never leaves cached downloads behind.
type FileCacheService struct {
	parent string
	dir    string
}

// CacheWriteRequest stores one fetched payload under a fresh cache name
// with the given extension (".pdf", ".html").
type CacheWriteRequest struct {
	Extension string
	Data      []byte
}

// NewFileCacheService creates the cache below parent, or below the system
// temp directory when parent is empty.
func NewFileCacheService(parent string) *FileCacheService {
	return &FileCacheService{parent: parent}
}

func (s *FileCacheService) Name() string {
	return FileCacheServiceName
}

func (s *FileCacheService) CanProcess() bool {
	return true
}

func (s *FileCacheService) AcquireResources(_ context.Context) error {
	if s.parent != "" {
		if err := os.MkdirAll(s.parent, 0755); err != nil {
			return fmt.Errorf("failed to create cache parent: %w", err)
		}
	}
	dir, err := os.MkdirTemp(s.parent, "ordex-cache-*")
	if err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	s.dir = dir
	return nil
}

func (s *FileCacheService) ReleaseResources(_ context.Context) error {
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// Dir returns the cache directory; empty before resources are acquired.
func (s *FileCacheService) Dir() string {
	return s.dir
}

// Process writes the payload and returns the cached file path.
func (s *FileCacheService) Process(_ context.Context, req any) (any, error) {
	write, ok := req.(CacheWriteRequest)
	if !ok {
		return nil, fmt.Errorf("file cache service: unexpected request type %T", req)
	}
	if s.dir == "" {
		return nil, fmt.Errorf("file cache service: resources not acquired")
	}

	path := filepath.Join(s.dir, uuid.NewString()+write.Extension)
	if err := os.WriteFile(path, write.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write cache file: %w", err)
	}
	return path, nil
}

// FileMoverService moves a cached file into its final home, typically
// from the cache temp dir to the per-location document directory.
type FileMoverService struct{}

type MoveFileRequest struct {
	Source string
	Dest   string
}

func NewFileMoverService() *FileMoverService {
	return &FileMoverService{}
}

func (s *FileMoverService) Name() string {
	return FileMoverServiceName
}

func (s *FileMoverService) CanProcess() bool {
	return true
}

// Process moves Source to Dest, creating the destination directory.
// Falls back to copy+remove when rename crosses filesystems.
func (s *FileMoverService) Process(_ context.Context, req any) (any, error) {
	move, ok := req.(MoveFileRequest)
	if !ok {
		return nil, fmt.Errorf("file mover service: unexpected request type %T", req)
	}

	if err := os.MkdirAll(filepath.Dir(move.Dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(move.Source, move.Dest); err != nil {
		if err := copyFile(move.Source, move.Dest); err != nil {
			return nil, fmt.Errorf("failed to move %s: %w", move.Source, err)
		}
		_ = os.Remove(move.Source)
	}
	return move.Dest, nil
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// CleanedTextWriterService persists the cleaned ordinance text artifact
// for a location.
type CleanedTextWriterService struct{}

type WriteTextRequest struct {
	Path string
	Text string
}

func NewCleanedTextWriterService() *CleanedTextWriterService {
	return &CleanedTextWriterService{}
}

func (s *CleanedTextWriterService) Name() string {
	return CleanedTextServiceName
}

func (s *CleanedTextWriterService) CanProcess() bool {
	return true
}

func (s *CleanedTextWriterService) Process(_ context.Context, req any) (any, error) {
	write, ok := req.(WriteTextRequest)
	if !ok {
		return nil, fmt.Errorf("cleaned text service: unexpected request type %T", req)
	}

	if err := os.MkdirAll(filepath.Dir(write.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create text directory: %w", err)
	}
	if err := os.WriteFile(write.Path, []byte(write.Text), 0644); err != nil {
		return nil, fmt.Errorf("failed to write cleaned text: %w", err)
	}
	return write.Path, nil
}

// ValueDBWriterService writes one location's extracted values as a CSV
// table in the db directory.
type ValueDBWriterService struct{}

type WriteTableRequest struct {
	Path   string
	Header []string
	Rows   [][]string
}

func NewValueDBWriterService() *ValueDBWriterService {
	return &ValueDBWriterService{}
}

func (s *ValueDBWriterService) Name() string {
	return ValueDBServiceName
}

func (s *ValueDBWriterService) CanProcess() bool {
	return true
}

func (s *ValueDBWriterService) Process(_ context.Context, req any) (any, error) {
	write, ok := req.(WriteTableRequest)
	if !ok {
		return nil, fmt.Errorf("value db service: unexpected request type %T", req)
	}

	if err := os.MkdirAll(filepath.Dir(write.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	file, err := os.Create(write.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create value table: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if len(write.Header) > 0 {
		if err := w.Write(write.Header); err != nil {
			return nil, fmt.Errorf("failed to write table header: %w", err)
		}
	}
	for _, row := range write.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write table row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush value table: %w", err)
	}
	return write.Path, nil
}

// UsageRecorderService serializes merges into the shared usage report so
// concurrent locations never clobber each other's entries.
type UsageRecorderService struct {
	store *usage.Store
}

type RecordUsageRequest struct {
	Location string
	Record   *usage.Record
}

func NewUsageRecorderService(store *usage.Store) *UsageRecorderService {
	return &UsageRecorderService{store: store}
}

func (s *UsageRecorderService) Name() string {
	return UsageRecorderServiceName
}

func (s *UsageRecorderService) CanProcess() bool {
	return true
}

func (s *UsageRecorderService) Process(_ context.Context, req any) (any, error) {
	record, ok := req.(RecordUsageRequest)
	if !ok {
		return nil, fmt.Errorf("usage recorder service: unexpected request type %T", req)
	}
	if err := s.store.Merge(record.Location, record.Record); err != nil {
		return nil, err
	}
	return s.store.Path(), nil
}
