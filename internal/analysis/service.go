package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/binsight/binsight-mcp/internal/config"
	"github.com/binsight/binsight-mcp/internal/domain"
)

// RecordIndexer receives freshly analyzed records for full-text indexing.
// Indexing is best-effort; failures degrade search, never analysis.
type RecordIndexer interface {
	IndexFunctions(fingerprint, binaryName string, acc Accessor) error
}

// AnalyzeResult summarizes one Analyze call.
type AnalyzeResult struct {
	// Status is "cached" when the record was served from the cache store,
	// "analyzed" when the pipeline ran.
	Status      string        `json:"status"`
	Binary      string        `json:"binary"`
	BinaryName  string        `json:"binary_name"`
	Fingerprint string        `json:"binary_hash"`
	RecordPath  string        `json:"output_path"`
	Counts      domain.Counts `json:"counts"`
	ElapsedMs   int64         `json:"analysis_time_ms"`
}

// Service coordinates the digest engine, cache store, session table, and
// pipeline collaborator. Mutating paths (analyze, session registration)
// are serialized behind one coarse lock; accessors handed out to callers
// hold their own file handles and stay valid across evictions.
type Service struct {
	settings *config.AnalysisSettings
	fs       afero.Fs
	store    *Store
	sessions *SessionTable
	runner   Runner
	indexer  RecordIndexer
	mu       sync.Mutex
}

// NewService creates an analysis service on the real filesystem.
func NewService(settings *config.AnalysisSettings) (*Service, error) {
	return NewServiceWithFs(afero.NewOsFs(), settings)
}

// NewServiceWithFs creates an analysis service on the given filesystem.
func NewServiceWithFs(fs afero.Fs, settings *config.AnalysisSettings) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	if err := fs.MkdirAll(settings.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Service{
		settings: settings,
		fs:       fs,
		store:    NewStore(fs, settings.CacheDir()),
		sessions: NewSessionTable(settings.SessionCapacity),
		runner:   NewHeadlessRunner(settings.HeadlessPath, settings.ScriptDir),
	}, nil
}

// SetRunner allows injecting a custom pipeline runner for testing.
func (s *Service) SetRunner(r Runner) {
	s.runner = r
}

// SetIndexer attaches a full-text indexer invoked after each successful
// analysis.
func (s *Service) SetIndexer(idx RecordIndexer) {
	s.indexer = idx
}

// Store returns the underlying cache store.
func (s *Service) Store() *Store {
	return s.store
}

// Settings returns the service settings.
func (s *Service) Settings() *config.AnalysisSettings {
	return s.settings
}

// ValidatePath checks that the binary exists and, when a safe directory
// is configured, lies inside it. Returns the absolute path.
func (s *Service) ValidatePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if _, err := s.fs.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if s.settings.SafeDir != "" {
		safe, err := filepath.Abs(s.settings.SafeDir)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		rel, err := filepath.Rel(safe, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: access denied to %s, must be within %s", ErrInvalidArgument, path, s.settings.SafeDir)
		}
	}

	return abs, nil
}

// Analyze resolves the binary at path to a cached record, invoking the
// pipeline on a cache miss (or when force is set), and registers the
// handle in the session table. A corrupted cached record is treated as a
// miss and re-analyzed.
func (s *Service) Analyze(ctx context.Context, path string, force bool) (*AnalyzeResult, error) {
	abs, err := s.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	fingerprint, err := Fingerprint(s.fs, abs)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(abs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !force {
		if res, ok := s.resolveCached(abs, name, fingerprint); ok {
			return res, nil
		}
	}

	started := time.Now()
	recordPath, err := s.runPipeline(ctx, abs, fingerprint, force)
	if err != nil {
		return nil, err
	}

	location, err := s.store.Put(fingerprint, recordPath)
	if err != nil {
		return nil, err
	}

	counts, err := s.countRecord(location)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateSummary(fingerprint, name, abs, counts); err != nil {
		slog.Error("Failed to update cache index", "fingerprint", fingerprint, "error", err)
	}

	s.register(abs, fingerprint, location, counts)

	return &AnalyzeResult{
		Status:      "analyzed",
		Binary:      abs,
		BinaryName:  name,
		Fingerprint: fingerprint,
		RecordPath:  location,
		Counts:      counts,
		ElapsedMs:   time.Since(started).Milliseconds(),
	}, nil
}

// resolveCached serves a cache hit: summary counts come from the index
// when available, otherwise from a counting pass over the record. A
// corrupt record reads as a miss.
func (s *Service) resolveCached(abs, name, fingerprint string) (*AnalyzeResult, bool) {
	location, ok := s.store.Lookup(fingerprint)
	if !ok {
		return nil, false
	}

	var counts domain.Counts
	if summary, ok := s.store.LoadIndex().Binaries[fingerprint]; ok {
		counts = summary.Counts
	} else {
		var err error
		counts, err = s.countRecord(location)
		if err != nil {
			slog.Warn("Cached record unreadable, treating as miss", "fingerprint", fingerprint, "error", err)
			return nil, false
		}
	}

	s.register(abs, fingerprint, location, counts)

	return &AnalyzeResult{
		Status:      "cached",
		Binary:      abs,
		BinaryName:  name,
		Fingerprint: fingerprint,
		RecordPath:  location,
		Counts:      counts,
	}, true
}

// runPipeline invokes the collaborator and verifies its announced output
// actually exists. "Collaborator failed" and "collaborator claimed success
// but produced nothing" are distinct upstream errors.
func (s *Service) runPipeline(ctx context.Context, abs, fingerprint string, force bool) (string, error) {
	projDir := filepath.Join(s.settings.ProjectsDir(), fingerprint)
	if force {
		_ = s.fs.RemoveAll(projDir)
	}
	if err := s.fs.MkdirAll(projDir, 0o755); err != nil {
		return "", fmt.Errorf("create project directory: %w", err)
	}
	if err := s.fs.MkdirAll(s.settings.CacheDir(), 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}

	runCtx := ctx
	if s.settings.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.settings.AnalysisTimeout)
		defer cancel()
	}

	slog.Info("Running analysis pipeline", "binary", abs, "fingerprint", fingerprint)
	res, err := s.runner.Run(runCtx, abs, projDir, s.settings.CacheDir())
	if err != nil {
		return "", err
	}

	if _, statErr := s.fs.Stat(res.RecordPath); statErr != nil {
		return "", fmt.Errorf("%w: record missing at announced location %s", ErrUpstream, res.RecordPath)
	}

	return res.RecordPath, nil
}

// countRecord computes summary counts by reading the record at location.
func (s *Service) countRecord(location string) (domain.Counts, error) {
	acc, err := NewAccessor(s.fs, location, s.settings.StreamingThreshold, nil)
	if err != nil {
		return domain.Counts{}, err
	}

	var counts domain.Counts
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{domain.CollectionFunctions, &counts.Functions},
		{domain.CollectionStrings, &counts.Strings},
		{domain.CollectionImports, &counts.Imports},
		{domain.CollectionExports, &counts.Exports},
	} {
		n, err := acc.Count(c.name)
		if err != nil {
			return domain.Counts{}, err
		}
		*c.dst = n
	}
	return counts, nil
}

// register inserts or refreshes the session entry for a handle and, when
// an indexer is attached, feeds the record to it.
func (s *Service) register(handle, fingerprint, location string, counts domain.Counts) {
	s.sessions.Put(SessionEntry{
		Handle:      handle,
		Fingerprint: fingerprint,
		RecordPath:  location,
		Counts:      counts,
	})

	if s.indexer != nil {
		acc, err := NewAccessor(s.fs, location, s.settings.StreamingThreshold, &counts)
		if err == nil {
			err = s.indexer.IndexFunctions(fingerprint, filepath.Base(handle), acc)
		}
		if err != nil {
			slog.Warn("Full-text indexing failed", "fingerprint", fingerprint, "error", err)
		}
	}
}

// Resolve returns an accessor for a handle previously registered in the
// session table. ErrNotFound when the handle has no session entry or the
// cached record has vanished; callers re-analyze in both cases.
func (s *Service) Resolve(path string) (Accessor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	entry, ok := s.sessions.Get(abs)
	if !ok {
		return nil, fmt.Errorf("%w: no session for %s", ErrNotFound, path)
	}

	counts := entry.Counts
	return NewAccessor(s.fs, entry.RecordPath, s.settings.StreamingThreshold, &counts)
}

// List returns one page of the named collection plus its total count.
func (s *Service) List(path, collection string, offset, limit int) ([]domain.Element, int, error) {
	acc, err := s.Resolve(path)
	if err != nil {
		return nil, 0, err
	}

	page, err := acc.Slice(collection, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := acc.Count(collection)
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// Find returns the first element of the collection whose key matches name.
func (s *Service) Find(path, collection, name string) (domain.Element, error) {
	acc, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	return acc.FindByName(collection, name)
}

// Sessions returns a snapshot of the session table, most recently used
// first.
func (s *Service) Sessions() []SessionEntry {
	return s.sessions.Snapshot()
}

// EvictAll clears the session table and returns the number of evicted
// entries. Cached records on disk are untouched.
func (s *Service) EvictAll() int {
	return s.sessions.Clear()
}

// CachedSummaries returns the persisted cache index contents.
func (s *Service) CachedSummaries() map[string]IndexSummary {
	return s.store.LoadIndex().Binaries
}
