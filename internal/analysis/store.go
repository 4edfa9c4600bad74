package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/binsight/binsight-mcp/internal/domain"
)

const (
	// IndexVersion is the current cache index schema version.
	IndexVersion = "1.0"

	// IndexFilename is the name of the persisted cache index.
	IndexFilename = "index.json"

	// RecordExtension is the file extension for persisted records.
	RecordExtension = ".json"

	// putRetries bounds how many times Put retries a failed rename before
	// surfacing ErrResourceBusy.
	putRetries = 5

	// putRetryBackoff is the initial delay between Put retries. Doubled on
	// each attempt.
	putRetryBackoff = 50 * time.Millisecond
)

// Index maps fingerprints to summary metadata for cheap enumeration.
// It is persisted as one JSON document and always replaced whole.
type Index struct {
	Version  string                  `json:"version"`
	Binaries map[string]IndexSummary `json:"binaries"`
}

// IndexSummary is the per-fingerprint entry in the cache index.
type IndexSummary struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	domain.Counts
}

// NewIndex creates an empty index at the current schema version.
func NewIndex() *Index {
	return &Index{
		Version:  IndexVersion,
		Binaries: make(map[string]IndexSummary),
	}
}

// Store persists analysis records and the cache index under one root
// directory. Records are addressed purely by fingerprint; the store never
// validates record contents.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a cache store rooted at dir. The directory is created
// lazily on first write.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, root: dir}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// RecordPath returns the canonical location for a fingerprint's record.
func (s *Store) RecordPath(fingerprint string) string {
	return filepath.Join(s.root, fingerprint+RecordExtension)
}

// Lookup checks whether a record exists for the fingerprint.
// It is a pure existence check; the record is not opened or validated.
func (s *Store) Lookup(fingerprint string) (string, bool) {
	path := s.RecordPath(fingerprint)
	if _, err := s.fs.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Put moves a freshly produced record into the canonical location for the
// fingerprint, replacing any prior record for that key. Transient rename
// failures (e.g. the destination briefly locked by a reader on some
// platforms) are retried with backoff before ErrResourceBusy is returned.
func (s *Store) Put(fingerprint, srcPath string) (string, error) {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create cache root: %w", err)
	}

	dst := s.RecordPath(fingerprint)
	if srcPath == dst {
		return dst, nil
	}

	backoff := putRetryBackoff
	var lastErr error
	for attempt := 0; attempt < putRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		lastErr = s.renameReplacing(srcPath, dst)
		if lastErr == nil {
			return dst, nil
		}

		// Rename can fail across filesystems; stage a copy next to the
		// destination so the final rename is atomic.
		if staged, err := s.stageCopy(srcPath, dst); err == nil {
			lastErr = s.renameReplacing(staged, dst)
			if lastErr == nil {
				_ = s.fs.Remove(srcPath)
				return dst, nil
			}
			_ = s.fs.Remove(staged)
		}
	}

	return "", fmt.Errorf("%w: put %s: %v", ErrResourceBusy, fingerprint, lastErr)
}

// renameReplacing renames src onto dst. Not every filesystem renames over
// an existing file, so a failed rename against an existing destination is
// retried once after removing it.
func (s *Store) renameReplacing(src, dst string) error {
	err := s.fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	if _, statErr := s.fs.Stat(dst); statErr == nil {
		_ = s.fs.Remove(dst)
		return s.fs.Rename(src, dst)
	}
	return err
}

// stageCopy copies src to a temporary file in the cache root and returns
// the temporary path.
func (s *Store) stageCopy(src, dst string) (string, error) {
	in, err := s.fs.Open(src)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := s.fs.Create(tmp)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = s.fs.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}

	return tmp, nil
}

// indexPath returns the location of the persisted index.
func (s *Store) indexPath() string {
	return filepath.Join(s.root, IndexFilename)
}

// LoadIndex returns the persisted index, or an empty one if the file is
// missing or unreadable. Corruption is deliberately treated as "no prior
// index" and never propagated.
func (s *Store) LoadIndex() *Index {
	data, err := afero.ReadFile(s.fs, s.indexPath())
	if err != nil {
		return NewIndex()
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return NewIndex()
	}
	if idx.Binaries == nil {
		idx.Binaries = make(map[string]IndexSummary)
	}
	if idx.Version == "" {
		idx.Version = IndexVersion
	}
	return &idx
}

// SaveIndex serializes the whole index and writes it atomically,
// creating the cache root if absent.
func (s *Store) SaveIndex(idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}

	path := s.indexPath()
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index temp file: %w", err)
	}
	if err := s.renameReplacing(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}

	return nil
}

// UpdateSummary records the display name, original path, and summary
// counts for a fingerprint. Load, mutate, and save happen as one unit;
// the caller's lock discipline keeps concurrent updates serialized.
func (s *Store) UpdateSummary(fingerprint, name, origPath string, counts domain.Counts) error {
	idx := s.LoadIndex()
	idx.Binaries[fingerprint] = IndexSummary{
		Name:   name,
		Path:   origPath,
		Counts: counts,
	}
	return s.SaveIndex(idx)
}
