// Package search maintains full-text indexes over decompiled function
// bodies, one index per analyzed binary, combined behind an alias for
// cross-binary queries.
package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/binsight/binsight-mcp/internal/analysis"
	"github.com/binsight/binsight-mcp/internal/domain"
)

const (
	// IndexSuffix is the suffix for index directories.
	IndexSuffix = ".bleve"

	// MaxBatchSize is the maximum number of documents per batch.
	MaxBatchSize = 100
)

// FunctionDocument is one decompiled function stored in the search index.
type FunctionDocument struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Binary      string `json:"binary"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	Code        string `json:"code"`
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	FieldID          = "id"
	FieldFingerprint = "fingerprint"
	FieldBinary      = "binary"
	FieldName        = "name"
	FieldAddress     = "address"
	FieldCode        = "code"
)

// CreateIndexMapping creates the Bleve index mapping for function documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Code field - analyzed for full-text search
	codeField := bleve.NewTextFieldMapping()
	codeField.Analyzer = standard.Name
	codeField.Store = true
	codeField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(FieldCode, codeField)

	// Name - analyzed so partial identifiers match, stored, boosted at query time
	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = standard.Name
	nameField.Store = true
	docMapping.AddFieldMappingsAt(FieldName, nameField)

	// Fingerprint - keyword (not analyzed), stored for filtering
	fpField := bleve.NewTextFieldMapping()
	fpField.Analyzer = keyword.Name
	fpField.Store = true
	docMapping.AddFieldMappingsAt(FieldFingerprint, fpField)

	// Binary - keyword, stored
	binField := bleve.NewTextFieldMapping()
	binField.Analyzer = keyword.Name
	binField.Store = true
	docMapping.AddFieldMappingsAt(FieldBinary, binField)

	// Address - stored but not indexed
	addrField := bleve.NewTextFieldMapping()
	addrField.Index = false
	addrField.Store = true
	docMapping.AddFieldMappingsAt(FieldAddress, addrField)

	// ID - stored but not indexed (we use the document ID)
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(FieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Service owns the per-binary indexes and the combined alias.
type Service struct {
	indexesDir string
	maxResults int

	mu    sync.Mutex
	open  map[string]bleve.Index
	alias bleve.IndexAlias
}

// NewService creates a search service storing indexes under indexesDir.
func NewService(indexesDir string, maxResults int) *Service {
	return &Service{
		indexesDir: indexesDir,
		maxResults: maxResults,
		open:       make(map[string]bleve.Index),
		alias:      bleve.NewIndexAlias(),
	}
}

// indexPath returns the path to an index for a given fingerprint.
func (s *Service) indexPath(fingerprint string) string {
	return filepath.Join(s.indexesDir, fingerprint+IndexSuffix)
}

// Initialize opens all indexes already present on disk and adds them to
// the alias.
func (s *Service) Initialize() error {
	entries, err := os.ReadDir(s.indexesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read indexes directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, IndexSuffix) {
			continue
		}
		fingerprint := strings.TrimSuffix(name, IndexSuffix)
		if _, ok := s.open[fingerprint]; ok {
			continue
		}

		index, err := bleve.Open(s.indexPath(fingerprint))
		if err != nil {
			// A broken index only degrades search; skip it.
			continue
		}
		s.open[fingerprint] = index
		s.alias.Add(index)
	}

	return nil
}

// IndexFunctions builds (or rebuilds) the index for one analyzed binary
// from its record accessor. Implements analysis.RecordIndexer.
func (s *Service) IndexFunctions(fingerprint, binaryName string, acc analysis.Accessor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Rebuild replaces any prior index for the fingerprint.
	if prior, ok := s.open[fingerprint]; ok {
		s.alias.Remove(prior)
		_ = prior.Close()
		delete(s.open, fingerprint)
	}
	path := s.indexPath(fingerprint)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove stale index: %w", err)
	}
	if err := os.MkdirAll(s.indexesDir, 0o755); err != nil {
		return fmt.Errorf("create indexes directory: %w", err)
	}

	index, err := bleve.New(path, CreateIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	seq, err := acc.Entries(domain.CollectionFunctions)
	if err != nil {
		_ = index.Close()
		return err
	}

	batch := index.NewBatch()
	batchSize := 0
	var iterErr error
	for e, err := range seq {
		if err != nil {
			iterErr = err
			break
		}
		f := e.(domain.Function)

		doc := FunctionDocument{
			ID:          fingerprint + "/" + f.Name,
			Fingerprint: fingerprint,
			Binary:      binaryName,
			Name:        f.Name,
			Address:     f.Entry,
			Code:        f.Code,
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			continue
		}
		batchSize++

		if batchSize >= MaxBatchSize {
			if err := index.Batch(batch); err != nil {
				iterErr = fmt.Errorf("batch index failed: %w", err)
				break
			}
			batch = index.NewBatch()
			batchSize = 0
		}
	}
	if iterErr != nil {
		_ = index.Close()
		return iterErr
	}

	if batchSize > 0 {
		if err := index.Batch(batch); err != nil {
			_ = index.Close()
			return fmt.Errorf("final batch index failed: %w", err)
		}
	}

	s.open[fingerprint] = index
	s.alias.Add(index)
	return nil
}

// Ready reports whether at least one index is available for search.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open) > 0
}

// MaxResults returns the configured page size for searches.
func (s *Service) MaxResults() int {
	return s.maxResults
}

// Alias returns the combined index for searching.
func (s *Service) Alias() (bleve.IndexAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) == 0 {
		return nil, fmt.Errorf("no indexes available")
	}
	return s.alias, nil
}

// Close releases all open indexes.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for fingerprint, index := range s.open {
		if err := index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close index %s: %w", fingerprint, err)
		}
		delete(s.open, fingerprint)
	}
	return firstErr
}
