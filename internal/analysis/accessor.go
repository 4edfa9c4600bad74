package analysis

import (
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/binsight/binsight-mcp/internal/domain"
)

// DefaultStreamingThreshold is the record size above which streaming mode
// is selected when no explicit threshold is configured.
const DefaultStreamingThreshold = 32 * 1024 * 1024

// Mode is the fixed access strategy of an Accessor.
type Mode int

const (
	// ModeResident serves all queries from a single lazily parsed in-memory
	// copy of the record.
	ModeResident Mode = iota

	// ModeStreaming re-opens the record per query and scans it
	// incrementally, bounding memory independent of record size.
	ModeStreaming
)

func (m Mode) String() string {
	if m == ModeStreaming {
		return "streaming"
	}
	return "resident"
}

// Accessor exposes uniform queries over one persisted record. All
// operations return identical logical results in either mode; the mode is
// a performance knob fixed at construction, never a correctness one.
type Accessor interface {
	// Mode reports the access strategy selected at construction.
	Mode() Mode

	// Path returns the record location this accessor is bound to.
	Path() string

	// Entries returns a restartable, forward-only sequence over one named
	// collection. Each invocation of the returned sequence starts from the
	// beginning. A decode failure mid-scan is yielded as the sequence's
	// final error element.
	Entries(collection string) (iter.Seq2[domain.Element, error], error)

	// Slice returns up to limit elements starting at the zero-based offset,
	// in persisted order. An offset at or past the end yields an empty
	// slice, never an error.
	Slice(collection string, offset, limit int) ([]domain.Element, error)

	// Count returns the exact size of the named collection.
	Count(collection string) (int, error)

	// FindByName returns the first element whose key equals name, in
	// persisted order. ErrNotFound if no element matches.
	FindByName(collection, name string) (domain.Element, error)
}

// NewAccessor constructs an accessor for the record at path. The mode is
// fixed here: records larger than threshold bytes are streamed, smaller
// ones are held resident. A non-positive threshold forces streaming for
// every record. counts, when non-nil, is treated as the authoritative
// collection sizing for streaming-mode Count.
func NewAccessor(fs afero.Fs, path string, threshold int64, counts *domain.Counts) (Accessor, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: record %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat record: %w", err)
	}

	if threshold <= 0 || info.Size() > threshold {
		return &streamingAccessor{fs: fs, path: path, counts: counts}, nil
	}
	return &residentAccessor{fs: fs, path: path}, nil
}

// residentAccessor parses the record once, on first access, and serves
// every query from the parsed copy.
type residentAccessor struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	record *domain.Record
	err    error
	loaded bool
}

func (a *residentAccessor) Mode() Mode   { return ModeResident }
func (a *residentAccessor) Path() string { return a.path }

// load parses the record exactly once, memoizing both result and failure.
func (a *residentAccessor) load() (*domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return a.record, a.err
	}
	a.loaded = true

	data, err := afero.ReadFile(a.fs, a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.err = fmt.Errorf("%w: record %s", ErrNotFound, a.path)
		} else {
			a.err = fmt.Errorf("read record: %w", err)
		}
		return nil, a.err
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		a.err = fmt.Errorf("%w: record %s: %v", ErrCorrupt, a.path, err)
		return nil, a.err
	}

	a.record = &rec
	return a.record, nil
}

func (a *residentAccessor) Entries(collection string) (iter.Seq2[domain.Element, error], error) {
	if !domain.KnownCollection(collection) {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidArgument, collection)
	}

	return func(yield func(domain.Element, error) bool) {
		rec, err := a.load()
		if err != nil {
			yield(nil, err)
			return
		}
		switch collection {
		case domain.CollectionFunctions:
			for _, e := range rec.Functions {
				if !yield(e, nil) {
					return
				}
			}
		case domain.CollectionStrings:
			for _, e := range rec.Strings {
				if !yield(e, nil) {
					return
				}
			}
		case domain.CollectionImports:
			for _, e := range rec.Imports {
				if !yield(e, nil) {
					return
				}
			}
		case domain.CollectionExports:
			for _, e := range rec.Exports {
				if !yield(e, nil) {
					return
				}
			}
		}
	}, nil
}

func (a *residentAccessor) Slice(collection string, offset, limit int) ([]domain.Element, error) {
	seq, err := a.Entries(collection)
	if err != nil {
		return nil, err
	}
	return sliceSeq(seq, offset, limit)
}

func (a *residentAccessor) Count(collection string) (int, error) {
	if !domain.KnownCollection(collection) {
		return 0, fmt.Errorf("%w: unknown collection %q", ErrInvalidArgument, collection)
	}
	rec, err := a.load()
	if err != nil {
		return 0, err
	}
	return domain.CountsOf(rec).For(collection), nil
}

func (a *residentAccessor) FindByName(collection, name string) (domain.Element, error) {
	seq, err := a.Entries(collection)
	if err != nil {
		return nil, err
	}
	return findSeq(seq, name)
}

// sliceSeq implements offset/limit pagination over a lazy sequence.
// Cost is proportional to offset+limit; iteration stops as soon as the
// page is full.
func sliceSeq(seq iter.Seq2[domain.Element, error], offset, limit int) ([]domain.Element, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must be non-negative", ErrInvalidArgument)
	}

	out := make([]domain.Element, 0, limit)
	skipped := 0
	var iterErr error
	for e, err := range seq {
		if err != nil {
			iterErr = err
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// findSeq returns the first element whose key matches name. Ties are
// broken by first occurrence in persisted order.
func findSeq(seq iter.Seq2[domain.Element, error], name string) (domain.Element, error) {
	var iterErr error
	var found domain.Element
	for e, err := range seq {
		if err != nil {
			iterErr = err
			break
		}
		if e.Key() == name {
			found = e
			break
		}
	}
	if found != nil {
		return found, nil
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// countSeq performs a full pass solely to count elements.
func countSeq(seq iter.Seq2[domain.Element, error]) (int, error) {
	n := 0
	for _, err := range seq {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
