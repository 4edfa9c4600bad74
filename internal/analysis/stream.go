package analysis

import (
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/binsight/binsight-mcp/internal/domain"

	"github.com/spf13/afero"
)

// streamingAccessor re-opens the record for every query and performs an
// incremental token scan, yielding elements as they are recognized. No
// collection is ever materialized whole.
type streamingAccessor struct {
	fs     afero.Fs
	path   string
	counts *domain.Counts
}

func (a *streamingAccessor) Mode() Mode   { return ModeStreaming }
func (a *streamingAccessor) Path() string { return a.path }

func (a *streamingAccessor) Entries(collection string) (iter.Seq2[domain.Element, error], error) {
	if !domain.KnownCollection(collection) {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidArgument, collection)
	}

	return func(yield func(domain.Element, error) bool) {
		f, err := a.fs.Open(a.path)
		if err != nil {
			if os.IsNotExist(err) {
				yield(nil, fmt.Errorf("%w: record %s", ErrNotFound, a.path))
			} else {
				yield(nil, fmt.Errorf("open record: %w", err))
			}
			return
		}
		defer func() { _ = f.Close() }()

		if err := a.scan(json.NewDecoder(f), collection, yield); err != nil {
			yield(nil, err)
		}
	}, nil
}

// scan walks the top-level object until it reaches the target collection,
// then decodes its elements one at a time. Returns nil both on a clean
// finish and when the consumer stops early; a nil return after a missing
// collection key means the collection is simply empty.
func (a *streamingAccessor) scan(dec *json.Decoder, collection string, yield func(domain.Element, error) bool) error {
	tok, err := dec.Token()
	if err != nil {
		return a.corrupt(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return a.corrupt(fmt.Errorf("expected top-level object, got %v", tok))
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return a.corrupt(err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return a.corrupt(fmt.Errorf("expected object key, got %v", keyTok))
		}

		if key != collection {
			if err := skipValue(dec); err != nil {
				return a.corrupt(err)
			}
			continue
		}

		// Enter the collection array.
		tok, err := dec.Token()
		if err != nil {
			return a.corrupt(err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return a.corrupt(fmt.Errorf("collection %q is not an array", collection))
		}

		for dec.More() {
			elem, err := decodeElement(dec, collection)
			if err != nil {
				return a.corrupt(err)
			}
			if !yield(elem, nil) {
				return nil
			}
		}
		return nil
	}

	return nil
}

func (a *streamingAccessor) corrupt(err error) error {
	return fmt.Errorf("%w: record %s: %v", ErrCorrupt, a.path, err)
}

// decodeElement decodes the next array element into the typed struct for
// the collection.
func decodeElement(dec *json.Decoder, collection string) (domain.Element, error) {
	switch collection {
	case domain.CollectionFunctions:
		var e domain.Function
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		return e, nil
	case domain.CollectionStrings:
		var e domain.StringEntry
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		return e, nil
	case domain.CollectionImports:
		var e domain.Import
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		return e, nil
	case domain.CollectionExports:
		var e domain.Export
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown collection %q", collection)
}

// skipValue consumes one complete JSON value (scalar, object, or array)
// from the decoder without retaining it.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil // Scalar, already consumed.
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

func (a *streamingAccessor) Slice(collection string, offset, limit int) ([]domain.Element, error) {
	seq, err := a.Entries(collection)
	if err != nil {
		return nil, err
	}
	return sliceSeq(seq, offset, limit)
}

// Count returns the authoritative count supplied at construction when
// available; otherwise it performs one full streaming pass solely to
// count, which is the expensive last resort.
func (a *streamingAccessor) Count(collection string) (int, error) {
	if !domain.KnownCollection(collection) {
		return 0, fmt.Errorf("%w: unknown collection %q", ErrInvalidArgument, collection)
	}
	if a.counts != nil {
		if n := a.counts.For(collection); n >= 0 {
			return n, nil
		}
	}

	seq, err := a.Entries(collection)
	if err != nil {
		return 0, err
	}
	return countSeq(seq)
}

func (a *streamingAccessor) FindByName(collection, name string) (domain.Element, error) {
	seq, err := a.Entries(collection)
	if err != nil {
		return nil, err
	}
	return findSeq(seq, name)
}
