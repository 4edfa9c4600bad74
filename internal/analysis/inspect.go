package analysis

import (
	"debug/elf"
	"debug/pe"
	"fmt"
	"regexp"

	"github.com/spf13/afero"
)

const (
	// MaxReadBytes caps one raw byte read.
	MaxReadBytes = 1024

	// maxStringMatches caps one string search, as a safety limit.
	maxStringMatches = 1000
)

// ByteDump is a raw byte read result.
type ByteDump struct {
	Offset int64  `json:"offset"`
	Length int    `json:"length"`
	Hex    string `json:"hex"`
	ASCII  string `json:"ascii"`
}

// Section describes one binary section.
type Section struct {
	Name    string `json:"name"`
	Size    string `json:"size_hex"`
	Address string `json:"addr_hex"`
	Type    string `json:"type,omitempty"`
	Format  string `json:"format"`
}

// StringMatch is one hit from a raw string search.
type StringMatch struct {
	Offset  int    `json:"offset"`
	Value   string `json:"value"`
	Context string `json:"context"`
}

// ReadBytes reads up to MaxReadBytes raw bytes from the binary at the
// given offset, returning hex plus a printable-ASCII rendering. Operates
// directly on the original file; the cache is untouched.
func (s *Service) ReadBytes(path string, offset int64, length int) (*ByteDump, error) {
	abs, err := s.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset and length must be non-negative", ErrInvalidArgument)
	}
	if length > MaxReadBytes {
		return nil, fmt.Errorf("%w: length too large, max %d bytes", ErrInvalidArgument, MaxReadBytes)
	}

	f, err := s.fs.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	n, _ := f.ReadAt(buf, offset)
	buf = buf[:n]

	ascii := make([]byte, n)
	for i, b := range buf {
		if b >= 32 && b <= 126 {
			ascii[i] = b
		} else {
			ascii[i] = '.'
		}
	}

	return &ByteDump{
		Offset: offset,
		Length: n,
		Hex:    fmt.Sprintf("%x", buf),
		ASCII:  string(ascii),
	}, nil
}

// ListSections lists binary sections, trying PE first and falling back to
// ELF, matching the formats the pipeline accepts.
func (s *Service) ListSections(path string) ([]Section, error) {
	abs, err := s.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if peFile, err := pe.NewFile(f); err == nil {
		sections := make([]Section, 0, len(peFile.Sections))
		for _, sec := range peFile.Sections {
			sections = append(sections, Section{
				Name:    sec.Name,
				Size:    fmt.Sprintf("0x%x", sec.Size),
				Address: fmt.Sprintf("0x%x", sec.VirtualAddress),
				Format:  "pe",
			})
		}
		return sections, nil
	}

	if elfFile, err := elf.NewFile(f); err == nil {
		sections := make([]Section, 0, len(elfFile.Sections))
		for _, sec := range elfFile.Sections {
			sections = append(sections, Section{
				Name:    sec.Name,
				Size:    fmt.Sprintf("0x%x", sec.Size),
				Address: fmt.Sprintf("0x%x", sec.Addr),
				Type:    sec.Type.String(),
				Format:  "elf",
			})
		}
		return sections, nil
	}

	return nil, fmt.Errorf("%w: unknown binary format (not PE or ELF)", ErrCorrupt)
}

// SearchStrings scans the raw binary for byte sequences matching the
// regex pattern, keeping matches of at least minLength characters.
// Results are capped at maxStringMatches.
func (s *Service) SearchStrings(path, pattern string, minLength int) ([]StringMatch, error) {
	abs, err := s.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if minLength < 0 {
		return nil, fmt.Errorf("%w: min length must be non-negative", ErrInvalidArgument)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern: %v", ErrInvalidArgument, err)
	}

	data, err := afero.ReadFile(s.fs, abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var results []StringMatch
	for _, loc := range re.FindAllIndex(data, maxStringMatches*4) {
		val := string(data[loc[0]:loc[1]])
		if len(val) < minLength {
			continue
		}
		results = append(results, StringMatch{
			Offset:  loc[0],
			Value:   val,
			Context: fmt.Sprintf("0x%x", loc[0]),
		})
		if len(results) >= maxStringMatches {
			break
		}
	}
	return results, nil
}
