package domain

// Function is one analyzed function in a cached record.
// Callers and Callees hold function names, preserving the order the
// analysis emitted them in.
type Function struct {
	// Name is the function's symbol name.
	Name string `json:"name"`

	// Entry is the entry point address as a hex string.
	Entry string `json:"entry"`

	// Code is the decompiled C for the function body.
	Code string `json:"code"`

	Callers []string `json:"callers,omitempty"`
	Callees []string `json:"callees,omitempty"`
}

// StringEntry is one string literal recovered from the binary.
type StringEntry struct {
	Value   string `json:"value"`
	Address string `json:"address"`
}

// Import is one imported symbol and the library it comes from.
type Import struct {
	Name    string `json:"name"`
	Library string `json:"library"`
}

// Export is one exported symbol.
type Export struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Record is the full analysis output for one binary, persisted as a
// single JSON document keyed by fingerprint. Collection order is
// significant and preserved across cache round-trips.
type Record struct {
	Functions []Function    `json:"functions"`
	Strings   []StringEntry `json:"strings"`
	Imports   []Import      `json:"imports"`
	Exports   []Export      `json:"exports"`
}

// Element is one entry of any record collection. Key returns the value
// used by name lookups: symbol name for functions, imports, and exports,
// literal value for strings.
type Element interface {
	Key() string
}

// Key returns the function's symbol name.
func (f Function) Key() string { return f.Name }

// Key returns the literal string value.
func (s StringEntry) Key() string { return s.Value }

// Key returns the imported symbol name.
func (i Import) Key() string { return i.Name }

// Key returns the exported symbol name.
func (e Export) Key() string { return e.Name }

// Collection name constants for consistent references in accessors and tools.
const (
	CollectionFunctions = "functions"
	CollectionStrings   = "strings"
	CollectionImports   = "imports"
	CollectionExports   = "exports"
)

// KnownCollection reports whether name is one of the record's top-level
// collections.
func KnownCollection(name string) bool {
	switch name {
	case CollectionFunctions, CollectionStrings, CollectionImports, CollectionExports:
		return true
	}
	return false
}

// Counts holds the summary sizes of a record's collections, as stored in
// the cache index and in session entries.
type Counts struct {
	Functions int `json:"functions"`
	Strings   int `json:"strings"`
	Imports   int `json:"imports"`
	Exports   int `json:"exports"`
}

// CountsOf computes summary counts from a parsed record.
func CountsOf(r *Record) Counts {
	return Counts{
		Functions: len(r.Functions),
		Strings:   len(r.Strings),
		Imports:   len(r.Imports),
		Exports:   len(r.Exports),
	}
}

// For returns the count for the named collection, or -1 if unknown.
func (c Counts) For(collection string) int {
	switch collection {
	case CollectionFunctions:
		return c.Functions
	case CollectionStrings:
		return c.Strings
	case CollectionImports:
		return c.Imports
	case CollectionExports:
		return c.Exports
	}
	return -1
}
