package analysis

import (
	"container/list"
	"sync"

	"github.com/binsight/binsight-mcp/internal/domain"
)

// DefaultSessionCapacity is the default bound on concurrently tracked
// session entries.
const DefaultSessionCapacity = 16

// SessionEntry records which fingerprint and cached record a handle
// (a caller-supplied binary path) currently refers to, plus the summary
// counts captured when the record was resolved. An accessor created from
// an entry borrows the location and counts; evicting the entry never
// invalidates accessors already constructed from it.
type SessionEntry struct {
	Handle      string        `json:"handle"`
	Fingerprint string        `json:"fingerprint"`
	RecordPath  string        `json:"record_path"`
	Counts      domain.Counts `json:"counts"`
}

// SessionTable is a bounded, access-ordered table of session entries.
// Recency is totally ordered by put-or-get sequence; when an insertion
// breaches capacity, exactly one least-recently-used entry is evicted.
// All methods are safe for concurrent use behind one mutex.
type SessionTable struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // Front is most recently used.
	entries  map[string]*list.Element // Handle -> element holding SessionEntry.
}

// NewSessionTable creates a table bounded to capacity entries.
// A non-positive capacity falls back to DefaultSessionCapacity.
func NewSessionTable(capacity int) *SessionTable {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	return &SessionTable{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Put inserts or replaces the entry for its handle and marks it most
// recently used. If the table would exceed capacity, the least recently
// used entry is evicted.
func (t *SessionTable) Put(entry SessionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.entries[entry.Handle]; ok {
		el.Value = entry
		t.order.MoveToFront(el)
		return
	}

	t.entries[entry.Handle] = t.order.PushFront(entry)

	if t.order.Len() > t.capacity {
		oldest := t.order.Back()
		if oldest != nil {
			t.order.Remove(oldest)
			delete(t.entries, oldest.Value.(SessionEntry).Handle)
		}
	}
}

// Get returns the entry for the handle and refreshes it to most recently
// used. Absence is an expected outcome, not an error: callers re-resolve.
func (t *SessionTable) Get(handle string) (SessionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.entries[handle]
	if !ok {
		return SessionEntry{}, false
	}
	t.order.MoveToFront(el)
	return el.Value.(SessionEntry), true
}

// Snapshot returns all current entries ordered most-recently-used first.
// Taking a snapshot does not alter recency.
func (t *SessionTable) Snapshot() []SessionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SessionEntry, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(SessionEntry))
	}
	return out
}

// Len returns the number of tracked entries.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Clear empties the table and returns how many entries were removed.
// The underlying cached records are untouched.
func (t *SessionTable) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.order.Len()
	t.order.Init()
	t.entries = make(map[string]*list.Element)
	return n
}
