package audio

import (
	"sync"

	"github.com/google/uuid"
)

// Handle is an opaque reference to a decoded audio payload. Handles are
// created by a Store and must be released exactly once; the data stays
// readable by a player that is already holding the handle.
type Handle struct {
	id   string
	data []byte

	mu       sync.Mutex
	released bool
}

// ID returns the unique identifier of the handle.
func (h *Handle) ID() string {
	return h.id
}

// Bytes returns the raw audio payload.
func (h *Handle) Bytes() []byte {
	return h.data
}

// Len returns the payload size in bytes.
func (h *Handle) Len() int {
	return len(h.data)
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Store tracks live audio handles so every create is paired with exactly
// one release. It is the process-local equivalent of an object-URL
// registry: Create hands out a revocable reference, Release revokes it.
type Store struct {
	mu   sync.Mutex
	live map[string]*Handle
}

// NewStore creates an empty handle store.
func NewStore() *Store {
	return &Store{
		live: make(map[string]*Handle),
	}
}

// Create wraps an audio payload in a new handle and registers it as live.
func (s *Store) Create(data []byte) *Handle {
	h := &Handle{
		id:   uuid.NewString(),
		data: data,
	}

	s.mu.Lock()
	s.live[h.id] = h
	s.mu.Unlock()

	return h
}

// Release frees a handle. Releasing a nil or already-released handle is a
// no-op, so callers on error paths do not need to track release state.
func (s *Store) Release(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	s.mu.Lock()
	delete(s.live, h.id)
	s.mu.Unlock()
}

// Live returns the number of handles that have been created but not yet
// released. Useful for leak checks in tests and teardown.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
