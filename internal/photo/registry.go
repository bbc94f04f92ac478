package photo

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const transientPrefix = "blob:"

var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrBudgetExceeded = errors.New("transient reference budget exceeded")
)

type blob struct {
	data     []byte
	mimeType string
}

// Registry holds transient references: in-memory blobs addressable by an
// opaque id for as long as their owner keeps them registered. It is safe
// for concurrent use because the HTTP side server reads from it.
type Registry struct {
	mu       sync.RWMutex
	blobs    map[string]blob
	budget   int64
	used     int64
	created  int
	released int
}

// NewRegistry creates a registry that holds at most budget bytes. A budget
// of zero or less means unlimited.
func NewRegistry(budget int64) *Registry {
	return &Registry{blobs: make(map[string]blob), budget: budget}
}

// Create registers data and returns its transient reference. The slice is
// held, not copied.
func (r *Registry) Create(data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.budget > 0 && r.used+int64(len(data)) > r.budget {
		return "", fmt.Errorf("%w: %d of %d bytes in use", ErrBudgetExceeded, r.used, r.budget)
	}

	id := uuid.NewString()
	r.blobs[id] = blob{data: data, mimeType: mimeType}
	r.used += int64(len(data))
	r.created++
	return transientPrefix + id, nil
}

// Release drops a transient reference. Releasing an unknown or already
// released reference is a no-op and reports false.
func (r *Registry) Release(ref string) bool {
	id, ok := strings.CutPrefix(ref, transientPrefix)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.blobs[id]
	if !ok {
		return false
	}
	delete(r.blobs, id)
	r.used -= int64(len(b.data))
	r.released++
	return true
}

// Open returns the payload behind a transient reference. The reference may
// be given with or without the blob: prefix.
func (r *Registry) Open(ref string) ([]byte, string, bool) {
	id := strings.TrimPrefix(ref, transientPrefix)

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.blobs[id]
	if !ok {
		return nil, "", false
	}
	return b.data, b.mimeType, true
}

// Live returns the number of registered references.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Stats returns how many references were ever created and released.
func (r *Registry) Stats() (created, released int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.created, r.released
}

// UsedBytes returns the number of payload bytes currently registered.
func (r *Registry) UsedBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.used
}
