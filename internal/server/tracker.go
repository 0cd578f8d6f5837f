package server

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// tracker records the requests currently being processed so a user cannot
// queue the same question twice.
type tracker struct {
	mu         sync.Mutex
	processing map[string]bool
}

func newTracker() *tracker {
	return &tracker{processing: make(map[string]bool)}
}

// tryAdd marks id as in flight. Returns false when it already is.
func (t *tracker) tryAdd(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processing[id] {
		return false
	}
	t.processing[id] = true
	return true
}

func (t *tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processing, id)
}

// requestID fingerprints a request by its user and question text.
func requestID(username, text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s_%x", username, h.Sum64())
}
