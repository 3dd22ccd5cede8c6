// Package fanout distributes session lifecycle and market events to
// registered callback subscribers. Delivery is synchronous: subscribers
// are plain functions invoked inline on the publishing goroutine, rather
// than buffered channels each reader drains at its own pace.
package fanout

import (
	"sync"

	"github.com/rishav/marketsim/internal/model"
)

// Callback is invoked once per fanned-out event, named by the session it
// originated from.
type Callback func(sessionID string, ev model.Event)

// Registry holds the global set of event subscribers. The session manager
// owns one Registry; every session shares it for fan-out.
type Registry struct {
	mu   sync.Mutex
	subs []Callback
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Subscribe registers cb and returns its index in the subscriber list.
func (r *Registry) Subscribe(cb Callback) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, cb)
	return len(r.subs) - 1
}

// Publish snapshots the subscriber list under the registry lock, releases
// it, then invokes every callback outside the lock. Subscribers must not
// re-enter Subscribe/Publish synchronously from within a callback while
// expecting the lock still held — it is not.
func (r *Registry) Publish(sessionID string, ev model.Event) {
	r.mu.Lock()
	snapshot := make([]Callback, len(r.subs))
	copy(snapshot, r.subs)
	r.mu.Unlock()

	for _, cb := range snapshot {
		cb(sessionID, ev)
	}
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
