package hub

import (
	"sort"
	"sync"
)

// Registry is the set of live connections keyed by connection ID.
// Mutations happen only on the hub's event loop; reads are safe from anywhere.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add inserts a client under its ID
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
}

// Remove deletes the client with the given ID and returns it
func (r *Registry) Remove(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	return c, ok
}

// Get returns the client with the given ID
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Peers returns a snapshot of every client except the one with exceptID
func (r *Registry) Peers(exceptID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id != exceptID {
			peers = append(peers, c)
		}
	}
	return peers
}

// IDs returns the sorted IDs of all live connections
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// drain removes every client and returns them
func (r *Registry) drain() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		all = append(all, c)
		delete(r.clients, id)
	}
	return all
}

// Forward queues msg to every client in reg except the sender.
// A recipient whose queue is full misses this message; the others still get it.
func Forward(reg *Registry, fromID string, msg Message) (delivered, dropped int) {
	for _, peer := range reg.Peers(fromID) {
		if peer.enqueue(msg) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
