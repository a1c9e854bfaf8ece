package relay

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// SlaveRegistry is the slave-host registry (spec.md §3, §4.5): the set of
// peer hosts listeners can be redirected to when this node is full or a
// mount is unavailable locally. Entries are created the first time a
// listener's ice-redirect header names a peer and destroyed once that
// peer's listener count decrements back to zero.
type SlaveRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*SlaveHost
	count int // global slave_count (spec.md §5, §9): sum of live entries
}

// NewSlaveRegistry returns an empty registry.
func NewSlaveRegistry() *SlaveRegistry {
	return &SlaveRegistry{hosts: make(map[string]*SlaveHost)}
}

// Add finds or creates the (server, port) entry and increments its listener
// count (spec.md §4.5: add). A newly-created entry starts at count 1 and
// bumps the global slave_count.
func (r *SlaveRegistry) Add(server string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := slaveKey(server, port)
	if h, ok := r.hosts[k]; ok {
		h.Count++
		return
	}
	r.hosts[k] = &SlaveHost{Server: server, Port: port, Count: 1}
	r.count++
}

// RemoveFor implements remove_for(client) (spec.md §4.5, §6): parses a
// listener's inbound "ice-redirect: server:port" header value, decrements
// that entry's count, and unlinks it once count reaches zero. Reports false
// if the header doesn't parse or names an entry that isn't registered.
func (r *SlaveRegistry) RemoveFor(iceRedirectHeader string) bool {
	server, port, ok := ParseICYRedirectHeader(iceRedirectHeader)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := slaveKey(server, port)
	h, ok := r.hosts[k]
	if !ok {
		return false
	}
	h.Count--
	if h.Count <= 0 {
		delete(r.hosts, k)
		r.count--
	}
	return true
}

// Remove decrements a single (server, port) entry directly, unlinking it at
// zero. Used for entries not driven by an inbound header (e.g. admin
// teardown).
func (r *SlaveRegistry) Remove(server string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := slaveKey(server, port)
	h, ok := r.hosts[k]
	if !ok {
		return
	}
	h.Count--
	if h.Count <= 0 {
		delete(r.hosts, k)
		r.count--
	}
}

// PickRandom returns a uniformly random slave host, for overflow redirects
// (spec.md §4.5: pick_random). ok is false if the registry is empty.
func (r *SlaveRegistry) PickRandom() (SlaveHost, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.hosts) == 0 {
		return SlaveHost{}, false
	}
	idx := rand.Intn(len(r.hosts))
	i := 0
	for _, h := range r.hosts {
		if i == idx {
			return *h, true
		}
		i++
	}
	return SlaveHost{}, false
}

// EnsureSelf seeds the registry with this node's own (hostname,
// master_redirect_port) as a slave of itself (spec.md §4.5 design note:
// "seeded automatically... added once on startup and refreshed at every
// poll"). This is a distinct code path from Add: the self-entry isn't
// driven by listener ice-redirect headers, so a repeated poll must leave
// an already-seeded entry untouched rather than incrementing its count.
func (r *SlaveRegistry) EnsureSelf(hostname string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := slaveKey(hostname, port)
	if _, ok := r.hosts[k]; ok {
		return
	}
	r.hosts[k] = &SlaveHost{Server: hostname, Port: port, Count: 0}
	r.count++
}

// Snapshot returns every known slave host, for the admin API.
func (r *SlaveRegistry) Snapshot() []SlaveHost {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SlaveHost, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, *h)
	}
	return out
}

// Len reports how many slave hosts are currently registered.
func (r *SlaveRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// SlaveCount reports the global slave_count (spec.md §9).
func (r *SlaveRegistry) SlaveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// ParseICYRedirectHeader parses an inbound "ice-redirect: <server>:<port>"
// header value into its (server, port) pair (spec.md §6).
func ParseICYRedirectHeader(value string) (server string, port int, ok bool) {
	value = strings.TrimSpace(value)
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return "", 0, false
	}
	server = value[:idx]
	p, err := strconv.Atoi(value[idx+1:])
	if err != nil || server == "" {
		return "", 0, false
	}
	return server, p, true
}
