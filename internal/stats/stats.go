// Package stats implements the Stats collaborator: a global counter plus a
// per-mount row, grounded on the atomic-counter + stats-loop style of the
// teacher's relay.Server (activeSessions/totalSessions/totalBytesIn/Out).
package stats

import (
	"sync"
	"sync/atomic"
)

// Row is a mount's published stats, mirroring the "<local_mount>.source_ip"
// and "<local_mount>.listeners" fields from spec.md §6.
type Row struct {
	SourceIP  string
	Listeners int
}

// Publisher is the default in-memory Stats implementation.
type Publisher struct {
	counters sync.Map // name(string) -> *int64

	mu   sync.RWMutex
	rows map[string]*Row
}

// New creates an empty Publisher.
func New() *Publisher {
	return &Publisher{rows: make(map[string]*Row)}
}

// IncrCounter increments a named global counter, e.g. source_relay_connections.
func (p *Publisher) IncrCounter(name string) {
	v, _ := p.counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// Counter returns the current value of a named counter.
func (p *Publisher) Counter(name string) int64 {
	v, ok := p.counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// SetSourceIP sets the source_ip stats field for a mount.
func (p *Publisher) SetSourceIP(mount, ip string) {
	p.row(mount).SourceIP = ip
}

// SetListeners sets the listeners stats field for a mount.
func (p *Publisher) SetListeners(mount string, n int) {
	p.row(mount).Listeners = n
}

// Clear removes a mount's stats row entirely, per spec.md §6: "clears
// <local_mount> entirely when a relay is removed or disabled."
func (p *Publisher) Clear(mount string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rows, mount)
}

// Snapshot returns a copy of a mount's current stats row, if any.
func (p *Publisher) Snapshot(mount string) (Row, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rows[mount]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

func (p *Publisher) row(mount string) *Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rows[mount]
	if !ok {
		r = &Row{}
		p.rows[mount] = r
	}
	return r
}
