// Package relay implements the relay control plane: RelayRecord,
// RelayWorker, SetReconciler, RelaySupervisor, MasterPoller, SlaveRegistry
// and ControlLoop, per spec.md §§3-4.
package relay

import (
	"strconv"
	"sync"
	"time"

	"github.com/relaycast/relaycast/internal/mountreg"
)

// Origin tags whether a record came from static configuration or from a
// master streamlist poll (spec.md §3: "Configured" or "MasterAdvertised").
type Origin int

const (
	Configured Origin = iota
	MasterAdvertised
)

func (o Origin) String() string {
	if o == MasterAdvertised {
		return "master-advertised"
	}
	return "configured"
}

// Record is a RelayRecord: an immutable-once-running description plus the
// mutable runtime handle of a single relay (spec.md §3).
type Record struct {
	// Configuration fields.
	LocalMount      string
	UpstreamHost    string
	UpstreamPort    int
	UpstreamMount   string
	Username        string
	Password        string
	SendICYMetadata bool
	OnDemand        bool
	Enabled         bool
	FallbackMount   string
	FallbackForce   bool

	Origin Origin

	// Runtime fields. runtimeMu guards the fields below: the supervisor
	// mutates them under relay_lock, but the worker goroutine must also be
	// able to set cleanupRequested from outside relay_lock on its own exit
	// path (spec.md §3 invariant: "cleanup_requested is set only by
	// the worker (on self-exit) or by the supervisor"). relay_lock still
	// serialises all *list* mutation (start/stop/reconcile); runtimeMu only
	// protects this one record's fields from the two writers racing.
	runtimeMu         sync.Mutex
	SourceSlot        mountreg.Slot
	HasSlot           bool
	worker            *Worker
	running           bool
	cleanupRequested  bool
	onDemandRequested bool

	// Generation is bumped only when relay_has_changed reports true for this
	// mount across a reconcile; it is a log-correlation aid, never consulted
	// by reconciliation or promotion logic (SPEC_FULL.md §3).
	Generation int
}

// SetWorker attaches or clears the running worker handle.
func (r *Record) SetWorker(w *Worker) {
	r.runtimeMu.Lock()
	r.worker = w
	r.runtimeMu.Unlock()
}

// GetWorker returns the current worker handle, or nil.
func (r *Record) GetWorker() *Worker {
	r.runtimeMu.Lock()
	defer r.runtimeMu.Unlock()
	return r.worker
}

// SetRunning sets the running flag.
func (r *Record) SetRunning(v bool) {
	r.runtimeMu.Lock()
	r.running = v
	r.runtimeMu.Unlock()
}

// IsRunning reports the running flag.
func (r *Record) IsRunning() bool {
	r.runtimeMu.Lock()
	defer r.runtimeMu.Unlock()
	return r.running
}

// SetCleanupRequested sets the cleanup_requested flag. Per spec.md §3 this
// is the one field both the worker (self-exit) and the supervisor
// (configured removal) are allowed to write.
func (r *Record) SetCleanupRequested(v bool) {
	r.runtimeMu.Lock()
	r.cleanupRequested = v
	r.runtimeMu.Unlock()
}

// IsCleanupRequested reports the cleanup_requested flag.
func (r *Record) IsCleanupRequested() bool {
	r.runtimeMu.Lock()
	defer r.runtimeMu.Unlock()
	return r.cleanupRequested
}

// SetOnDemandRequested sets on_demand_req, the "steal the fallback's
// listeners now" flag from spec.md §4.3's on-demand decision.
func (r *Record) SetOnDemandRequested(v bool) {
	r.runtimeMu.Lock()
	r.onDemandRequested = v
	r.runtimeMu.Unlock()
}

// IsOnDemandRequested reports on_demand_req.
func (r *Record) IsOnDemandRequested() bool {
	r.runtimeMu.Lock()
	defer r.runtimeMu.Unlock()
	return r.onDemandRequested
}

// hasCredentials reports whether the record carries upstream auth.
func (r *Record) hasCredentials() bool {
	return r.Username != "" || r.Password != ""
}

// relayHasChanged implements spec.md §4.2's relay_has_changed: compares
// upstream_mount, upstream_host, upstream_port, send_icy_metadata only.
// on_demand, credentials, and enabled are deliberately excluded — see
// DESIGN.md's Open Question resolution.
func relayHasChanged(desired, existing *Record) bool {
	return desired.UpstreamMount != existing.UpstreamMount ||
		desired.UpstreamHost != existing.UpstreamHost ||
		desired.UpstreamPort != existing.UpstreamPort ||
		desired.SendICYMetadata != existing.SendICYMetadata
}

// MasterConnDetails is the poller's scratch state across chunked reads:
// master URL parts, credentials, the partial-line buffer, and an ok flag
// asserted only on HTTP 200 (spec.md §3).
type MasterConnDetails struct {
	Host     string
	Port     int
	SSL      bool
	Username string
	Password string

	partial string
	Records []*Record
	OK      bool
}

// SlaveHost is a peer this node can redirect listeners to (spec.md §3).
type SlaveHost struct {
	Server string
	Port   int
	Count  int
}

// key returns the (server, port) identity SlaveRegistry keys hosts by.
func (h SlaveHost) key() string {
	return slaveKey(h.Server, h.Port)
}

func slaveKey(server string, port int) string {
	return server + ":" + strconv.Itoa(port)
}

// connectTimeout is the TCP connect budget from spec.md §4.1 step 1.
const connectTimeout = 10 * time.Second
