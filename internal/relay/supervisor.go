package relay

import (
	"strings"
	"sync"

	"github.com/relaycast/relaycast/internal/config"
)

// Supervisor is the RelaySupervisor (spec.md §4.3): owns static_relays and
// master_relays, and serialises every mutation of either under relay_lock.
type Supervisor struct {
	relayLock sync.Mutex // relay_lock

	staticRelays map[string]*Record
	masterRelays map[string]*Record

	cfgStore *config.Store
	registry MountRegistry
	pipeline SourcePipeline
	header   HeaderParser
	stats    StatsPublisher
	yp       YPPublisher
	events   EventSink

	rescanSignal func()
}

// NewSupervisor constructs a Supervisor. rescanSignal is called (from a
// worker's own goroutine, never under relay_lock) whenever a worker
// self-terminates, so the control loop can wake promptly — it should be
// non-blocking.
func NewSupervisor(cfgStore *config.Store, registry MountRegistry, pipeline SourcePipeline, header HeaderParser, stats StatsPublisher, yp YPPublisher, events EventSink, rescanSignal func()) *Supervisor {
	if yp == nil {
		yp = noopYP{}
	}
	if events == nil {
		events = noopEvents{}
	}
	return &Supervisor{
		staticRelays: make(map[string]*Record),
		masterRelays: make(map[string]*Record),
		cfgStore:     cfgStore,
		registry:     registry,
		pipeline:     pipeline,
		header:       header,
		stats:        stats,
		yp:           yp,
		events:       events,
		rescanSignal: rescanSignal,
	}
}

// ApplyStatic reconciles static_relays with newList (spec.md §4.3:
// apply_static), then tears down what's no longer wanted and promotes
// what remains.
func (s *Supervisor) ApplyStatic(newList []*Record) {
	s.relayLock.Lock()
	defer s.relayLock.Unlock()

	for _, r := range newList {
		r.Origin = Configured
	}
	kept, toFree := reconcile(s.staticRelays, newList)
	s.staticRelays = kept
	s.tearDown(toFree)
	s.promote(s.staticRelays)
}

// ApplyMaster reconciles master_relays with newList (spec.md §4.3:
// apply_master).
func (s *Supervisor) ApplyMaster(newList []*Record) {
	s.relayLock.Lock()
	defer s.relayLock.Unlock()

	for _, r := range newList {
		r.Origin = MasterAdvertised
	}
	kept, toFree := reconcile(s.masterRelays, newList)
	s.masterRelays = kept
	s.tearDown(toFree)
	s.promote(s.masterRelays)
}

// Rescan promotes both lists without reconciliation — used to wake
// on-demand relays (spec.md §4.3: rescan).
func (s *Supervisor) Rescan() {
	s.relayLock.Lock()
	defer s.relayLock.Unlock()
	s.promote(s.staticRelays)
	s.promote(s.masterRelays)
}

// Shutdown tears down every relay in both lists (spec.md §4.6: "On
// shutdown, the loop exits its wait and tears down all relays in both
// lists").
func (s *Supervisor) Shutdown() {
	s.relayLock.Lock()
	defer s.relayLock.Unlock()
	s.tearDown(valuesOf(s.staticRelays))
	s.tearDown(valuesOf(s.masterRelays))
	s.staticRelays = make(map[string]*Record)
	s.masterRelays = make(map[string]*Record)
}

func valuesOf(m map[string]*Record) []*Record {
	out := make([]*Record, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Snapshot returns counts used by the admin API's /status endpoint.
func (s *Supervisor) Snapshot() (staticCount, masterCount, running int) {
	s.relayLock.Lock()
	defer s.relayLock.Unlock()
	staticCount = len(s.staticRelays)
	masterCount = len(s.masterRelays)
	for _, r := range s.staticRelays {
		if r.IsRunning() {
			running++
		}
	}
	for _, r := range s.masterRelays {
		if r.IsRunning() {
			running++
		}
	}
	return
}

// tearDown implements spec.md §4.3's tear_down(list). Must be called with
// relayLock held.
func (s *Supervisor) tearDown(list []*Record) {
	rebuildNeeded := false
	for _, rec := range list {
		w := rec.GetWorker()
		if w != nil {
			w.Stop()
			<-w.Done()
			rec.SetWorker(nil)
			rec.SetCleanupRequested(false)
			rec.SetRunning(false)
			rebuildNeeded = true
		} else if rec.HasSlot {
			s.stats.Clear(rec.LocalMount)
			s.registry.ClearStats(rec.LocalMount)
		}
		if rec.HasSlot {
			s.registry.Release(rec.SourceSlot)
			rec.HasSlot = false
		}
		s.events.Publish("relay_removed", rec.LocalMount, rec.Origin.String())
	}
	if rebuildNeeded {
		s.registry.RequestRebuild()
	}
}

// promote implements spec.md §4.3's promote(list) and its seven promotion
// rules. Must be called with relayLock held.
func (s *Supervisor) promote(list map[string]*Record) {
	cfg := s.cfgStore.Get()
	for mount, rec := range list {
		s.promoteOne(mount, rec, cfg)
	}
}

func (s *Supervisor) promoteOne(mount string, rec *Record, cfg *config.Config) {
	// Rule 7: a worker that self-terminated needs joining before anything
	// else runs for this record, so a freshly-dormant on-demand relay is
	// ready to be re-evaluated by rules 4-6 in the same promote() pass.
	if rec.IsCleanupRequested() {
		s.joinSelfTerminated(rec, cfg)
	}

	// Rule 1.
	if !rec.HasSlot {
		slot, err := s.registry.Reserve(mount)
		if err != nil {
			RelayLog("[relay] %s: mount already taken, leaving inert: %v", mount, err)
			s.events.Publish("relay_inert", mount, err.Error())
		} else {
			rec.SourceSlot = slot
			rec.HasSlot = true
		}
	}

	// Rule 2.
	if !strings.HasPrefix(mount, "/") {
		RelayLog("[relay] %s: local_mount must start with '/', skipping", mount)
		s.events.Publish("relay_skipped", mount, "local_mount must start with '/'")
		return
	}

	// Rule 3.
	if rec.IsRunning() {
		return
	}

	// Rule 4.
	if !rec.Enabled {
		s.stats.Clear(mount)
		s.registry.ClearStats(mount)
		s.events.Publish("relay_disabled", mount, rec.Origin.String())
		return
	}

	// Rule 5.
	if rec.OnDemand {
		if !s.onDemandDecision(rec, cfg) {
			s.events.Publish("relay_dormant", mount, rec.Origin.String())
			return
		}
	}

	// Rule 6.
	if !rec.HasSlot {
		// Reservation failed in rule 1; nothing to attach a worker to.
		return
	}
	s.spawnWorker(rec, cfg)
}

// onDemandDecision implements spec.md §4.3's on-demand decision inside rule
// 5. Returns true iff the record should proceed to rule 6 and spawn now.
func (s *Supervisor) onDemandDecision(rec *Record, cfg *config.Config) bool {
	s.registry.RequestRebuild()
	if rec.HasSlot {
		s.registry.SetListeners(rec.SourceSlot, 0)
		s.registry.SetOnDemand(rec.SourceSlot, true)
	}

	if rec.FallbackMount != "" && rec.FallbackForce {
		if fallbackSlot, ok := s.registry.Lookup(rec.FallbackMount); ok {
			if s.registry.IsRunning(fallbackSlot) && s.registry.Listeners(fallbackSlot) > 0 {
				rec.SetOnDemandRequested(true)
			}
		}
	}

	return rec.IsOnDemandRequested()
}

// spawnWorker implements rule 6: spawn a RelayWorker, attach it, mark
// running.
func (s *Supervisor) spawnWorker(rec *Record, cfg *config.Config) {
	w := newWorker(rec, cfg, deps{
		pipeline:  s.pipeline,
		header:    s.header,
		stats:     s.stats,
		registry:  s.registry,
		yp:        s.yp,
		events:    s.events,
		rescan:    s.rescanSignal,
		userAgent: cfg.ServerVersion,
	})
	rec.SetWorker(w)
	s.events.Publish("relay_started", rec.LocalMount, rec.Origin.String())
}

// joinSelfTerminated implements rule 7: join a worker that set
// cleanup_requested on its own exit, then reset the record to dormant.
func (s *Supervisor) joinSelfTerminated(rec *Record, cfg *config.Config) {
	w := rec.GetWorker()
	if w != nil {
		<-w.Done()
	}
	rec.SetWorker(nil)
	rec.SetCleanupRequested(false)
	rec.SetRunning(false)
	rec.SetOnDemandRequested(false)

	if !rec.Enabled {
		s.stats.Clear(rec.LocalMount)
		s.registry.ClearStats(rec.LocalMount)
		s.registry.RequestRebuild()
		return
	}
	if rec.OnDemand && rec.HasSlot {
		s.registry.SetOnDemand(rec.SourceSlot, true)
		s.registry.SetListeners(rec.SourceSlot, 0)
	}
}
