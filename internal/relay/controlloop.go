package relay

import (
	"sync"
	"time"

	"github.com/relaycast/relaycast/internal/config"
	"github.com/relaycast/relaycast/internal/watcher"
)

// tickInterval is the ControlLoop's base cadence (spec.md §4.6: "ticks once
// per second").
const tickInterval = time.Second

// ControlLoop is the top-level driver (spec.md §4.6): it owns the
// Supervisor, the MasterPoller, the SlaveRegistry, and the config watcher,
// and alternates full reconciliation cycles with light rescan-only cycles.
type ControlLoop struct {
	cfgStore   *config.Store
	configPath string
	supervisor *Supervisor
	poller     *Poller
	slaves     *SlaveRegistry
	watcher    *watcher.Watcher

	rescanMu      sync.Mutex
	rescanPending bool

	fullCycleEvery int // every Nth tick re-applies static relays; any tick drains a pending rescan
	tickCount      int

	stop chan struct{}
	done chan struct{}
}

// NewControlLoop wires a ControlLoop together. fullCycleEvery controls how
// many 1-second ticks pass between full static-config reconciliations;
// a light rescan runs on any tick at which a rescan has been requested.
func NewControlLoop(cfgStore *config.Store, configPath string, supervisor *Supervisor, poller *Poller, slaves *SlaveRegistry, fullCycleEvery int) *ControlLoop {
	if fullCycleEvery <= 0 {
		fullCycleEvery = 5
	}
	cl := &ControlLoop{
		cfgStore:       cfgStore,
		configPath:     configPath,
		supervisor:     supervisor,
		poller:         poller,
		slaves:         slaves,
		fullCycleEvery: fullCycleEvery,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	return cl
}

// RequestRescan is the non-blocking signal handed to workers (through the
// supervisor's rescan callback) and to the admin API: it marks a rescan pending for the next tick rather than running
// reconciliation inline on the caller's goroutine (spec.md §4.1's
// "signal the supervisor" step).
func (cl *ControlLoop) RequestRescan() {
	cl.rescanMu.Lock()
	cl.rescanPending = true
	cl.rescanMu.Unlock()
}

// Start launches the config watcher (if configPath is set) and the tick
// loop, both in their own goroutines.
func (cl *ControlLoop) Start() error {
	if cl.configPath != "" {
		w, err := watcher.New(cl.configPath, 2*time.Second, cl.reloadConfig)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		cl.watcher = w
	}
	if cl.poller != nil {
		cl.poller.Start()
	}

	cl.applyStaticFromConfig()
	go cl.loop()
	return nil
}

// Stop ends the tick loop, the poller and the watcher, then tears down
// every relay (spec.md §4.6: "On shutdown ... tears down all relays").
func (cl *ControlLoop) Stop() {
	close(cl.stop)
	<-cl.done
	if cl.poller != nil {
		cl.poller.Stop()
	}
	if cl.watcher != nil {
		cl.watcher.Stop()
	}
	cl.supervisor.Shutdown()
}

func (cl *ControlLoop) loop() {
	defer close(cl.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.tickCount++
			cl.tick()
		}
	}
}

// tick implements the full/light cycle split: every fullCycleEvery ticks it
// re-applies the static relays of the current config snapshot (the file
// itself is re-read only by reloadConfig); every tick it drains a
// pending rescan signal so on-demand relays and self-terminated workers are
// promoted promptly.
func (cl *ControlLoop) tick() {
	if cl.tickCount%cl.fullCycleEvery == 0 {
		cl.applyStaticFromConfig()
	}

	cl.rescanMu.Lock()
	pending := cl.rescanPending
	cl.rescanPending = false
	cl.rescanMu.Unlock()

	if pending {
		cl.supervisor.Rescan()
	}
}

// reloadConfig is the watcher's onChange callback: reread the config file
// and apply it as a fresh static-relay reconciliation cycle.
func (cl *ControlLoop) reloadConfig() {
	cfg, err := config.Load(cl.configPath)
	if err != nil {
		RelayLog("[control-loop] reloading config: %v", err)
		return
	}
	cl.cfgStore.Set(cfg)
	cl.applyStaticFromConfig()
}

func (cl *ControlLoop) applyStaticFromConfig() {
	cfg := cl.cfgStore.Get()
	records := make([]*Record, 0, len(cfg.Relays))
	for _, rs := range cfg.Relays {
		records = append(records, &Record{
			LocalMount:      rs.LocalMount,
			UpstreamHost:    rs.Server,
			UpstreamPort:    rs.Port,
			UpstreamMount:   rs.Mount,
			Username:        rs.Username,
			Password:        rs.Password,
			SendICYMetadata: rs.Mp3Metadata,
			OnDemand:        rs.OnDemand,
			Enabled:         rs.Enable,
			FallbackMount:   rs.FallbackMount,
			FallbackForce:   rs.FallbackForce,
			Origin:          Configured,
		})
	}
	cl.supervisor.ApplyStatic(records)
}
