package relay

import (
	"bufio"
	"context"
	"net/http"
	"sync/atomic"

	"github.com/relaycast/relaycast/internal/mountreg"
)

// SourcePipeline is the out-of-scope collaborator spec.md §1 names: the
// audio demux/remux pipeline a RelayWorker hands its stream to. Default
// implementation: internal/sourcepipe.
type SourcePipeline interface {
	CompleteSource(ctx context.Context, slot mountreg.Slot, r *http.Response) error
	Main(ctx context.Context, slot mountreg.Slot, running *atomic.Bool) error
	FallbackMount(slot mountreg.Slot) (mount string, present bool, override bool)
}

// HeaderParser is the out-of-scope collaborator that parses a relay's
// upstream HTTP/1.0 response header block. Default: internal/headerparser.
type HeaderParser interface {
	ParseResponse(r *bufio.Reader) (status int, header http.Header, err error)
}

// StatsPublisher is the out-of-scope Stats collaborator (spec.md §6).
// Default: internal/stats.
type StatsPublisher interface {
	IncrCounter(name string)
	SetSourceIP(mount, ip string)
	SetListeners(mount string, n int)
	Clear(mount string)
}

// MountRegistry is the out-of-scope collaborator owning source-slot
// reservation and fallback lookup (spec.md §3, §4.3). Default:
// internal/mountreg.
type MountRegistry interface {
	Reserve(mount string) (mountreg.Slot, error)
	Release(slot mountreg.Slot)
	Lookup(mount string) (mountreg.Slot, bool)
	SetRunning(slot mountreg.Slot, running bool)
	IsRunning(slot mountreg.Slot) bool
	Listeners(slot mountreg.Slot) int
	SetListeners(slot mountreg.Slot, n int)
	SetSourceIP(slot mountreg.Slot, ip string)
	SetOnDemand(slot mountreg.Slot, onDemand bool)
	MoveListeners(from, to mountreg.Slot) int
	ClearStats(mount string)
	RequestRebuild()
}

// YPPublisher is the out-of-scope directory-subsystem collaborator a worker
// tells to deregister a mount on termination (spec.md §4.1 step 8).
type YPPublisher interface {
	Deregister(mount string)
}

// EventSink receives best-effort, non-blocking lifecycle notifications from
// the supervisor (SPEC_FULL.md §4.3 expansion) — the admin hub is the
// production implementation; nil is a valid no-op sink.
type EventSink interface {
	Publish(kind, mount, detail string)
}

// noopEvents discards every event; used when no sink is wired.
type noopEvents struct{}

func (noopEvents) Publish(string, string, string) {}

// noopYP discards deregistration requests; used when no YP subsystem is
// wired (the directory feature itself is out of scope for this repo).
type noopYP struct{}

func (noopYP) Deregister(string) {}
