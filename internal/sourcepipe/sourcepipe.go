// Package sourcepipe implements the SourcePipeline collaborator: the
// minimal format-agnostic byte pump a RelayWorker hands its upstream
// connection to. The real demux/remux pipeline is out of scope (spec.md
// §1); this is a working stand-in so cmd/relayd runs end to end, grounded
// on the teacher's io.CopyBuffer bridge in internal/relay/server.go.
package sourcepipe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/relaycast/relaycast/internal/mountreg"
)

// bridgeBufferSize matches the teacher's 256KB relay bridge buffer, sized
// for bulk audio transfer rather than the stdlib's 32KB default.
const bridgeBufferSize = 256 * 1024

// fallbackConfig is the fallback_mount/fallback_override pair a source can
// carry, set via SetFallback and read by RelayWorker's failure path.
type fallbackConfig struct {
	mount    string
	override bool
}

// Pipeline is the default SourcePipeline. Each reserved slot gets a pump
// that copies bytes from the upstream response body into any registered
// sink writers (e.g. a test harness standing in for listener fan-out).
type Pipeline struct {
	mu        sync.Mutex
	fallbacks map[string]fallbackConfig
	sinks     map[string][]io.Writer
	bodies    map[string]io.ReadCloser
}

// New creates an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{
		fallbacks: make(map[string]fallbackConfig),
		sinks:     make(map[string][]io.Writer),
		bodies:    make(map[string]io.ReadCloser),
	}
}

// SetFallback configures a slot's fallback mount and override flag, which
// FallbackMount then reports to RelayWorker's failure path. Only tests call
// it; RelaySupervisor's promotion rule 5 reads the fallback from the Record
// and the MountRegistry instead.
func (p *Pipeline) SetFallback(mount, fallbackMount string, override bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallbacks[mount] = fallbackConfig{mount: fallbackMount, override: override}
}

// AddSink registers a writer that receives bytes streamed through slot's
// mount. Used by tests to observe what a relay actually pumped.
func (p *Pipeline) AddSink(mount string, w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks[mount] = append(p.sinks[mount], w)
}

// CompleteSource performs format detection (a no-op here — see package doc)
// and wires the response body as the slot's active source.
func (p *Pipeline) CompleteSource(ctx context.Context, slot mountreg.Slot, r *http.Response) error {
	if r.Body == nil {
		return fmt.Errorf("complete_source: nil response body for %s", slot.Mount())
	}
	p.mu.Lock()
	p.bodies[slot.Mount()] = r.Body
	p.mu.Unlock()
	return nil
}

// Main runs the pump for slot until the upstream response ends, the context
// is cancelled, or running flips to false — the supervisor's teardown
// signal from spec.md §5 ("Cancellation"). It copies the response body
// CompleteSource wired in into the slot's registered sinks.
func (p *Pipeline) Main(ctx context.Context, slot mountreg.Slot, running *atomic.Bool) error {
	p.mu.Lock()
	body := p.bodies[slot.Mount()]
	sinks := append([]io.Writer(nil), p.sinks[slot.Mount()]...)
	p.mu.Unlock()
	if body == nil {
		return fmt.Errorf("main: no source completed for %s", slot.Mount())
	}
	defer func() {
		p.mu.Lock()
		delete(p.bodies, slot.Mount())
		p.mu.Unlock()
	}()

	buf := make([]byte, bridgeBufferSize)
	for {
		if running != nil && !running.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			for _, w := range sinks {
				w.Write(buf[:n])
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// FallbackMount reports the configured fallback for a mount, matching the
// SourcePipeline.fallback_mount / fallback_override fields spec.md §4.1 and
// §4.3 consult.
func (p *Pipeline) FallbackMount(slot mountreg.Slot) (string, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fc, ok := p.fallbacks[slot.Mount()]
	if !ok || fc.mount == "" {
		return "", false, false
	}
	return fc.mount, true, fc.override
}
