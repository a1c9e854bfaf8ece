package relay

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/relaycast/relaycast/internal/config"
)

// workerState is the RelayWorker state machine from spec.md §4.1:
// Connecting → HeaderRead → Streaming → Terminating, with any state able to
// transition directly to Terminating on error.
type workerState int

const (
	stateConnecting workerState = iota
	stateHeaderRead
	stateStreaming
	stateTerminating
)

// Worker is a RelayWorker: it drives one upstream HTTP/1.0 fetch into a
// SourcePipeline for the lifetime of that connection.
type Worker struct {
	record *Record
	state  atomic.Int32
	done   chan struct{}
	// runningFlag is the cancellation switch spec.md §5 describes: the
	// supervisor flips it false to stop the worker; SourcePipeline.Main
	// observes it at each streaming iteration.
	runningFlag atomic.Bool
}

func (w *Worker) setState(s workerState) { w.state.Store(int32(s)) }

// State returns the worker's current lifecycle state, for observability.
func (w *Worker) State() workerState { return workerState(w.state.Load()) }

// Stop signals the worker to end its streaming loop at the next iteration.
// It does not join — the caller (RelaySupervisor.tearDown) does that by
// waiting on Done().
func (w *Worker) Stop() { w.runningFlag.Store(false) }

// Done returns a channel closed when the worker has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// deps bundles the collaborators Worker.Run needs, so callers (the
// supervisor, tests) can swap in fakes without the worker importing
// concrete packages directly.
type deps struct {
	pipeline  SourcePipeline
	header    HeaderParser
	stats     StatsPublisher
	registry  MountRegistry
	yp        YPPublisher
	events    EventSink
	rescan    func()
	userAgent string
	dialer    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// newWorker constructs a Worker and starts running it in its own goroutine.
// rec must already have a reserved SourceSlot (spec.md §4.1 contract).
func newWorker(rec *Record, cfg *config.Config, d deps) *Worker {
	w := &Worker{
		record: rec,
		done:   make(chan struct{}),
	}
	w.runningFlag.Store(true)
	w.setState(stateConnecting)
	rec.SetRunning(true)

	go func() {
		defer close(w.done)
		w.run(cfg, d)
	}()
	return w
}

// run implements spec.md §4.1's connect/stream/termination phases.
func (w *Worker) run(cfg *config.Config, d deps) {
	rec := w.record
	defer func() {
		rec.SetCleanupRequested(true)
		if d.rescan != nil {
			d.rescan()
		}
	}()

	conn, err := w.connect(cfg, d)
	if err != nil {
		RelayLog("[relay] %s: connect failed: %v", rec.LocalMount, err)
		w.handleFailure(d)
		return
	}
	defer conn.Close()

	w.setState(stateHeaderRead)
	resp, err := w.readResponse(conn, d)
	if err != nil {
		RelayLog("[relay] %s: reading upstream response: %v", rec.LocalMount, err)
		w.handleFailure(d)
		return
	}
	defer resp.Body.Close()

	ctx := context.Background()
	if err := d.pipeline.CompleteSource(ctx, rec.SourceSlot, resp); err != nil {
		RelayLog("[relay] %s: complete_source failed: %v", rec.LocalMount, err)
		w.handleFailure(d)
		return
	}

	d.stats.IncrCounter("source_relay_connections")
	d.stats.SetSourceIP(rec.LocalMount, rec.UpstreamHost)
	d.registry.SetSourceIP(rec.SourceSlot, rec.UpstreamHost)

	w.setState(stateStreaming)
	d.registry.SetRunning(rec.SourceSlot, true)
	if err := d.pipeline.Main(ctx, rec.SourceSlot, &w.runningFlag); err != nil {
		RelayLog("[relay] %s: stream ended with error: %v", rec.LocalMount, err)
	}

	w.setState(stateTerminating)
	w.terminate(d)
}

// connect implements spec.md §4.1 steps 1-2: TCP-connect with a 10-second
// timeout, then build and send the upstream GET request.
func (w *Worker) connect(cfg *config.Config, d deps) (net.Conn, error) {
	rec := w.record
	addr := net.JoinHostPort(rec.UpstreamHost, strconv.Itoa(rec.UpstreamPort))

	dial := d.dialer
	if dial == nil {
		dialer := net.Dialer{Timeout: connectTimeout}
		dial = dialer.DialContext
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	if err := w.sendRequest(conn, cfg, d); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// sendRequest builds and writes the upstream GET request per spec.md §6.
func (w *Worker) sendRequest(conn net.Conn, cfg *config.Config, d deps) error {
	rec := w.record
	ua := d.userAgent
	if ua == "" {
		ua = cfg.ServerVersion
	}

	req := fmt.Sprintf("GET %s HTTP/1.0\r\n", rec.UpstreamMount)
	req += fmt.Sprintf("User-Agent: %s\r\n", ua)
	if rec.SendICYMetadata {
		req += "Icy-MetaData: 1\r\n"
	}
	if cfg.MasterRedirectPort != 0 {
		req += fmt.Sprintf("ice-redirect: %s:%d\r\n", cfg.LocalHostname, cfg.MasterRedirectPort)
	}
	if rec.hasCredentials() {
		auth := base64.StdEncoding.EncodeToString([]byte(rec.Username + ":" + rec.Password))
		req += fmt.Sprintf("Authorization: Basic %s\r\n", auth)
	}
	req += "\r\n"

	_, err := conn.Write([]byte(req))
	return err
}

// readResponse implements spec.md §4.1 step 3: read the full header block
// (bounded to 4 KiB) and parse it via HeaderParser.
func (w *Worker) readResponse(conn net.Conn, d deps) (*http.Response, error) {
	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	r := bufio.NewReader(conn)
	status, header, err := d.header.ParseResponse(r)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("upstream returned status %d", status)
	}
	conn.SetReadDeadline(time.Time{})
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       readerBody{r, conn},
	}, nil
}

// readerBody adapts a bufio.Reader plus the underlying connection into an
// io.ReadCloser for http.Response.Body, so any bytes already buffered past
// the header block aren't lost.
type readerBody struct {
	r *bufio.Reader
	c net.Conn
}

func (b readerBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b readerBody) Close() error               { return nil }

// handleFailure implements the connect-failure / stream-failure path from
// spec.md §4.1: if a fallback is configured on the reserved source, move
// listeners across before tearing down.
func (w *Worker) handleFailure(d deps) {
	rec := w.record
	mount, present, _ := d.pipeline.FallbackMount(rec.SourceSlot)
	if present {
		if fallbackSlot, ok := d.registry.Lookup(mount); ok {
			moved := d.registry.MoveListeners(rec.SourceSlot, fallbackSlot)
			if moved > 0 {
				RelayLog("[relay] %s: moved %d listeners to fallback %s", rec.LocalMount, moved, mount)
			}
		}
	}
	w.setState(stateTerminating)
	w.terminate(d)
}

// terminate implements spec.md §4.1 steps 8-9: deregister from the
// directory subsystem unless on-demand, then signal supervisor rescan (the
// deferred block in run() sets cleanup_requested and calls d.rescan).
// Running itself is left alone — rule 7 of the promotion rules (spec.md
// §4.3) clears running only once the supervisor has joined this worker,
// preserving the invariant that only the supervisor writes running.
func (w *Worker) terminate(d deps) {
	rec := w.record
	if !rec.OnDemand {
		d.yp.Deregister(rec.LocalMount)
	}
	d.registry.SetRunning(rec.SourceSlot, false)
	if d.events != nil {
		d.events.Publish("worker_terminated", rec.LocalMount, "")
	}
}
