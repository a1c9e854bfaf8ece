package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaycast/relaycast/internal/config"
	"github.com/relaycast/relaycast/internal/fetch"
)

// HttpFetcher is the out-of-scope collaborator MasterPoller uses to GET the
// master's streamlist (spec.md §1, §4.4). Default: internal/fetch.
type HttpFetcher interface {
	Get(ctx context.Context, url, username, password string) (*fetch.Result, error)
}

// Poller is the MasterPoller (spec.md §4.4): on master_update_interval, it
// fetches the master's streamlist and applies it to a Supervisor.
type Poller struct {
	cfgStore   *config.Store
	fetcher    HttpFetcher
	supervisor *Supervisor
	slaves     *SlaveRegistry

	stop chan struct{}
	done chan struct{}
}

// NewPoller constructs a Poller. slaves may be nil if slave-redirect
// bookkeeping isn't wanted (e.g. in tests).
func NewPoller(cfgStore *config.Store, fetcher HttpFetcher, supervisor *Supervisor, slaves *SlaveRegistry) *Poller {
	return &Poller{
		cfgStore:   cfgStore,
		fetcher:    fetcher,
		supervisor: supervisor,
		slaves:     slaves,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the poll loop in its own goroutine. The loop exits at once if
// no master_server is configured when it starts; otherwise it runs until
// Stop is called.
func (p *Poller) Start() {
	go p.loop()
}

// Stop ends the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) loop() {
	defer close(p.done)

	cfg := p.cfgStore.Get()
	if cfg.MasterServer == "" {
		return
	}

	interval := time.Duration(cfg.MasterUpdateInterval) * time.Second
	p.pollOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			cfg = p.cfgStore.Get()
			if cfg.MasterServer == "" {
				continue
			}
			p.pollOnce()
		}
	}
}

// pollOnce implements one fetch-and-apply cycle (spec.md §4.4): build the
// streamlist URL, fetch it (https iff master_ssl_port is set), synthesize
// Records from 200-only responses, then hand the result to the supervisor.
// A correlation ID ties together the log lines of a single cycle.
func (p *Poller) pollOnce() {
	cycleID := uuid.NewString()
	cfg := p.cfgStore.Get()

	details := &MasterConnDetails{
		Host:     cfg.MasterServer,
		Port:     cfg.MasterServerPort,
		SSL:      cfg.MasterSSLPort != 0,
		Username: cfg.MasterUsername,
		Password: cfg.MasterPassword,
	}
	if details.SSL {
		details.Port = cfg.MasterSSLPort
	}

	url := streamlistURL(details)
	ctx := context.Background()
	result, err := p.fetcher.Get(ctx, url, details.Username, details.Password)
	if err != nil {
		RelayLog("[master-poll %s] fetching %s: %v", cycleID, url, err)
		return
	}
	defer result.Body.Close()

	if result.StatusCode != 200 {
		RelayLog("[master-poll %s] master returned status %d, streamlist rejected", cycleID, result.StatusCode)
		return
	}
	details.OK = true

	if err := p.consume(result.Body, details, cfg, cycleID); err != nil && err != io.EOF {
		RelayLog("[master-poll %s] reading streamlist: %v", cycleID, err)
	}

	RelayLog("[master-poll %s] applying %d master-advertised relays", cycleID, len(details.Records))
	p.supervisor.ApplyMaster(details.Records)
	if p.slaves != nil && cfg.MasterRedirectPort != 0 {
		p.slaves.EnsureSelf(cfg.LocalHostname, cfg.MasterRedirectPort)
	}
}

// consume reads the response body in chunks, appending to details.partial
// across reads so a streamlist line split across two TCP reads still parses
// correctly (spec.md §4.4's partial-line buffering).
func (p *Poller) consume(body io.Reader, details *MasterConnDetails, cfg *config.Config, cycleID string) error {
	r := bufio.NewReaderSize(body, 4096)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			details.partial += line
			for {
				idx := strings.IndexByte(details.partial, '\n')
				if idx < 0 {
					break
				}
				raw := details.partial[:idx]
				details.partial = details.partial[idx+1:]
				if rec := parseStreamlistLine(raw, details, cfg); rec != nil {
					details.Records = append(details.Records, rec)
				}
			}
		}
		if err != nil {
			if err == io.EOF && strings.TrimSpace(details.partial) != "" {
				if rec := parseStreamlistLine(details.partial, details, cfg); rec != nil {
					details.Records = append(details.Records, rec)
				}
				details.partial = ""
			}
			return err
		}
	}
}

// parseStreamlistLine parses one master streamlist entry: a bare mount path
// ("/foo"), the whole of which is both the local and upstream mount. The
// master is always the upstream host for its own advertised mounts, so
// upstream host/port come from details, not the line itself; on_demand is
// never per-line, it's config.on_demand applied uniformly to every
// master-advertised relay. Credentials are copied from details only when
// master_relay_auth is set.
func parseStreamlistLine(line string, details *MasterConnDetails, cfg *config.Config) *Record {
	mount := strings.TrimSpace(line)
	if mount == "" || strings.HasPrefix(mount, "#") {
		return nil
	}

	rec := &Record{
		LocalMount:      mount,
		UpstreamHost:    details.Host,
		UpstreamPort:    details.Port,
		UpstreamMount:   mount,
		SendICYMetadata: true,
		OnDemand:        cfg.OnDemandDefault,
		Enabled:         true,
		Origin:          MasterAdvertised,
	}
	if cfg.MasterRelayAuth {
		rec.Username = details.Username
		rec.Password = details.Password
	}
	return rec
}

func streamlistURL(d *MasterConnDetails) string {
	scheme := "http"
	if d.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s/admin/streamlist.txt", scheme, d.Host, strconv.Itoa(d.Port))
}
