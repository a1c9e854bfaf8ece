// Package config loads relay configuration from a flat key=value file plus
// environment overrides, matching the teacher's internal/config.Load split
// between loadFromFile and loadFromEnv. The loaded *Config is swapped under
// an atomic.Pointer rather than the teacher's explicit lock: spec.md §5
// calls for "config_get_config / config_release_config" semantics, and in
// Go an atomic pointer swap gives equivalent get-a-consistent-snapshot
// behaviour without needing a matching release call (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// RelaySpec is one static relay entry from the "relay" config list
// (spec.md §6: server, port, mount, local_mount, username?, password?,
// mp3metadata, on_demand, enable).
type RelaySpec struct {
	Server        string
	Port          int
	Mount         string
	LocalMount    string
	Username      string
	Password      string
	Mp3Metadata   bool
	OnDemand      bool
	Enable        bool
	FallbackMount string
	FallbackForce bool
}

// Config holds every configuration key consumed by the relay control plane
// (spec.md §6).
type Config struct {
	ServerVersion string // used as the User-Agent on relay fetches
	LocalHostname string

	MasterServer         string
	MasterServerPort     int
	MasterSSLPort        int // 0 = not configured; proto is https iff set
	MasterUsername       string
	MasterPassword       string
	MasterUpdateInterval int // seconds
	MasterRelayAuth      bool
	MasterRedirectPort   int // 0 = not configured
	OnDemandDefault      bool

	Relays []RelaySpec

	AdminAPIAddr string
}

// Load reads path (if it exists) then applies environment overrides.
// A missing file is not an error — defaults plus env vars are enough to run.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServerVersion:         "relaycast/1.0",
		MasterServerPort:      8000,
		MasterUpdateInterval: 120,
		AdminAPIAddr:          ":8080",
	}
	cfg.LocalHostname = getHostname()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	cfg.loadFromEnv()

	if cfg.MasterUpdateInterval <= 0 {
		cfg.MasterUpdateInterval = 120
	}
	return cfg, nil
}

// loadFromFile parses a flat key=value file. A "relay" key may repeat; each
// occurrence starts a fresh RelaySpec that subsequent relay_* keys populate
// until the next "relay" line (or EOF).
func (cfg *Config) loadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var current *RelaySpec
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "server_version":
			cfg.ServerVersion = value
		case "local_hostname":
			cfg.LocalHostname = value
		case "master_server":
			cfg.MasterServer = value
		case "master_server_port":
			cfg.MasterServerPort = atoiOr(value, cfg.MasterServerPort)
		case "master_ssl_port":
			cfg.MasterSSLPort = atoiOr(value, cfg.MasterSSLPort)
		case "master_username":
			cfg.MasterUsername = value
		case "master_password":
			cfg.MasterPassword = value
		case "master_update_interval":
			cfg.MasterUpdateInterval = atoiOr(value, cfg.MasterUpdateInterval)
		case "master_relay_auth":
			cfg.MasterRelayAuth = parseBool(value)
		case "master_redirect_port":
			cfg.MasterRedirectPort = atoiOr(value, cfg.MasterRedirectPort)
		case "on_demand":
			cfg.OnDemandDefault = parseBool(value)
		case "admin_api_addr":
			cfg.AdminAPIAddr = value

		case "relay":
			cfg.Relays = append(cfg.Relays, RelaySpec{Enable: true})
			current = &cfg.Relays[len(cfg.Relays)-1]
		case "relay.server":
			if current != nil {
				current.Server = value
			}
		case "relay.port":
			if current != nil {
				current.Port = atoiOr(value, 0)
			}
		case "relay.mount":
			if current != nil {
				current.Mount = value
			}
		case "relay.local_mount":
			if current != nil {
				current.LocalMount = value
			}
		case "relay.username":
			if current != nil {
				current.Username = value
			}
		case "relay.password":
			if current != nil {
				current.Password = value
			}
		case "relay.mp3metadata":
			if current != nil {
				current.Mp3Metadata = parseBool(value)
			}
		case "relay.on_demand":
			if current != nil {
				current.OnDemand = parseBool(value)
			}
		case "relay.enable":
			if current != nil {
				current.Enable = parseBool(value)
			}
		case "relay.fallback_mount":
			if current != nil {
				current.FallbackMount = value
			}
		case "relay.fallback_force":
			if current != nil {
				current.FallbackForce = parseBool(value)
			}
		}
	}
	return scanner.Err()
}

func (cfg *Config) loadFromEnv() {
	if v := os.Getenv("MASTER_SERVER"); v != "" {
		cfg.MasterServer = v
	}
	if v := os.Getenv("MASTER_SERVER_PORT"); v != "" {
		cfg.MasterServerPort = atoiOr(v, cfg.MasterServerPort)
	}
	if v := os.Getenv("MASTER_SSL_PORT"); v != "" {
		cfg.MasterSSLPort = atoiOr(v, cfg.MasterSSLPort)
	}
	if v := os.Getenv("MASTER_USERNAME"); v != "" {
		cfg.MasterUsername = v
	}
	if v := os.Getenv("MASTER_PASSWORD"); v != "" {
		cfg.MasterPassword = v
	}
	if v := os.Getenv("MASTER_UPDATE_INTERVAL"); v != "" {
		cfg.MasterUpdateInterval = atoiOr(v, cfg.MasterUpdateInterval)
	}
	if v := os.Getenv("MASTER_RELAY_AUTH"); v != "" {
		cfg.MasterRelayAuth = parseBool(v)
	}
	if v := os.Getenv("MASTER_REDIRECT_PORT"); v != "" {
		cfg.MasterRedirectPort = atoiOr(v, cfg.MasterRedirectPort)
	}
	if v := os.Getenv("ADMIN_API_ADDR"); v != "" {
		cfg.AdminAPIAddr = v
	}
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func parseBool(s string) bool {
	return s == "true" || s == "1" || s == "yes"
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// Store is the atomic-swap holder matching spec.md §5's
// "config_get_config / config_release_config" semantics: Get returns a
// consistent snapshot, Set atomically installs a new one. There is no
// explicit release — the snapshot is a plain value the caller holds as long
// as it likes, and a concurrent Set never mutates it.
type Store struct {
	p atomic.Pointer[Config]
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.p.Store(cfg)
	return s
}

// Get returns the current configuration snapshot.
func (s *Store) Get() *Config {
	return s.p.Load()
}

// Set atomically installs a new configuration snapshot.
func (s *Store) Set(cfg *Config) {
	s.p.Store(cfg)
}
