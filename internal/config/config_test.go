package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.config")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesFlatKeyValuePairs(t *testing.T) {
	path := writeConfig(t, "master_server = stream.example.com\nmaster_server_port=8001\nmaster_update_interval=30\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stream.example.com", cfg.MasterServer)
	assert.Equal(t, 8001, cfg.MasterServerPort)
	assert.Equal(t, 30, cfg.MasterUpdateInterval)
}

func TestLoadParsesRepeatingRelayBlocks(t *testing.T) {
	path := writeConfig(t, `
relay =
relay.server = a.example.com
relay.port = 8000
relay.mount = /a
relay.local_mount = /local-a
relay.on_demand = true

relay =
relay.server = b.example.com
relay.port = 8000
relay.mount = /b
relay.local_mount = /local-b
relay.fallback_mount = /local-a
relay.fallback_force = 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Relays, 2)

	assert.Equal(t, "a.example.com", cfg.Relays[0].Server)
	assert.Equal(t, "/local-a", cfg.Relays[0].LocalMount)
	assert.True(t, cfg.Relays[0].OnDemand)
	assert.True(t, cfg.Relays[0].Enable, "a bare 'relay =' line defaults Enable true")

	assert.Equal(t, "/local-b", cfg.Relays[1].LocalMount)
	assert.Equal(t, "/local-a", cfg.Relays[1].FallbackMount)
	assert.True(t, cfg.Relays[1].FallbackForce)
}

func TestLoadIgnoresRelayKeysBeforeAnyRelayBlock(t *testing.T) {
	path := writeConfig(t, "relay.server = orphan.example.com\nmaster_server = m.example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Relays, "relay.* keys with no preceding 'relay' line must not panic and must be dropped")
	assert.Equal(t, "m.example.com", cfg.MasterServer)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.config"))
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.MasterUpdateInterval, "defaults apply when no file is present")
}

func TestLoadSkipsCommentsAndMalformedLines(t *testing.T) {
	path := writeConfig(t, "# a comment\nnotakeyvaluepair\nmaster_server = m.example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "m.example.com", cfg.MasterServer)
}

func TestLoadEnvOverridesFileValues(t *testing.T) {
	path := writeConfig(t, "master_server = from-file.example.com\n")
	t.Setenv("MASTER_SERVER", "from-env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.example.com", cfg.MasterServer)
}

func TestAtoiOrFallsBackOnParseFailure(t *testing.T) {
	assert.Equal(t, 42, atoiOr("not-a-number", 42))
	assert.Equal(t, 7, atoiOr("7", 42))
}

func TestParseBoolAcceptsCommonTruthyForms(t *testing.T) {
	assert.True(t, parseBool("true"))
	assert.True(t, parseBool("1"))
	assert.True(t, parseBool("yes"))
	assert.False(t, parseBool("false"))
	assert.False(t, parseBool(""))
}

func TestStoreGetReturnsLatestSetSnapshot(t *testing.T) {
	s := NewStore(&Config{MasterServer: "first"})
	assert.Equal(t, "first", s.Get().MasterServer)

	s.Set(&Config{MasterServer: "second"})
	assert.Equal(t, "second", s.Get().MasterServer)
}

func TestStoreSnapshotSurvivesConcurrentSet(t *testing.T) {
	s := NewStore(&Config{MasterServer: "held"})
	held := s.Get()

	s.Set(&Config{MasterServer: "replaced"})

	assert.Equal(t, "held", held.MasterServer, "a snapshot already obtained must not be mutated by a later Set")
}
