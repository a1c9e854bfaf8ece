package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycast/relaycast/internal/config"
	"github.com/relaycast/relaycast/internal/headerparser"
	"github.com/relaycast/relaycast/internal/mountreg"
	"github.com/relaycast/relaycast/internal/sourcepipe"
	"github.com/relaycast/relaycast/internal/stats"
)

func newTestSupervisor(t *testing.T, cfg *config.Config) (*Supervisor, *mountreg.Registry) {
	t.Helper()
	reg := mountreg.New()
	sup := NewSupervisor(config.NewStore(cfg), reg, sourcepipe.New(), headerparser.New(), stats.New(), nil, nil, nil)
	return sup, reg
}

func TestPromoteRule2RejectsMountNotStartingWithSlash(t *testing.T) {
	sup, _ := newTestSupervisor(t, &config.Config{})
	rec := &Record{LocalMount: "no-leading-slash", Enabled: true}

	sup.promoteOne("no-leading-slash", rec, &config.Config{})

	assert.Nil(t, rec.GetWorker())
	assert.False(t, rec.IsRunning())
}

func TestPromoteRule1ReservesSlotOnFirstPromotion(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	rec := &Record{LocalMount: "/live", Enabled: false}

	sup.promoteOne("/live", rec, &config.Config{})

	assert.True(t, rec.HasSlot)
	_, ok := reg.Lookup("/live")
	assert.True(t, ok, "rule 1 reserves the mount even if later rules skip spawning")
}

func TestPromoteRule3SkipsAlreadyRunningRecord(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	slot, err := reg.Reserve("/live")
	require.NoError(t, err)
	rec := &Record{LocalMount: "/live", Enabled: true, HasSlot: true, SourceSlot: slot}
	rec.SetRunning(true)

	sup.promoteOne("/live", rec, &config.Config{})

	assert.Nil(t, rec.GetWorker(), "rule 3 must return before spawning a second worker for an already-running record")
}

func TestPromoteRule4ClearsStatsAndSkipsWhenDisabled(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	rec := &Record{LocalMount: "/off", Enabled: false}

	sup.promoteOne("/off", rec, &config.Config{})

	assert.Nil(t, rec.GetWorker())
	slot, ok := reg.Lookup("/off")
	require.True(t, ok)
	assert.Equal(t, 0, reg.Listeners(slot))
}

func TestPromoteRule5SkipsOnDemandWithoutForcingFallback(t *testing.T) {
	sup, _ := newTestSupervisor(t, &config.Config{})
	rec := &Record{LocalMount: "/od", Enabled: true, OnDemand: true}

	sup.promoteOne("/od", rec, &config.Config{})

	assert.Nil(t, rec.GetWorker(), "no fallback_mount configured means the on-demand decision must stay dormant")
	assert.False(t, rec.IsOnDemandRequested())
}

func TestPromoteRule5SkipsWhenFallbackHasNoListeners(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	_, err := reg.Reserve("/backup")
	require.NoError(t, err)

	rec := &Record{LocalMount: "/od", Enabled: true, OnDemand: true, FallbackMount: "/backup", FallbackForce: true}

	sup.promoteOne("/od", rec, &config.Config{})

	assert.Nil(t, rec.GetWorker(), "a fallback with zero listeners must not force the on-demand relay live")
}

func TestPromoteRule5SpawnsWhenFallbackForceHasListeners(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	backupSlot, err := reg.Reserve("/backup")
	require.NoError(t, err)
	reg.SetRunning(backupSlot, true)
	reg.SetListeners(backupSlot, 5)

	rec := &Record{
		LocalMount:    "/od",
		Enabled:       true,
		OnDemand:      true,
		FallbackMount: "/backup",
		FallbackForce: true,
		UpstreamHost:  "127.0.0.1",
		UpstreamPort:  1,
	}

	sup.promoteOne("/od", rec, &config.Config{})

	assert.True(t, rec.IsOnDemandRequested())
	require.NotNil(t, rec.GetWorker(), "a forcing fallback with live listeners must spawn the on-demand relay")
	assert.True(t, rec.IsRunning(), "running is set synchronously by newWorker before the connect attempt")
}

func TestApplyStaticTearsDownRemovedMount(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	sup.ApplyStatic([]*Record{{LocalMount: "/gone", Enabled: false}})

	_, ok := reg.Lookup("/gone")
	require.True(t, ok)

	sup.ApplyStatic(nil)

	static, _, _ := sup.Snapshot()
	assert.Equal(t, 0, static)
	_, ok = reg.Lookup("/gone")
	assert.False(t, ok, "tearDown must release the reserved slot")
}

func TestShutdownTearsDownEverything(t *testing.T) {
	sup, reg := newTestSupervisor(t, &config.Config{})
	sup.ApplyStatic([]*Record{{LocalMount: "/a", Enabled: false}, {LocalMount: "/b", Enabled: false}})

	sup.Shutdown()

	static, master, running := sup.Snapshot()
	assert.Equal(t, 0, static)
	assert.Equal(t, 0, master)
	assert.Equal(t, 0, running)
	_, ok := reg.Lookup("/a")
	assert.False(t, ok)
	_, ok = reg.Lookup("/b")
	assert.False(t, ok)
}

func TestSnapshotCountsRunningAcrossBothLists(t *testing.T) {
	sup, _ := newTestSupervisor(t, &config.Config{})
	sup.ApplyStatic([]*Record{{LocalMount: "/a", Enabled: false}})
	sup.ApplyMaster([]*Record{{LocalMount: "/b", Enabled: false}})

	static, master, running := sup.Snapshot()
	assert.Equal(t, 1, static)
	assert.Equal(t, 1, master)
	assert.Equal(t, 0, running)
}
