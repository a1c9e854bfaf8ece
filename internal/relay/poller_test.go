package relay

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycast/relaycast/internal/config"
)

func TestParseStreamlistLineUsesWholeLineAsMount(t *testing.T) {
	details := &MasterConnDetails{Host: "master.example.com", Port: 8000}
	cfg := &config.Config{OnDemandDefault: true}

	rec := parseStreamlistLine("/live", details, cfg)
	require.NotNil(t, rec)
	assert.Equal(t, "/live", rec.LocalMount)
	assert.Equal(t, "/live", rec.UpstreamMount)
	assert.Equal(t, "master.example.com", rec.UpstreamHost)
	assert.True(t, rec.OnDemand, "on_demand is always the configured default for master-advertised relays")
	assert.Equal(t, MasterAdvertised, rec.Origin)
}

func TestParseStreamlistLineOnDemandAlwaysFollowsConfigDefault(t *testing.T) {
	details := &MasterConnDetails{Host: "master.example.com", Port: 8000}
	cfg := &config.Config{OnDemandDefault: false}

	rec := parseStreamlistLine("/live", details, cfg)
	require.NotNil(t, rec)
	assert.False(t, rec.OnDemand, "there is no per-line on_demand override")
}

func TestParseStreamlistLineCopiesCredentialsOnlyWhenMasterRelayAuthSet(t *testing.T) {
	details := &MasterConnDetails{Host: "master.example.com", Port: 8000, Username: "u", Password: "p"}

	withAuth := parseStreamlistLine("/live", details, &config.Config{MasterRelayAuth: true})
	require.NotNil(t, withAuth)
	assert.Equal(t, "u", withAuth.Username)
	assert.Equal(t, "p", withAuth.Password)

	withoutAuth := parseStreamlistLine("/live", details, &config.Config{MasterRelayAuth: false})
	require.NotNil(t, withoutAuth)
	assert.Empty(t, withoutAuth.Username)
	assert.Empty(t, withoutAuth.Password)
}

func TestParseStreamlistLineSkipsCommentsAndBlankLines(t *testing.T) {
	details := &MasterConnDetails{Host: "master.example.com"}
	cfg := &config.Config{}

	assert.Nil(t, parseStreamlistLine("", details, cfg))
	assert.Nil(t, parseStreamlistLine("   ", details, cfg))
	assert.Nil(t, parseStreamlistLine("# a comment", details, cfg))
}

func TestStreamlistURLUsesHTTPSWhenSSLConfigured(t *testing.T) {
	d := &MasterConnDetails{Host: "master.example.com", Port: 8443, SSL: true}
	assert.Equal(t, "https://master.example.com:8443/admin/streamlist.txt", streamlistURL(d))
}

func TestStreamlistURLUsesHTTPByDefault(t *testing.T) {
	d := &MasterConnDetails{Host: "master.example.com", Port: 8000}
	assert.Equal(t, "http://master.example.com:8000/admin/streamlist.txt", streamlistURL(d))
}

func TestConsumeParsesLineSplitAcrossTwoReads(t *testing.T) {
	p := &Poller{}
	details := &MasterConnDetails{Host: "master.example.com"}
	cfg := &config.Config{OnDemandDefault: true}

	// simulate the line "/live" arriving in two chunks, neither of which
	// contains the trailing newline on its own.
	r := &chunkedReader{chunks: [][]byte{[]byte("/li"), []byte("ve\n")}}

	err := p.consume(r, details, cfg, "test-cycle")
	assert.ErrorIs(t, err, io.EOF, "consume surfaces io.EOF once the reader is exhausted; callers treat that as a clean end of stream")
	require.Len(t, details.Records, 1)
	assert.Equal(t, "/live", details.Records[0].LocalMount)
	assert.True(t, details.Records[0].OnDemand)
}

func TestConsumeFlushesTrailingPartialLineOnEOF(t *testing.T) {
	p := &Poller{}
	details := &MasterConnDetails{Host: "master.example.com"}
	cfg := &config.Config{}

	r := &chunkedReader{chunks: [][]byte{[]byte("/live")}} // no trailing newline

	err := p.consume(r, details, cfg, "test-cycle")
	require.Error(t, err) // io.EOF, propagated to the caller which tolerates it
	require.Len(t, details.Records, 1)
	assert.Equal(t, "/live", details.Records[0].LocalMount)
}

// chunkedReader yields each chunk on its own Read call, then io.EOF, to
// exercise consume's cross-read partial-line buffering without a real
// network connection.
type chunkedReader struct {
	chunks [][]byte
	idx    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.idx >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.idx])
	r.idx++
	return n, nil
}
