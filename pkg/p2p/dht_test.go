package p2p

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zgDrop/pkg/file"
	"zgDrop/pkg/signer"
)

func signedManifest(t *testing.T, name string, createdAt int64) *file.Manifest {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)

	seg := []byte("segment")
	m := &file.Manifest{
		RootHash:  crypto.Keccak256Hash(seg).Hex(),
		FileName:  name,
		FileSize:  uint64(len(seg)),
		Segments:  []file.SegmentRef{{Hash: crypto.Keccak256Hash(seg).Hex(), Size: len(seg)}},
		CreatedAt: createdAt,
	}
	_, err = s.SignManifest(m)
	require.NoError(t, err)
	return m
}

func TestManifestValidator(t *testing.T) {
	v := ManifestValidator{}
	m := signedManifest(t, "a.txt", 1)
	data, err := m.Encode()
	require.NoError(t, err)

	assert.NoError(t, v.Validate("/zg/"+m.RootHash, data))

	// key for a different root
	other := crypto.Keccak256Hash([]byte("other")).Hex()
	assert.Error(t, v.Validate("/zg/"+other, data))

	// tampered content
	m.FileName = "b.txt"
	tampered, _ := m.Encode()
	assert.Error(t, v.Validate("/zg/"+m.RootHash, tampered))

	assert.Error(t, v.Validate("/zg/"+m.RootHash, []byte("not json")))
	assert.Error(t, v.Validate("no-namespace", data))
}

func TestManifestValidatorSelect(t *testing.T) {
	v := ManifestValidator{}
	older, _ := signedManifest(t, "a.txt", 10).Encode()
	newer, _ := signedManifest(t, "a.txt", 20).Encode()

	idx, err := v.Select("/zg/x", [][]byte{older, []byte("junk"), newer})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = v.Select("/zg/x", [][]byte{[]byte("junk")})
	assert.Error(t, err)
}

func TestPeerTrackerBlocksFailingPeers(t *testing.T) {
	tr := NewPeerTracker(3, 0.5, time.Minute)
	now := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return now }

	p := peer.ID("peer-a")
	tr.RecordSuccess(p, 10*time.Millisecond)
	tr.RecordFailure(p)
	assert.False(t, tr.Blocked(p), "below minRequests")

	tr.RecordFailure(p)
	assert.True(t, tr.Blocked(p))
	assert.Empty(t, tr.Filter([]peer.ID{p}))

	stats, ok := tr.Stats(p)
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.Requests)
	assert.InDelta(t, 1.0/3.0, stats.SuccessRate(), 0.001)

	now = now.Add(2 * time.Minute)
	assert.False(t, tr.Blocked(p))
	assert.Equal(t, []peer.ID{p}, tr.Filter([]peer.ID{p}))
}

func TestRoundRobinSelector(t *testing.T) {
	s := &RoundRobinPeerSelector{}
	peers := []peer.ID{"a", "b"}
	first, _ := s.SelectPeer(peers)
	second, _ := s.SelectPeer(peers)
	third, _ := s.SelectPeer(peers)
	assert.Equal(t, peer.ID("a"), first)
	assert.Equal(t, peer.ID("b"), second)
	assert.Equal(t, peer.ID("a"), third)

	_, err := s.SelectPeer(nil)
	assert.Error(t, err)
}

func TestDedupProviders(t *testing.T) {
	in := []peer.AddrInfo{{ID: "a"}, {ID: "self"}, {ID: "a"}, {ID: "b"}, {ID: ""}}
	out := dedupProviders(in, "self")
	require.Len(t, out, 2)
	assert.Equal(t, peer.ID("a"), out[0].ID)
	assert.Equal(t, peer.ID("b"), out[1].ID)
}

// ========== two node tests (open real libp2p hosts) ==========

func newTestNode(t *testing.T, bootstrap ...multiaddr.Multiaddr) *Service {
	t.Helper()
	segments, err := file.NewLocalSegmentStore(t.TempDir())
	require.NoError(t, err)

	cfg := NewConfig()
	cfg.EnableAutoRefresh = false
	cfg.BootstrapPeers = bootstrap
	svc, err := NewService(context.Background(), cfg, segments)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown() })
	return svc
}

func nodeAddr(t *testing.T, svc *Service) multiaddr.Multiaddr {
	t.Helper()
	for _, a := range svc.Host.Addrs() {
		if _, err := a.ValueForProtocol(multiaddr.P_IP4); err == nil {
			m, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%s/p2p/%s", tcpPort(a), svc.Host.ID()))
			require.NoError(t, err)
			return m
		}
	}
	t.Fatal("node has no ip4 address")
	return nil
}

func tcpPort(a multiaddr.Multiaddr) string {
	port, _ := a.ValueForProtocol(multiaddr.P_TCP)
	return port
}

func TestFetchSegmentFromProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("opens network listeners")
	}

	a := newTestNode(t)
	data := []byte("a segment stored only on node a")
	hash := crypto.Keccak256Hash(data).Hex()
	require.NoError(t, a.Segments.Put(hash, data))
	require.NoError(t, a.Announce(context.Background(), hash))

	b := newTestNode(t, nodeAddr(t, a))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	got, err := b.FetchSegment(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, b.Segments.Has(hash), "fetched segment is cached")

	_, err = b.FetchSegment(ctx, crypto.Keccak256Hash([]byte("missing")).Hex())
	assert.Error(t, err)
}

func TestPublishAndFetchManifest(t *testing.T) {
	if testing.Short() {
		t.Skip("opens network listeners")
	}

	a := newTestNode(t)
	b := newTestNode(t, nodeAddr(t, a))

	m := signedManifest(t, "shared.txt", time.Now().Unix())
	data, err := m.Encode()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, b.PublishManifest(ctx, m.RootHash, data))

	got, err := a.FetchManifest(ctx, m.RootHash)
	require.NoError(t, err)
	decoded, err := file.DecodeManifest(got)
	require.NoError(t, err)
	assert.Equal(t, m.FileName, decoded.FileName)
}
