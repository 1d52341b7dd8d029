package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zgDrop/pkg/file"
	"zgDrop/pkg/merkle"
	"zgDrop/pkg/signer"
)

// fakeNetwork stands in for the DHT: published manifests are kept in a map
// and segments are served from the uploader's segment store.
type fakeNetwork struct {
	mu         sync.Mutex
	manifests  map[string][]byte
	announced  []string
	remote     file.SegmentStore
	publishErr error
	corrupt    bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{manifests: make(map[string][]byte)}
}

func (n *fakeNetwork) Announce(_ context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announced = append(n.announced, key)
	return nil
}

func (n *fakeNetwork) PublishManifest(_ context.Context, rootHash string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.publishErr != nil {
		return n.publishErr
	}
	n.manifests[rootHash] = data
	return nil
}

func (n *fakeNetwork) FetchManifest(_ context.Context, rootHash string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.manifests[rootHash]
	if !ok {
		return nil, errors.New("routing: not found")
	}
	return data, nil
}

func (n *fakeNetwork) FetchSegment(_ context.Context, hash string) ([]byte, error) {
	if n.remote == nil {
		return nil, errors.New("no providers")
	}
	data, err := n.remote.Get(hash)
	if err != nil {
		return nil, err
	}
	if n.corrupt {
		data = append([]byte("x"), data...)
	}
	return data, nil
}

func newTestClient(t *testing.T, net Network, s *signer.Signer) (*NodeClient, *file.LocalSegmentStore) {
	t.Helper()
	dir := t.TempDir()
	segments, err := file.NewLocalSegmentStore(filepath.Join(dir, "segments"))
	require.NoError(t, err)
	manifests, err := file.NewLocalManifestStore(filepath.Join(dir, "manifests"))
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.SegmentSize = 1024
	opts.Concurrency = 4
	opts.ChainID = 16602
	return NewNodeClient(net, segments, manifests, s, opts), segments
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func testPayload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * 7 % 251)
	}
	return buf
}

func TestUploadThenDownloadLocally(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	net := newFakeNetwork()
	client, _ := newTestClient(t, net, s)

	data := testPayload(5000)
	res, err := client.Upload(context.Background(), writeTemp(t, data), "report.pdf")
	require.NoError(t, err)

	root, _, err := merkle.RootOf(bytes.NewReader(data), 1024)
	require.NoError(t, err)
	assert.Equal(t, root.Hex(), res.RootHash)
	assert.True(t, merkle.IsRootHash(res.TxHash))

	dst := filepath.Join(t.TempDir(), "out.bin")
	m, err := client.Download(context.Background(), res.RootHash, dst)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", m.FileName)
	assert.Equal(t, uint64(len(data)), m.FileSize)
	assert.Len(t, m.Segments, 5)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// root plus five distinct segments
	assert.Len(t, net.announced, 6)
	assert.Contains(t, net.announced, res.RootHash)
}

func TestDownloadFromAnotherNode(t *testing.T) {
	uploaderKey, err := signer.Generate()
	require.NoError(t, err)
	net := newFakeNetwork()
	uploader, uploaderSegments := newTestClient(t, net, uploaderKey)
	net.remote = uploaderSegments

	data := testPayload(3000)
	res, err := uploader.Upload(context.Background(), writeTemp(t, data), "photo.jpg")
	require.NoError(t, err)

	otherKey, err := signer.Generate()
	require.NoError(t, err)
	downloader, _ := newTestClient(t, net, otherKey)

	dst := filepath.Join(t.TempDir(), "photo.jpg")
	m, err := downloader.Download(context.Background(), res.RootHash, dst)
	require.NoError(t, err)
	assert.Equal(t, uploaderKey.Address().Hex(), m.Signer)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadEmptyFile(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	client, _ := newTestClient(t, newFakeNetwork(), s)

	res, err := client.Upload(context.Background(), writeTemp(t, nil), "empty.txt")
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(nil).Hex(), res.RootHash)

	dst := filepath.Join(t.TempDir(), "empty.txt")
	_, err = client.Download(context.Background(), res.RootHash, dst)
	require.NoError(t, err)
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestUploadSurvivesPublishFailure(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	net := newFakeNetwork()
	net.publishErr = errors.New("failed to find any peer in table")
	client, _ := newTestClient(t, net, s)

	res, err := client.Upload(context.Background(), writeTemp(t, []byte("hello")), "hello.txt")
	require.NoError(t, err)
	assert.NotEmpty(t, res.RootHash)
}

func TestUploadMissingFile(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	client, _ := newTestClient(t, newFakeNetwork(), s)

	_, err = client.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "nope")
	assert.Error(t, err)
}

func TestDownloadUnknownRoot(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	client, _ := newTestClient(t, newFakeNetwork(), s)

	root := crypto.Keccak256Hash([]byte("never uploaded")).Hex()
	_, err = client.Download(context.Background(), root, filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.Download(context.Background(), "not-a-hash", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}

func TestDownloadRejectsTamperedManifest(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	net := newFakeNetwork()
	uploader, segments := newTestClient(t, net, s)
	net.remote = segments

	res, err := uploader.Upload(context.Background(), writeTemp(t, testPayload(2048)), "a.bin")
	require.NoError(t, err)

	m, err := file.DecodeManifest(net.manifests[res.RootHash])
	require.NoError(t, err)
	m.FileName = "renamed.bin"
	net.manifests[res.RootHash], _ = m.Encode()

	downloader, _ := newTestClient(t, net, s)
	_, err = downloader.Download(context.Background(), res.RootHash, filepath.Join(t.TempDir(), "a.bin"))
	assert.ErrorIs(t, err, signer.ErrBadSignature)
}

func TestDownloadRejectsCorruptSegment(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	net := newFakeNetwork()
	uploader, segments := newTestClient(t, net, s)
	net.remote = segments
	net.corrupt = true

	res, err := uploader.Upload(context.Background(), writeTemp(t, testPayload(4096)), "a.bin")
	require.NoError(t, err)

	downloader, _ := newTestClient(t, net, s)
	_, err = downloader.Download(context.Background(), res.RootHash, filepath.Join(t.TempDir(), "a.bin"))
	assert.Error(t, err)
}
