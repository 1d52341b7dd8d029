package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"zgDrop/pkg/file"
	"zgDrop/pkg/merkle"
	"zgDrop/pkg/signer"
)

type Options struct {
	SegmentSize int
	Concurrency int
	ChainID     uint64
}

func DefaultOptions() Options {
	return Options{
		SegmentSize: merkle.DefaultSegmentSize,
		Concurrency: 16,
	}
}

// NodeClient implements Client on top of a storage node.
type NodeClient struct {
	net       Network
	segments  file.SegmentStore
	manifests file.ManifestStore
	signer    *signer.Signer
	opts      Options
	now       func() time.Time
}

func NewNodeClient(net Network, segments file.SegmentStore, manifests file.ManifestStore, s *signer.Signer, opts Options) *NodeClient {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = merkle.DefaultSegmentSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &NodeClient{
		net:       net,
		segments:  segments,
		manifests: manifests,
		signer:    s,
		opts:      opts,
		now:       time.Now,
	}
}

func (c *NodeClient) Upload(ctx context.Context, path, name string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	var (
		refs   []file.SegmentRef
		hashes []common.Hash
		size   uint64
	)
	err = merkle.Split(f, c.opts.SegmentSize, func(s merkle.Segment) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash := s.Hash.Hex()
		if err := c.segments.Put(hash, s.Data); err != nil {
			return fmt.Errorf("failed to store segment %d: %w", s.Index, err)
		}
		refs = append(refs, file.SegmentRef{Hash: hash, Size: len(s.Data)})
		hashes = append(hashes, s.Hash)
		size += uint64(len(s.Data))
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := &file.Manifest{
		RootHash:  merkle.Root(hashes).Hex(),
		FileName:  name,
		FileSize:  size,
		Segments:  refs,
		ChainID:   c.opts.ChainID,
		CreatedAt: c.now().Unix(),
	}
	tx, err := c.signer.SignManifest(m)
	if err != nil {
		return nil, fmt.Errorf("failed to sign manifest: %w", err)
	}
	if err := c.manifests.Save(m); err != nil {
		return nil, fmt.Errorf("failed to save manifest: %w", err)
	}

	c.publish(ctx, m)

	logrus.WithFields(logrus.Fields{
		"name":     name,
		"size":     size,
		"segments": len(refs),
		"root":     m.RootHash,
		"tx":       tx.Hex(),
	}).Info("File stored")

	return &UploadResult{RootHash: m.RootHash, TxHash: tx.Hex()}, nil
}

// publish makes the file reachable from other nodes. The file is already
// durable locally, so network failures only cost reachability.
func (c *NodeClient) publish(ctx context.Context, m *file.Manifest) {
	data, err := m.Encode()
	if err == nil {
		err = c.net.PublishManifest(ctx, m.RootHash, data)
	}
	if err != nil {
		logrus.WithField("root", m.RootHash).Warnf("Manifest not replicated: %v", err)
	}

	keys := []string{m.RootHash}
	seen := map[string]bool{m.RootHash: true}
	for _, s := range m.Segments {
		if !seen[s.Hash] {
			seen[s.Hash] = true
			keys = append(keys, s.Hash)
		}
	}
	for _, k := range keys {
		if err := c.net.Announce(ctx, k); err != nil {
			logrus.WithField("key", k).Warnf("Announce failed: %v", err)
		}
	}
}

func (c *NodeClient) Download(ctx context.Context, rootHash, dst string) (*file.Manifest, error) {
	if !merkle.IsRootHash(rootHash) {
		return nil, fmt.Errorf("invalid root hash %q", rootHash)
	}

	m, err := c.loadManifest(ctx, rootHash)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	err = c.fetchSegmentsConcurrently(ctx, m, func(i int, offset int64, data []byte) error {
		if _, err := out.WriteAt(data, offset); err != nil {
			return fmt.Errorf("segment %d: write failed at offset %d: %w", i, offset, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := out.Truncate(int64(m.FileSize)); err != nil {
		return nil, fmt.Errorf("failed to size output: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"root": rootHash,
		"name": m.FileName,
		"size": m.FileSize,
	}).Info("File retrieved")
	return m, nil
}

func (c *NodeClient) loadManifest(ctx context.Context, rootHash string) (*file.Manifest, error) {
	m, err := c.manifests.Load(rootHash)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, file.ErrNotFound) {
		return nil, err
	}

	data, err := c.net.FetchManifest(ctx, rootHash)
	if err != nil {
		logrus.WithField("root", rootHash).Debugf("Manifest lookup failed: %v", err)
		return nil, fmt.Errorf("%s: %w", rootHash, ErrNotFound)
	}
	m, err = file.DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	if err := verifyManifest(rootHash, m); err != nil {
		return nil, err
	}
	if err := c.manifests.Save(m); err != nil {
		logrus.WithError(err).Warn("Failed to cache manifest")
	}
	return m, nil
}

func verifyManifest(rootHash string, m *file.Manifest) error {
	if !strings.EqualFold(m.RootHash, rootHash) {
		return fmt.Errorf("%w: got %s", ErrManifestMismatch, m.RootHash)
	}
	hashes := make([]common.Hash, len(m.Segments))
	for i, s := range m.Segments {
		hashes[i] = common.HexToHash(s.Hash)
	}
	if merkle.Root(hashes) != common.HexToHash(rootHash) {
		return fmt.Errorf("%w: segment list hashes to a different root", ErrManifestMismatch)
	}
	return signer.VerifyManifest(m)
}

func (c *NodeClient) fetchSegment(ctx context.Context, ref file.SegmentRef) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if c.segments.Has(ref.Hash) {
		data, err = c.segments.Get(ref.Hash)
	} else {
		data, err = c.net.FetchSegment(ctx, ref.Hash)
	}
	if err != nil {
		return nil, err
	}
	if len(data) != ref.Size || merkle.HashSegment(data) != common.HexToHash(ref.Hash) {
		return nil, fmt.Errorf("segment %s failed verification", ref.Hash)
	}
	return data, nil
}

func (c *NodeClient) fetchSegmentsConcurrently(
	ctx context.Context,
	m *file.Manifest,
	handle func(i int, offset int64, data []byte) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(m.Segments))
	sem := make(chan struct{}, c.opts.Concurrency)

	offsets := m.Offsets()
	for i, ref := range m.Segments {
		i, ref := i, ref

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			defer func() { <-sem }()

			data, err := c.fetchSegment(ctx, ref)
			if err != nil {
				errCh <- fmt.Errorf("segment %d: %w", i, err)
				cancel()
				return
			}
			if err := handle(i, offsets[i], data); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return ctx.Err()
}
