// Package storage turns the storage node into the two calls the relay needs:
// upload a file and get back its root hash plus receipt, and download a file
// by root hash.
//
// Upload:
//  1. split the file into segments, store them locally
//  2. compute the merkle root over the segment hashes
//  3. sign the manifest, store it locally and publish it in the DHT
//  4. announce every segment and the root as provided by this node
//
// Download:
//  1. load the manifest locally or from the DHT, verify signature and root
//  2. fetch every segment (local store or providers) with bounded concurrency
//  3. verify each segment hash and write it at its offset
package storage

import (
	"context"
	"errors"

	"zgDrop/pkg/file"
)

var (
	ErrNotFound         = errors.New("file not found")
	ErrManifestMismatch = errors.New("manifest does not match root hash")
)

type UploadResult struct {
	RootHash string `json:"rootHash"`
	TxHash   string `json:"txHash"`
}

// Client is the storage capability used by the relay.
type Client interface {
	// Upload stores the file at path under the display name name.
	Upload(ctx context.Context, path, name string) (*UploadResult, error)
	// Download writes the file identified by rootHash to dst and returns its
	// manifest.
	Download(ctx context.Context, rootHash, dst string) (*file.Manifest, error)
}

// Network is the part of the storage node the client talks to.
type Network interface {
	Announce(ctx context.Context, key string) error
	PublishManifest(ctx context.Context, rootHash string, data []byte) error
	FetchManifest(ctx context.Context, rootHash string) ([]byte, error)
	FetchSegment(ctx context.Context, hash string) ([]byte, error)
}
