// Package file defines the manifest that describes a stored file and the
// local stores that keep manifests and segments on disk.
//
// Main types:
//   - Manifest: root hash, name, size, ordered segment list and the relay's
//     signature over all of it
//   - SegmentRef: hash and size of one segment
//   - SegmentStore / ManifestStore: content addressed local storage
//
// A manifest is signed over Digest(), which covers every field except the
// signature itself.
package file

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Manifest struct {
	RootHash  string       `json:"rootHash"`
	FileName  string       `json:"fileName"`
	FileSize  uint64       `json:"fileSize"`
	Segments  []SegmentRef `json:"segments"`
	Signer    string       `json:"signer"`
	ChainID   uint64       `json:"chainId"`
	CreatedAt int64        `json:"createdAt"`
	Signature string       `json:"signature,omitempty"`
}

type SegmentRef struct {
	Hash string `json:"hash"`
	Size int    `json:"size"`
}

// Digest is the keccak256 hash of the manifest with the signature left out.
func (m *Manifest) Digest() (common.Hash, error) {
	unsigned := *m
	unsigned.Signature = ""
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return crypto.Keccak256Hash(data), nil
}

// Offsets returns the byte offset of every segment in the file.
func (m *Manifest) Offsets() []int64 {
	offsets := make([]int64, len(m.Segments))
	var off int64
	for i, s := range m.Segments {
		offsets[i] = off
		off += int64(s.Size)
	}
	return offsets
}

func (m *Manifest) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.RootHash == "" {
		return nil, fmt.Errorf("manifest has no root hash")
	}
	var total uint64
	for _, s := range m.Segments {
		if s.Size < 0 {
			return nil, fmt.Errorf("manifest segment %s has negative size", s.Hash)
		}
		total += uint64(s.Size)
	}
	if total != m.FileSize {
		return nil, fmt.Errorf("manifest size mismatch: segments sum to %d, file size %d", total, m.FileSize)
	}
	return &m, nil
}
