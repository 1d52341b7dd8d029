package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"zgDrop/pkg/merkle"
)

var ErrNotFound = errors.New("not found")

// SegmentStore keeps segment bytes addressed by their 0x hash.
type SegmentStore interface {
	Has(hash string) bool
	Get(hash string) ([]byte, error)
	Put(hash string, data []byte) error
}

// ManifestStore keeps manifests addressed by root hash.
type ManifestStore interface {
	Save(m *Manifest) error
	Load(rootHash string) (*Manifest, error)
}

type LocalSegmentStore struct {
	Dir string
}

func NewLocalSegmentStore(dir string) (*LocalSegmentStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}
	return &LocalSegmentStore{Dir: dir}, nil
}

func (s *LocalSegmentStore) path(hash string) (string, error) {
	if !merkle.IsRootHash(hash) {
		return "", fmt.Errorf("invalid segment hash %q", hash)
	}
	return filepath.Join(s.Dir, strings.ToLower(hash)), nil
}

func (s *LocalSegmentStore) Has(hash string) bool {
	p, err := s.path(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func (s *LocalSegmentStore) Get(hash string) ([]byte, error) {
	p, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("segment %s: %w", hash, ErrNotFound)
	}
	return data, err
}

func (s *LocalSegmentStore) Put(hash string, data []byte) error {
	p, err := s.path(hash)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return writeAtomic(p, data)
}

type LocalManifestStore struct {
	Dir string
}

func NewLocalManifestStore(dir string) (*LocalManifestStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &LocalManifestStore{Dir: dir}, nil
}

func (s *LocalManifestStore) path(rootHash string) (string, error) {
	if !merkle.IsRootHash(rootHash) {
		return "", fmt.Errorf("invalid root hash %q", rootHash)
	}
	return filepath.Join(s.Dir, strings.ToLower(rootHash)+".json"), nil
}

func (s *LocalManifestStore) Save(m *Manifest) error {
	p, err := s.path(m.RootHash)
	if err != nil {
		return err
	}
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return writeAtomic(p, data)
}

func (s *LocalManifestStore) Load(rootHash string) (*Manifest, error) {
	p, err := s.path(rootHash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("manifest %s: %w", rootHash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return DecodeManifest(data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
