package p2p

import (
	"errors"
	"fmt"
	"strings"

	record "github.com/libp2p/go-libp2p-record"

	"zgDrop/pkg/file"
	"zgDrop/pkg/signer"
)

// ManifestValidator accepts a DHT record only if it is a manifest for the
// root hash in its key, signed by the signer it names.
type ManifestValidator struct{}

var _ record.Validator = ManifestValidator{}

func (ManifestValidator) Validate(key string, value []byte) error {
	_, root, err := record.SplitKey(key)
	if err != nil {
		return err
	}

	m, err := file.DecodeManifest(value)
	if err != nil {
		return err
	}
	if !strings.EqualFold(m.RootHash, root) {
		return fmt.Errorf("manifest root %s does not match key %s", m.RootHash, root)
	}
	return signer.VerifyManifest(m)
}

// Select prefers the most recently created manifest.
func (ManifestValidator) Select(_ string, values [][]byte) (int, error) {
	best := -1
	var bestAt int64
	for i, v := range values {
		m, err := file.DecodeManifest(v)
		if err != nil {
			continue
		}
		if best < 0 || m.CreatedAt > bestAt {
			best, bestAt = i, m.CreatedAt
		}
	}
	if best < 0 {
		return 0, errors.New("no valid manifest record")
	}
	return best, nil
}
