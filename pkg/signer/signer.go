// Package signer holds the relay's secp256k1 identity. It signs the manifests
// the relay publishes and verifies manifests received from other nodes.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"zgDrop/pkg/file"
)

var ErrBadSignature = errors.New("manifest signature does not match signer")

type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NormalizeKey trims surrounding whitespace and adds the 0x prefix when it is
// missing.
func NormalizeKey(raw string) string {
	k := strings.TrimSpace(raw)
	if !strings.HasPrefix(k, "0x") && !strings.HasPrefix(k, "0X") {
		k = "0x" + k
	}
	return k
}

// New parses a hex private key, with or without 0x prefix.
func New(hexKey string) (*Signer, error) {
	k := NormalizeKey(hexKey)
	key, err := crypto.HexToECDSA(k[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs a 32 byte digest and returns the 65 byte [R || S || V] signature.
func (s *Signer) Sign(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignManifest stamps m with the signer address and signature and returns the
// receipt hash of the publication: keccak256(digest || signature).
func (s *Signer) SignManifest(m *file.Manifest) (common.Hash, error) {
	m.Signer = s.address.Hex()
	m.Signature = ""

	digest, err := m.Digest()
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return common.Hash{}, err
	}
	m.Signature = hexutil.Encode(sig)
	return crypto.Keccak256Hash(digest.Bytes(), sig), nil
}

// VerifyManifest checks that m carries a valid signature by m.Signer.
func VerifyManifest(m *file.Manifest) error {
	if m.Signature == "" {
		return fmt.Errorf("manifest %s is not signed", m.RootHash)
	}
	sig, err := hexutil.Decode(m.Signature)
	if err != nil {
		return fmt.Errorf("invalid manifest signature: %w", err)
	}
	digest, err := m.Digest()
	if err != nil {
		return err
	}
	addr, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(m.Signer) || addr != common.HexToAddress(m.Signer) {
		return fmt.Errorf("%w: recovered %s, manifest says %s", ErrBadSignature, addr.Hex(), m.Signer)
	}
	return nil
}

// ProbeChainID asks the EVM endpoint for its chain id.
func ProbeChainID(ctx context.Context, rpcURL string) (uint64, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read chain id from %s: %w", rpcURL, err)
	}
	return id.Uint64(), nil
}
