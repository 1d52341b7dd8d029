package signer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zgDrop/pkg/file"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "0xabc", NormalizeKey("abc"))
	assert.Equal(t, "0xabc", NormalizeKey("  0xabc\n"))
	assert.Equal(t, "0Xabc", NormalizeKey("0Xabc"))
}

func TestNewAcceptsBothForms(t *testing.T) {
	a, err := New(testKey)
	require.NoError(t, err)
	b, err := New(" 0x" + testKey + " ")
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	// address derived by go-ethereum for the same key
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), a.Address())
}

func TestNewRejectsGarbage(t *testing.T) {
	_, err := New("not-a-key")
	assert.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("payload"))
	sig, err := s.Sign(digest)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	addr, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestSignManifest(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)

	m := &file.Manifest{
		RootHash: crypto.Keccak256Hash([]byte("root")).Hex(),
		FileName: "a.bin",
		FileSize: 0,
		ChainID:  16602,
	}
	tx, err := s.SignManifest(m)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), m.Signer)
	assert.NotEmpty(t, m.Signature)
	assert.NotEqual(t, tx, crypto.Keccak256Hash())

	require.NoError(t, VerifyManifest(m))

	m.FileName = "b.bin"
	assert.ErrorIs(t, VerifyManifest(m), ErrBadSignature)
}

func TestVerifyManifestUnsigned(t *testing.T) {
	m := &file.Manifest{RootHash: "0x01"}
	assert.Error(t, VerifyManifest(m))

	m.Signature = "zz"
	assert.Error(t, VerifyManifest(m))
}

func TestProbeChainID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x40da",
		})
	}))
	defer srv.Close()

	id, err := ProbeChainID(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(16602), id)
}
