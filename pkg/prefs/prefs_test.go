package prefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreInMemory(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("0g_network")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set("0g_network", "mainnet"))
	v, err = s.Get("0g_network")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", v)

	require.NoError(t, s.Delete("0g_network"))
	v, err = s.Get("0g_network")
	require.NoError(t, err)
	assert.Empty(t, v)

	// deleting a missing key is fine
	require.NoError(t, s.Delete("never-set"))
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("0g_wallet_connected", "true"))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("0g_wallet_connected")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}
