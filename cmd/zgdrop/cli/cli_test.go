package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zgDrop/pkg/config"
	"zgDrop/pkg/wallet"
)

const (
	account    = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	mainnetHex = "0x4115"
	testnetHex = "0x40da"
)

// rpcWallet answers wallet bridge JSON-RPC without an event stream, so chain
// changes are only visible by asking eth_chainId again.
type rpcWallet struct {
	mu      sync.Mutex
	chain   string
	reject  bool
	methods []string
}

func (w *rpcWallet) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     uint64            `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.methods = append(w.methods, req.Method)

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "eth_requestAccounts":
		if w.reject {
			resp["error"] = map[string]interface{}{"code": 4001, "message": "User rejected the request."}
		} else {
			resp["result"] = []string{account}
		}
	case "eth_accounts":
		resp["result"] = []string{account}
	case "eth_chainId":
		resp["result"] = w.chain
	case "wallet_switchEthereumChain":
		var p struct {
			ChainID string `json:"chainId"`
		}
		json.Unmarshal(req.Params[0], &p)
		w.chain = p.ChainID
		resp["result"] = nil
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}

func setup(t *testing.T, w *rpcWallet) {
	t.Helper()
	c := &config.Config{}
	c.Client.StateDir = t.TempDir()
	c.Client.RequestTimeout = 5
	if w != nil {
		srv := httptest.NewServer(w)
		t.Cleanup(srv.Close)
		c.Client.WalletRPC = srv.URL
	}
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestReadySwitchesToSelectedNetwork(t *testing.T) {
	rw := &rpcWallet{chain: mainnetHex}
	setup(t, rw)
	ctx := context.Background()

	w, err := OpenWallet(ctx)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Ready(ctx))

	state := w.State()
	assert.True(t, state.IsConnected())
	assert.True(t, state.IsCorrectNetwork())
	assert.Equal(t, wallet.DefaultNetwork, state.Network.Key)
	assert.Contains(t, rw.methods, "wallet_switchEthereumChain")
}

func TestReadyRestoresPreviousSession(t *testing.T) {
	rw := &rpcWallet{chain: testnetHex}
	setup(t, rw)
	ctx := context.Background()

	w, err := OpenWallet(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Ready(ctx))
	w.Close()

	rw.methods = nil
	w, err = OpenWallet(ctx)
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.IsConnected())
	assert.NotContains(t, rw.methods, "eth_requestAccounts")
}

func TestReadyRejected(t *testing.T) {
	setup(t, &rpcWallet{chain: testnetHex, reject: true})
	ctx := context.Background()

	w, err := OpenWallet(ctx)
	require.NoError(t, err)
	defer w.Close()

	err = w.Ready(ctx)
	require.Error(t, err)
	assert.True(t, wallet.IsUserRejected(err))
	assert.Contains(t, err.Error(), "Connection rejected by user")
}

func TestReadyWithoutBridge(t *testing.T) {
	setup(t, nil)
	ctx := context.Background()

	w, err := OpenWallet(ctx)
	require.NoError(t, err)
	defer w.Close()

	err = w.Ready(ctx)
	assert.ErrorIs(t, err, wallet.ErrNoWallet)
}
