package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Bridge is a Provider backed by a wallet bridge process: requests go out as
// JSON-RPC 2.0 over HTTP, events arrive as JSON-RPC notifications on a
// websocket ({"method":"accountsChanged","params":[...]}).
type Bridge struct {
	*Emitter

	rpcURL     string
	eventsURL  string
	httpClient *http.Client
	nextID     atomic.Uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

type BridgeConfig struct {
	RPCURL    string
	EventsURL string
	Timeout   time.Duration
}

func NewBridge(cfg BridgeConfig) *Bridge {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{
		Emitter:    NewEmitter(),
		rpcURL:     cfg.RPCURL,
		eventsURL:  cfg.EventsURL,
		httpClient: &http.Client{Timeout: timeout},
		closeCh:    make(chan struct{}),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ProviderError  `json:"error,omitempty"`
	ID      uint64          `json:"id,omitempty"`
}

// Request sends one JSON-RPC call. A JSON-RPC error comes back as
// *ProviderError with the wallet's code.
func (b *Bridge) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      b.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet bridge unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("wallet bridge returned %s", resp.Status)
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if msg.Error != nil {
		return nil, msg.Error
	}
	return msg.Result, nil
}

// Listen connects the event websocket and dispatches notifications until
// Close. It returns once the connection is established.
func (b *Bridge) Listen(ctx context.Context) error {
	if b.eventsURL == "" {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, b.eventsURL, nil)
	if err != nil {
		return fmt.Errorf("dial wallet events: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop(conn)
	return nil
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-b.closeCh:
			default:
				logrus.Warnf("Wallet event stream closed: %v", err)
			}
			return
		}
		b.dispatch(&msg)
	}
}

func (b *Bridge) dispatch(msg *rpcMessage) {
	switch msg.Method {
	case EventAccountsChanged:
		var accounts []string
		if err := json.Unmarshal(msg.Params, &accounts); err != nil {
			logrus.Warnf("Bad accountsChanged payload: %v", err)
			return
		}
		b.EmitAccountsChanged(accounts)
	case EventChainChanged:
		var chainID string
		if err := json.Unmarshal(msg.Params, &chainID); err != nil {
			logrus.Warnf("Bad chainChanged payload: %v", err)
			return
		}
		b.EmitChainChanged(chainID)
	default:
		logrus.Debugf("Ignoring wallet event %q", msg.Method)
	}
}

func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closeCh)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.conn != nil {
			err = b.conn.Close()
		}
	})
	return err
}
