// Package wallet tracks the connection to an EVM wallet and which 0G network
// the user wants it on.
//
// The Manager mediates every call to the wallet Provider. It keeps the
// connected address, the chain the wallet last reported and the selected
// target network; wallet events update that state at any time, last write
// wins. Failures of connect and switch calls are recorded in LastError and
// returned.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"zgDrop/pkg/format"
)

const (
	PrefConnected = "0g_wallet_connected"
	PrefNetwork   = "0g_network"
)

const (
	msgNoWallet       = "No wallet found. Install MetaMask or another EVM wallet."
	msgRejected       = "Connection rejected by user"
	msgConnectFailed  = "Failed to connect wallet"
	msgNoAccounts     = "No accounts returned"
	msgSwitchRejected = "Network switch rejected by user"
)

// Prefs is the durable key/value store the manager persists to.
type Prefs interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// State is a point in time copy of the manager.
type State struct {
	Address      string
	ChainID      uint64
	HasChainID   bool
	Network      Network
	LastError    string
	IsConnecting bool
}

func (s State) IsConnected() bool {
	return s.Address != ""
}

func (s State) IsCorrectNetwork() bool {
	return s.HasChainID && s.ChainID == s.Network.ChainID
}

func (s State) ShortAddress() string {
	if s.Address == "" {
		return ""
	}
	return format.ShortenAddress(s.Address)
}

func (s State) ExplorerURL() string {
	return s.Network.ExplorerURL
}

// AddressURL links the connected account on the selected network's explorer.
func (s State) AddressURL() string {
	if s.Address == "" {
		return ""
	}
	return strings.TrimRight(s.Network.ExplorerURL, "/") + "/address/" + s.Address
}

type Manager struct {
	provider Provider
	prefs    Prefs

	mu         sync.RWMutex
	address    string
	chainID    uint64
	hasChainID bool
	network    Network
	lastError  string
	connecting int

	unsubscribe []func()
}

// NewManager loads the persisted network selection and subscribes to the
// provider's events. provider may be nil when no wallet is available.
func NewManager(provider Provider, prefs Prefs) *Manager {
	m := &Manager{
		provider: provider,
		prefs:    prefs,
		network:  networks[DefaultNetwork],
	}

	if key := m.pref(PrefNetwork); key != "" {
		if n, ok := LookupNetwork(key); ok {
			m.network = n
		} else {
			logrus.Warnf("Unknown persisted network %q, using %s", key, DefaultNetwork)
		}
	}

	if provider != nil {
		m.unsubscribe = append(m.unsubscribe,
			provider.OnAccountsChanged(m.handleAccountsChanged),
			provider.OnChainChanged(m.handleChainChanged),
		)
	}
	return m
}

// Close removes the event subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubs := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return State{
		Address:      m.address,
		ChainID:      m.chainID,
		HasChainID:   m.hasChainID,
		Network:      m.network,
		LastError:    m.lastError,
		IsConnecting: m.connecting > 0,
	}
}

func (m *Manager) IsConnected() bool      { return m.State().IsConnected() }
func (m *Manager) IsCorrectNetwork() bool { return m.State().IsCorrectNetwork() }

// Connect asks the wallet for accounts, records the first one and makes sure
// the wallet is on the selected network.
func (m *Manager) Connect(ctx context.Context) error {
	if m.provider == nil {
		m.setError(msgNoWallet)
		return ErrNoWallet
	}

	m.mu.Lock()
	m.connecting++
	m.lastError = ""
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.connecting--
		m.mu.Unlock()
	}()

	accounts, err := m.accounts(ctx, "eth_requestAccounts")
	if err != nil {
		werr := Decode(err)
		switch {
		case werr.Kind == KindUserRejected:
			m.setError(msgRejected)
		case werr.Message != "":
			m.setError(werr.Message)
		default:
			m.setError(msgConnectFailed)
		}
		return werr
	}
	if len(accounts) == 0 {
		m.setError(msgNoAccounts)
		return ErrNoAccounts
	}

	address := checksum(accounts[0])
	m.mu.Lock()
	m.address = address
	m.mu.Unlock()
	m.setPref(PrefConnected, "true")
	logrus.Infof("Wallet connected: %s", address)

	chainID, err := m.readChainID(ctx)
	if err != nil {
		m.setError(Decode(err).Error())
		return err
	}

	target := m.State().Network
	if chainID == target.ChainID {
		return nil
	}
	logrus.Infof("Wallet is on chain %d, switching to %s", chainID, target.Name)
	if err := m.switchChain(ctx, target); err != nil {
		// a declined switch prompt is part of the connect flow
		if IsUserRejected(err) {
			m.setError(msgRejected)
		} else {
			m.recordSwitchError(err)
		}
		return err
	}
	return nil
}

// Disconnect forgets the account locally. The wallet keeps its own
// permission grant; there is no call to revoke it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.address = ""
	m.chainID = 0
	m.hasChainID = false
	m.lastError = ""
	m.mu.Unlock()

	m.deletePref(PrefConnected)
	logrus.Info("Wallet disconnected")
}

// SwitchNetwork selects and persists the target network. When connected it
// also asks the wallet to switch right away; otherwise the switch happens on
// the next Connect.
func (m *Manager) SwitchNetwork(ctx context.Context, key string) error {
	target, ok := LookupNetwork(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, key)
	}

	m.mu.Lock()
	m.network = target
	m.lastError = ""
	connected := m.address != ""
	m.mu.Unlock()
	m.setPref(PrefNetwork, key)

	if !connected || m.provider == nil {
		return nil
	}
	if err := m.switchChain(ctx, target); err != nil {
		m.recordSwitchError(err)
		return err
	}
	return nil
}

// SwitchToCorrectNetwork asks the wallet to move to the selected network
// without changing the selection.
func (m *Manager) SwitchToCorrectNetwork(ctx context.Context) error {
	if m.provider == nil {
		m.setError(msgNoWallet)
		return ErrNoWallet
	}

	m.mu.Lock()
	m.lastError = ""
	target := m.network
	m.mu.Unlock()

	if err := m.switchChain(ctx, target); err != nil {
		m.recordSwitchError(err)
		return err
	}
	return nil
}

// Restore reconnects silently when a previous session left the connected
// flag set. It uses eth_accounts, which never prompts. Errors are returned
// but not recorded in LastError.
func (m *Manager) Restore(ctx context.Context) error {
	if m.provider == nil || m.pref(PrefConnected) != "true" {
		return nil
	}

	accounts, err := m.accounts(ctx, "eth_accounts")
	if err != nil {
		return fmt.Errorf("failed to restore wallet: %w", Decode(err))
	}
	if len(accounts) == 0 {
		return nil
	}

	m.mu.Lock()
	m.address = checksum(accounts[0])
	m.mu.Unlock()

	if _, err := m.readChainID(ctx); err != nil {
		return fmt.Errorf("failed to read chain id: %w", Decode(err))
	}
	logrus.Debugf("Wallet session restored: %s", m.State().Address)
	return nil
}

// switchChain runs wallet_switchEthereumChain and, when the wallet does not
// know the chain, wallet_addEthereumChain with the full descriptor.
func (m *Manager) switchChain(ctx context.Context, n Network) error {
	_, err := m.provider.Request(ctx, "wallet_switchEthereumChain", map[string]string{"chainId": n.HexChainID})
	if err == nil {
		return nil
	}
	werr := Decode(err)
	if werr.Kind != KindUnrecognizedChain {
		return werr
	}

	logrus.Infof("Wallet does not know %s, adding it", n.Name)
	if _, err := m.provider.Request(ctx, "wallet_addEthereumChain", n.addChainParams()); err != nil {
		return Decode(err)
	}
	return nil
}

func (m *Manager) recordSwitchError(err error) {
	if IsUserRejected(err) {
		m.setError(msgSwitchRejected)
		return
	}
	m.setError(err.Error())
}

func (m *Manager) accounts(ctx context.Context, method string) ([]string, error) {
	raw, err := m.provider.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("unexpected %s result: %w", method, err)
	}
	return accounts, nil
}

func (m *Manager) readChainID(ctx context.Context) (uint64, error) {
	raw, err := m.provider.Request(ctx, "eth_chainId")
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, fmt.Errorf("unexpected eth_chainId result: %w", err)
	}
	id, err := ParseChainID(hex)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.chainID = id
	m.hasChainID = true
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) handleAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		m.mu.Lock()
		m.address = ""
		m.mu.Unlock()
		m.deletePref(PrefConnected)
		logrus.Info("Wallet locked or account access revoked")
		return
	}

	address := checksum(accounts[0])
	m.mu.Lock()
	m.address = address
	m.mu.Unlock()
	logrus.Debugf("Wallet account changed: %s", address)
}

func (m *Manager) handleChainChanged(hex string) {
	id, err := ParseChainID(hex)
	if err != nil {
		logrus.Warnf("Ignoring chainChanged event: %v", err)
		return
	}
	m.mu.Lock()
	m.chainID = id
	m.hasChainID = true
	m.mu.Unlock()
	logrus.Debugf("Wallet chain changed: %d", id)
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

func (m *Manager) pref(key string) string {
	if m.prefs == nil {
		return ""
	}
	v, err := m.prefs.Get(key)
	if err != nil {
		logrus.Warnf("Failed to read preference %s: %v", key, err)
		return ""
	}
	return v
}

func (m *Manager) setPref(key, value string) {
	if m.prefs == nil {
		return
	}
	if err := m.prefs.Set(key, value); err != nil {
		logrus.Warnf("Failed to save preference %s: %v", key, err)
	}
}

func (m *Manager) deletePref(key string) {
	if m.prefs == nil {
		return
	}
	if err := m.prefs.Delete(key); err != nil {
		logrus.Warnf("Failed to clear preference %s: %v", key, err)
	}
}

// ParseChainID parses a hex chain id such as "0x40da".
func ParseChainID(hex string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hex), "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q", hex)
	}
	return id, nil
}

// checksum returns the EIP-55 form of addr, or addr unchanged when it is not
// a hex address.
func checksum(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
