// Package cli holds the state shared by the zgdrop subcommands: the loaded
// configuration and constructors for the relay client and wallet manager.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"zgDrop/pkg/config"
	"zgDrop/pkg/logging"
	"zgDrop/pkg/prefs"
	"zgDrop/pkg/relayclient"
	"zgDrop/pkg/wallet"
)

// Bound to the root command's persistent flags.
var (
	ConfigPath string
	RelayURL   string
)

var cfg *config.Config

// Load reads the configuration, applies flag overrides and sets up logging.
func Load() error {
	c, err := config.Load(config.GetConfigPath(ConfigPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if RelayURL != "" {
		c.Client.RelayURL = RelayURL
	}
	logging.Setup(c.Logging)
	cfg = c
	return nil
}

// Config returns the configuration loaded by Load.
func Config() *config.Config {
	return cfg
}

func RelayClient() *relayclient.Client {
	timeout := time.Duration(cfg.Client.RequestTimeout) * time.Second
	return relayclient.New(cfg.Client.RelayURL, timeout)
}

// Wallet is a wallet manager together with the resources backing it.
type Wallet struct {
	*wallet.Manager

	bridge *wallet.Bridge
	prefs  *prefs.Store
}

// OpenWallet opens the preference store in the state directory and, when a
// bridge is configured, connects its event stream. Without a bridge the
// manager has no provider and Connect reports that no wallet was found.
func OpenWallet(ctx context.Context) (*Wallet, error) {
	if err := os.MkdirAll(cfg.Client.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := prefs.Open(filepath.Join(cfg.Client.StateDir, "prefs"))
	if err != nil {
		return nil, err
	}

	w := &Wallet{prefs: store}
	var provider wallet.Provider
	if cfg.Client.WalletRPC != "" {
		w.bridge = wallet.NewBridge(wallet.BridgeConfig{
			RPCURL:    cfg.Client.WalletRPC,
			EventsURL: cfg.Client.WalletWS,
			Timeout:   time.Duration(cfg.Client.RequestTimeout) * time.Second,
		})
		if err := w.bridge.Listen(ctx); err != nil {
			logrus.Warnf("Wallet events unavailable: %v", err)
		}
		provider = w.bridge
	}
	w.Manager = wallet.NewManager(provider, store)

	if err := w.Restore(ctx); err != nil {
		logrus.Debugf("Wallet restore: %v", err)
	}
	return w, nil
}

func (w *Wallet) Close() {
	w.Manager.Close()
	if w.bridge != nil {
		w.bridge.Close()
	}
	if err := w.prefs.Close(); err != nil {
		logrus.Warnf("Failed to close preference store: %v", err)
	}
}

// Ready connects the wallet if needed and moves it onto the selected
// network. It returns the last wallet error when either step fails.
func (w *Wallet) Ready(ctx context.Context) error {
	if !w.IsConnected() {
		if err := w.Connect(ctx); err != nil {
			return walletError(w.State(), err)
		}
	}
	if w.IsCorrectNetwork() {
		return nil
	}
	if err := w.SwitchToCorrectNetwork(ctx); err != nil {
		return walletError(w.State(), err)
	}
	// the bridge reports the new chain asynchronously, read it back
	if err := w.Restore(ctx); err != nil {
		return err
	}
	if !w.IsCorrectNetwork() {
		state := w.State()
		return fmt.Errorf("wallet is on chain %d, expected %s (%d)", state.ChainID, state.Network.Name, state.Network.ChainID)
	}
	return nil
}

func walletError(state wallet.State, err error) error {
	if state.LastError != "" {
		return fmt.Errorf("%s: %w", state.LastError, err)
	}
	return err
}
