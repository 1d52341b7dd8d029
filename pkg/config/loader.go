// Package config loads the configuration shared by the relay, the storage
// node and the zgdrop CLI.
//
// Core functions:
//   - YAML file loading (config.yaml, ./config, /etc/zgdrop)
//   - environment variable overrides
//   - validation, with a separate check for the relay's required variables
//   - conversion into the storage node configuration
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ValidateRelay(); err != nil {
//	    log.Fatal(err)
//	}
//
// Priority:
//  1. environment variables
//  2. config file
//  3. defaults
//
// Environment variables:
//   - relay: ZG_EVM_RPC, ZG_INDEXER_RPC, ZG_PRIVATE_KEY, PORT (bare names)
//   - everything else: ZGDROP_ prefix, e.g. ZGDROP_LOG_LEVEL
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/viper"

	"zgDrop/pkg/p2p"
)

// LocalIndexer as ZG_INDEXER_RPC runs the relay's storage node without
// indexer peers.
const LocalIndexer = "local"

type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	Network NetworkConfig `mapstructure:"network"`
	Storage StorageConfig `mapstructure:"storage"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type RelayConfig struct {
	Port        int    `mapstructure:"port"`
	EVMRPC      string `mapstructure:"evm_rpc"`
	IndexerRPC  string `mapstructure:"indexer_rpc"`
	PrivateKey  string `mapstructure:"private_key"`
	UploadDir   string `mapstructure:"upload_dir"`
	MaxMemoryMB int64  `mapstructure:"max_memory_mb"`
}

type NetworkConfig struct {
	Port           int     `mapstructure:"port"`
	Seed           int64   `mapstructure:"seed"`
	ProtocolPrefix string  `mapstructure:"protocol_prefix"`
	AutoRefresh    bool    `mapstructure:"auto_refresh"`
	NameSpace      string  `mapstructure:"namespace"`
	RequestTimeout int     `mapstructure:"request_timeout"`
	DataTimeout    int     `mapstructure:"data_timeout"`
	DHTTimeout     int     `mapstructure:"dht_timeout"`
	PeerSelector   string  `mapstructure:"peer_selector"`
	MinRequests    int64   `mapstructure:"min_requests"`
	MinSuccessRate float64 `mapstructure:"min_success_rate"`
	BlockTimeout   int     `mapstructure:"block_timeout"`
}

type StorageConfig struct {
	SegmentPath    string `mapstructure:"segment_path"`
	ManifestPath   string `mapstructure:"manifest_path"`
	SegmentSize    int    `mapstructure:"segment_size"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

type ClientConfig struct {
	RelayURL       string `mapstructure:"relay_url"`
	WalletRPC      string `mapstructure:"wallet_rpc"`
	WalletWS       string `mapstructure:"wallet_ws"`
	StateDir       string `mapstructure:"state_dir"`
	RequestTimeout int    `mapstructure:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MissingEnvError reports a required relay variable that is not set.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return "Missing: " + e.Name
}

// Load reads the configuration. A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/zgdrop")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.port", 4000)
	v.SetDefault("relay.evm_rpc", "")
	v.SetDefault("relay.indexer_rpc", "")
	v.SetDefault("relay.private_key", "")
	v.SetDefault("relay.upload_dir", "uploads")
	v.SetDefault("relay.max_memory_mb", 32)

	v.SetDefault("network.port", 0)
	v.SetDefault("network.seed", int64(0))
	v.SetDefault("network.protocol_prefix", p2p.DefaultProtocolPrefix)
	v.SetDefault("network.auto_refresh", true)
	v.SetDefault("network.namespace", p2p.DefaultNameSpace)
	v.SetDefault("network.request_timeout", 5)
	v.SetDefault("network.data_timeout", 30)
	v.SetDefault("network.dht_timeout", 10)
	v.SetDefault("network.peer_selector", "random")
	v.SetDefault("network.min_requests", 5)
	v.SetDefault("network.min_success_rate", 0.5)
	v.SetDefault("network.block_timeout", 600)

	v.SetDefault("storage.segment_path", filepath.Join("data", "segments"))
	v.SetDefault("storage.manifest_path", filepath.Join("data", "manifests"))
	v.SetDefault("storage.segment_size", 256*1024)
	v.SetDefault("storage.max_concurrency", 16)

	v.SetDefault("client.relay_url", "http://localhost:4000")
	v.SetDefault("client.wallet_rpc", "")
	v.SetDefault("client.wallet_ws", "")
	v.SetDefault("client.state_dir", ".zgdrop")
	v.SetDefault("client.request_timeout", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix("ZGDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bare := map[string]string{
		"relay.port":        "PORT",
		"relay.evm_rpc":     "ZG_EVM_RPC",
		"relay.indexer_rpc": "ZG_INDEXER_RPC",
		"relay.private_key": "ZG_PRIVATE_KEY",
	}
	for key, env := range bare {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env var %s: %w", env, err)
		}
	}

	prefixed := map[string]string{
		"relay.upload_dir":        "UPLOAD_DIR",
		"network.port":            "NODE_PORT",
		"network.seed":            "NODE_SEED",
		"network.peer_selector":   "PEER_SELECTOR",
		"storage.segment_path":    "SEGMENT_PATH",
		"storage.manifest_path":   "MANIFEST_PATH",
		"storage.max_concurrency": "MAX_CONCURRENCY",
		"client.relay_url":        "RELAY_URL",
		"client.wallet_rpc":       "WALLET_RPC",
		"client.wallet_ws":        "WALLET_WS",
		"client.state_dir":        "STATE_DIR",
		"logging.level":           "LOG_LEVEL",
		"logging.format":          "LOG_FORMAT",
	}
	for key, env := range prefixed {
		if err := v.BindEnv(key, "ZGDROP_"+env); err != nil {
			return fmt.Errorf("failed to bind env var %s: %w", env, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay port: %d (must be 1-65535)", c.Relay.Port)
	}
	if c.Relay.MaxMemoryMB < 1 {
		return fmt.Errorf("invalid max_memory_mb: %d", c.Relay.MaxMemoryMB)
	}

	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return fmt.Errorf("invalid node port: %d (must be 0-65535)", c.Network.Port)
	}
	if c.Network.RequestTimeout < 1 || c.Network.DataTimeout < 1 || c.Network.DHTTimeout < 1 {
		return fmt.Errorf("network timeouts must be at least 1 second")
	}
	validSelectors := map[string]bool{"random": true, "round_robin": true}
	if !validSelectors[c.Network.PeerSelector] {
		return fmt.Errorf("invalid peer_selector: %s (must be random or round_robin)", c.Network.PeerSelector)
	}
	if c.Network.MinSuccessRate < 0 || c.Network.MinSuccessRate > 1 {
		return fmt.Errorf("invalid min_success_rate: %.2f (must be 0.0-1.0)", c.Network.MinSuccessRate)
	}

	if c.Storage.SegmentPath == "" || c.Storage.ManifestPath == "" {
		return fmt.Errorf("segment_path and manifest_path cannot be empty")
	}
	if c.Storage.SegmentSize < 1024 || c.Storage.SegmentSize > p2p.MaxSegmentSize {
		return fmt.Errorf("invalid segment_size: %d (must be 1KB-4MB)", c.Storage.SegmentSize)
	}
	if c.Storage.MaxConcurrency < 1 || c.Storage.MaxConcurrency > 1024 {
		return fmt.Errorf("invalid max_concurrency: %d (must be 1-1024)", c.Storage.MaxConcurrency)
	}

	if c.Client.RelayURL == "" {
		return fmt.Errorf("relay_url cannot be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", c.Logging.Format)
	}
	return nil
}

// ValidateRelay checks the variables the relay cannot start without, in the
// order they are documented.
func (c *Config) ValidateRelay() error {
	required := []struct {
		name  string
		value string
	}{
		{"ZG_EVM_RPC", c.Relay.EVMRPC},
		{"ZG_INDEXER_RPC", c.Relay.IndexerRPC},
		{"ZG_PRIVATE_KEY", c.Relay.PrivateKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &MissingEnvError{Name: r.name}
		}
	}
	if _, err := c.IndexerPeers(); err != nil {
		return err
	}
	return nil
}

// IndexerPeers parses ZG_INDEXER_RPC: "local" or a comma separated list of
// multiaddrs that include a /p2p/ peer id.
func (c *Config) IndexerPeers() ([]multiaddr.Multiaddr, error) {
	raw := strings.TrimSpace(c.Relay.IndexerRPC)
	if raw == "" || raw == LocalIndexer {
		return nil, nil
	}
	return parseBootstrapPeers(strings.Split(raw, ","))
}

func parseBootstrapPeers(peerStrs []string) ([]multiaddr.Multiaddr, error) {
	var peers []multiaddr.Multiaddr
	for _, s := range peerStrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		m, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid indexer multiaddr %q: %w", s, err)
		}
		if _, err := peer.AddrInfoFromP2pAddr(m); err != nil {
			return nil, fmt.Errorf("invalid indexer address %q: %w", s, err)
		}
		peers = append(peers, m)
	}
	return peers, nil
}

// ToP2PConfig converts the node section into the storage node configuration.
func (c *Config) ToP2PConfig() (*p2p.Config, error) {
	cfg := p2p.NewConfig()
	cfg.Port = c.Network.Port
	cfg.Seed = c.Network.Seed
	cfg.ProtocolPrefix = c.Network.ProtocolPrefix
	cfg.EnableAutoRefresh = c.Network.AutoRefresh
	cfg.NameSpace = c.Network.NameSpace
	cfg.RequestTimeout = c.Network.RequestTimeout
	cfg.DataTimeout = c.Network.DataTimeout
	cfg.DHTTimeout = c.Network.DHTTimeout
	cfg.PeerSelector = c.Network.PeerSelector
	cfg.MinRequests = c.Network.MinRequests
	cfg.MinSuccessRate = c.Network.MinSuccessRate
	cfg.BlockTimeout = c.Network.BlockTimeout

	peers, err := c.IndexerPeers()
	if err != nil {
		return nil, err
	}
	cfg.BootstrapPeers = peers
	return &cfg, nil
}

// EnsureDirectories creates the storage and upload directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.SegmentPath, c.Storage.ManifestPath, c.Relay.UploadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetConfigPath returns cmdLinePath when set, otherwise the first config file
// found in the usual places, otherwise "" so that Load uses defaults.
func GetConfigPath(cmdLinePath string) string {
	if cmdLinePath != "" {
		return cmdLinePath
	}
	paths := []string{
		"config.yaml",
		filepath.Join("config", "config.yaml"),
		"/etc/zgdrop/config.yaml",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
