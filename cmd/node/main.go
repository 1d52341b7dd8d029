// Package main runs a standalone zgDrop storage node.
//
// A node stores segments, answers provider lookups and holds manifest
// records in the DHT. Relays name nodes in ZG_INDEXER_RPC by the multiaddr
// this command prints at startup.
//
// Usage:
//
//	// default configuration (config.yaml, ./config, /etc/zgdrop)
//	go run ./cmd/node
//
//	// explicit config file
//	go run ./cmd/node -config /path/to/config.yaml
//
//	// environment overrides
//	ZGDROP_NETWORK_PORT=4101 ZGDROP_LOG_LEVEL=debug go run ./cmd/node
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"zgDrop/pkg/config"
	"zgDrop/pkg/file"
	"zgDrop/pkg/logging"
	"zgDrop/pkg/p2p"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"

	configPath  string
	showHelp    bool
	showVersion bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
}

func main() {
	flag.Parse()

	if showHelp {
		printHelp()
		os.Exit(0)
	}
	if showVersion {
		printVersion()
		os.Exit(0)
	}

	configFile := config.GetConfigPath(configPath)
	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logging.Setup(cfg.Logging)
	if configFile != "" {
		logrus.Infof("Loaded configuration from: %s", configFile)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		logrus.Fatalf("Failed to create directories: %v", err)
	}

	logrus.Infof("Network: port=%d, selector=%s", cfg.Network.Port, cfg.Network.PeerSelector)
	logrus.Infof("Storage: segment_path=%s, manifest_path=%s", cfg.Storage.SegmentPath, cfg.Storage.ManifestPath)

	p2pConfig, err := cfg.ToP2PConfig()
	if err != nil {
		logrus.Fatalf("Invalid network configuration: %v", err)
	}
	segments, err := file.NewLocalSegmentStore(cfg.Storage.SegmentPath)
	if err != nil {
		logrus.Fatalf("Failed to open segment store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logrus.Info("Starting storage node...")
	service, err := p2p.NewService(ctx, *p2pConfig, segments)
	if err != nil {
		logrus.Fatalf("Failed to start storage node: %v", err)
	}

	printNodeInfo(service)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logrus.Info("Storage node is running. Press Ctrl+C to stop.")
	<-sigChan

	logrus.Info("Received shutdown signal, shutting down gracefully...")
	if err := service.Shutdown(); err != nil {
		logrus.Errorf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	logrus.Info("Shutdown complete")
}

func printNodeInfo(service *p2p.Service) {
	fmt.Println("\n=== Node Information ===")
	fmt.Printf("Peer ID: %s\n", service.Host.ID())
	fmt.Println("\nIndexer addresses (use in ZG_INDEXER_RPC):")
	for _, addr := range p2p.FullAddrs(service.Host) {
		fmt.Printf("  - %s\n", addr)
	}
	fmt.Println("========================")
}

func printHelp() {
	fmt.Printf(`zgDrop storage node v%s

Usage:
  zgdrop-node [options]

Options:
  -config <path>   Path to configuration file
  -h, -help        Show this help message
  -v, -version     Show version information

Environment Variables:
  ZGDROP_NETWORK_PORT         Listen port (0 = random)
  ZGDROP_NETWORK_SEED         Deterministic identity seed (0 = random)
  ZGDROP_STORAGE_SEGMENT_PATH Segment storage path
  ZGDROP_LOG_LEVEL            Log level (debug, info, warn, error)
  ZG_INDEXER_RPC              Peers to bootstrap from, or "local"
`, version)
}

func printVersion() {
	fmt.Printf("zgDrop storage node\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Build Date: %s\n", date)
}
