// Command zgdrop-relay is the HTTP relay between zgDrop clients and the
// storage network.
//
// Required environment (a .env file in the working directory is read
// first): ZG_EVM_RPC, ZG_INDEXER_RPC, ZG_PRIVATE_KEY. PORT defaults to 4000.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/subosito/gotenv"

	"zgDrop/pkg/config"
	"zgDrop/pkg/file"
	"zgDrop/pkg/logging"
	"zgDrop/pkg/p2p"
	"zgDrop/pkg/signer"
	"zgDrop/pkg/storage"
)

var version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zgDrop relay %s\n", version)
		return
	}

	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.GetConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRelay(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging)

	if err := run(cfg); err != nil {
		logrus.Errorf("Relay error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	key, err := signer.New(signer.NormalizeKey(cfg.Relay.PrivateKey))
	if err != nil {
		return err
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	chainID, err := signer.ProbeChainID(probeCtx, cfg.Relay.EVMRPC)
	probeCancel()
	if err != nil {
		logrus.Warnf("EVM RPC %s did not answer eth_chainId: %v", cfg.Relay.EVMRPC, err)
	}

	segments, err := file.NewLocalSegmentStore(cfg.Storage.SegmentPath)
	if err != nil {
		return err
	}
	manifests, err := file.NewLocalManifestStore(cfg.Storage.ManifestPath)
	if err != nil {
		return err
	}

	p2pCfg, err := cfg.ToP2PConfig()
	if err != nil {
		return err
	}
	node, err := p2p.NewService(ctx, *p2pCfg, segments)
	if err != nil {
		return fmt.Errorf("failed to start storage node: %w", err)
	}
	defer node.Shutdown()

	client := storage.NewNodeClient(node, segments, manifests, key, storage.Options{
		SegmentSize: cfg.Storage.SegmentSize,
		Concurrency: cfg.Storage.MaxConcurrency,
		ChainID:     chainID,
	})

	logrus.Infof("EVM RPC: %s (chain %d)", cfg.Relay.EVMRPC, chainID)
	logrus.Infof("Indexer: %s", cfg.Relay.IndexerRPC)
	logrus.Infof("Signer: %s", key.Address().Hex())
	for _, addr := range p2p.FullAddrs(node.Host) {
		logrus.Infof("Storage node: %s", addr)
	}

	server := NewServer(cfg, client, key.Address().Hex())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-sigChan:
		logrus.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
