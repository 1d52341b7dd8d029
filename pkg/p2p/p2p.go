// Package p2p runs the storage node behind the relay: a libp2p host with a
// Kademlia DHT that stores file segments and signed manifests.
//
// Core functions:
//   - DHT: peer discovery, provider records and manifest records
//   - Segment transfer: content addressed segments served over streams
//   - Announce / Lookup: provider announcement and provider queries
//   - Peer selection: random or round robin choice among providers, with
//     failing providers blocked for a while
//
// Protocols:
//   - /zgdrop/announce/1.0.0
//   - /zgdrop/lookup/1.0.0
//   - /zgdrop/segment/exists/1.0.0
//   - /zgdrop/segment/data/1.0.0
//
// Usage:
//
//	cfg := p2p.NewConfig()
//	segments, _ := file.NewLocalSegmentStore("data/segments")
//
//	svc, err := p2p.NewService(ctx, cfg, segments)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Shutdown()
package p2p

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	record "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"zgDrop/pkg/file"
)

const (
	DefaultProtocolPrefix = "/zgdrop"
	DefaultNameSpace      = "zg"
)

type Service struct {
	Host         host.Host
	DHT          *dht.IpfsDHT
	Config       *Config
	PeerSelector PeerSelector
	Tracker      *PeerTracker
	Segments     file.SegmentStore
	Ctx          context.Context
	Cancel       context.CancelFunc
}

type Config struct {
	Port              int
	Seed              int64
	BootstrapPeers    []multiaddr.Multiaddr
	ProtocolPrefix    string
	EnableAutoRefresh bool
	NameSpace         string
	Validator         record.Validator
	RequestTimeout    int // seconds
	DataTimeout       int // seconds
	DHTTimeout        int // seconds
	PeerSelector      string
	MinRequests       int64
	MinSuccessRate    float64
	BlockTimeout      int // seconds
}

// NewConfig returns the default node configuration. Port 0 picks a free port.
func NewConfig() Config {
	return Config{
		Port:              0,
		Seed:              0,
		ProtocolPrefix:    DefaultProtocolPrefix,
		EnableAutoRefresh: true,
		NameSpace:         DefaultNameSpace,
		Validator:         ManifestValidator{},
		RequestTimeout:    5,
		DataTimeout:       30,
		DHTTimeout:        10,
		PeerSelector:      "random",
		MinRequests:       5,
		MinSuccessRate:    0.5,
		BlockTimeout:      600,
	}
}

func (c *Config) requestTimeout() time.Duration { return time.Duration(c.RequestTimeout) * time.Second }
func (c *Config) dataTimeout() time.Duration    { return time.Duration(c.DataTimeout) * time.Second }
func (c *Config) dhtTimeout() time.Duration     { return time.Duration(c.DHTTimeout) * time.Second }

// NewService creates the host, joins the DHT and registers every stream
// handler. Segments are served from segments.
func NewService(ctx context.Context, config Config, segments file.SegmentStore) (*Service, error) {
	if config.Validator == nil {
		config.Validator = ManifestValidator{}
	}

	h, err := newBasicHost(config.Port, config.Seed)
	if err != nil {
		return nil, xerrors.Errorf("failed to create host: %w", err)
	}

	kdht, err := newDHT(ctx, h, config)
	if err != nil {
		h.Close()
		return nil, xerrors.Errorf("failed to create DHT instance: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())

	p := &Service{
		Host:         h,
		DHT:          kdht,
		Config:       &config,
		PeerSelector: NewPeerSelector(config.PeerSelector),
		Tracker:      NewPeerTracker(config.MinRequests, config.MinSuccessRate, time.Duration(config.BlockTimeout)*time.Second),
		Segments:     segments,
		Ctx:          serviceCtx,
		Cancel:       cancel,
	}
	p.registerAnnounceHandler()
	p.registerLookupHandler()
	p.registerSegmentExistHandler()
	p.registerSegmentDataHandler()
	return p, nil
}

func (p *Service) Addrs() []multiaddr.Multiaddr {
	return p.Host.Addrs()
}

// Shutdown cancels in-flight handlers and closes the DHT and the host.
func (p *Service) Shutdown() error {
	logrus.Info("Shutting down storage node...")

	if p.Cancel != nil {
		p.Cancel()
	}

	if p.DHT != nil {
		if err := p.DHT.Close(); err != nil {
			logrus.Warnf("Error closing DHT: %v", err)
		}
	}

	if p.Host != nil {
		if err := p.Host.Close(); err != nil {
			logrus.Errorf("Error closing host: %v", err)
			return err
		}
	}

	logrus.Info("Storage node shutdown complete")
	return nil
}
