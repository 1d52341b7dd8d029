package p2p

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	announceProtocol = "/announce/1.0.0"
	lookupProtocol   = "/lookup/1.0.0"

	MaxAnnounceMessageSize = 4 * 1024
	MaxLookupResponseSize  = 256 * 1024
)

var ErrNoProviders = errors.New("no providers found")

type announceMsg struct {
	Key      string        `json:"key"`
	PeerInfo peer.AddrInfo `json:"peer_info"`
}

type lookupRequest struct {
	Key string `json:"key"`
}

type lookupResponse struct {
	Providers []peer.AddrInfo `json:"providers"`
}

func (p *Service) protocolID(suffix string) protocol.ID {
	return protocol.ID(p.Config.ProtocolPrefix + suffix)
}

func newDHT(ctx context.Context, h host.Host, config Config) (*dht.IpfsDHT, error) {
	opts := []dht.Option{
		dht.ProtocolPrefix(protocol.ID(config.ProtocolPrefix)),
		dht.NamespacedValidator(config.NameSpace, config.Validator),
		dht.Mode(dht.ModeServer),
	}
	if !config.EnableAutoRefresh {
		opts = append(opts, dht.DisableAutoRefresh())
	}

	kdht, err := dht.New(ctx, h, opts...)
	if err != nil {
		return nil, err
	}
	if err = kdht.Bootstrap(ctx); err != nil {
		return nil, err
	}

	logrus.Infof("Storage node listening: %s", GetHostAddress(h))
	if len(config.BootstrapPeers) == 0 {
		logrus.Info("No indexer peers configured, running standalone")
		return kdht, nil
	}

	successCount := 0
	for _, addr := range config.BootstrapPeers {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logrus.Warnf("Invalid indexer address %q: %v", addr, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logrus.Warnf("Error while connecting to indexer %q: %v", info.ID, err)
			continue
		}
		successCount++

		if _, err := kdht.RoutingTable().TryAddPeer(info.ID, true, true); err != nil {
			logrus.Warnf("Failed to add peer %q to routing table: %v", info.ID, err)
		}
		logrus.WithFields(logrus.Fields{
			"peer":          info.ID,
			"routing_table": kdht.RoutingTable().Size(),
		}).Info("Connected to indexer")
	}

	if successCount == 0 {
		kdht.Close()
		return nil, fmt.Errorf("failed to connect to any indexer (attempted %d)", len(config.BootstrapPeers))
	}
	return kdht, nil
}

func (p *Service) recordKey(rootHash string) string {
	return "/" + p.Config.NameSpace + "/" + rootHash
}

// PublishManifest stores an encoded manifest in the DHT under its root hash.
// The record is always written locally; the error reports whether it could
// be replicated to other peers.
func (p *Service) PublishManifest(ctx context.Context, rootHash string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.Config.dhtTimeout())
	defer cancel()

	if err := p.DHT.PutValue(ctx, p.recordKey(rootHash), data); err != nil {
		return xerrors.Errorf("failed to put manifest: %w", err)
	}
	logrus.WithField("root", rootHash).Debug("Manifest published")
	return nil
}

// FetchManifest reads the manifest record for rootHash from the DHT.
func (p *Service) FetchManifest(ctx context.Context, rootHash string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Config.dhtTimeout())
	defer cancel()

	value, err := p.DHT.GetValue(ctx, p.recordKey(rootHash))
	if len(value) > 0 {
		return value, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to get manifest: %w", err)
	}
	return nil, xerrors.Errorf("manifest %s not found", rootHash)
}

func (p *Service) self() peer.AddrInfo {
	return peer.AddrInfo{ID: p.Host.ID(), Addrs: p.Host.Addrs()}
}

func (p *Service) closestPeers(ctx context.Context, key string) []peer.ID {
	ctx, cancel := context.WithTimeout(ctx, p.Config.dhtTimeout())
	defer cancel()

	peers, err := p.DHT.GetClosestPeers(ctx, key)
	if err != nil {
		logrus.Debugf("GetClosestPeers(%s) failed: %v", key, err)
		return nil
	}

	out := peers[:0]
	for _, id := range peers {
		if id != p.Host.ID() {
			out = append(out, id)
		}
	}
	return out
}

// Announce records this node as a provider of key and tells the closest
// peers about it.
func (p *Service) Announce(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("empty announce key")
	}

	self := p.self()
	if err := p.DHT.ProviderStore().AddProvider(ctx, []byte(key), self); err != nil {
		return xerrors.Errorf("failed to add local provider: %w", err)
	}

	peers := p.closestPeers(ctx, key)
	if len(peers) == 0 {
		logrus.WithField("key", key).Debug("No peers to announce to")
		return nil
	}

	data, err := json.Marshal(announceMsg{Key: key, PeerInfo: self})
	if err != nil {
		return fmt.Errorf("failed to marshal announce message: %w", err)
	}
	data = append(data, '\n')

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for _, id := range peers {
		wg.Add(1)
		go func(peerID peer.ID) {
			defer wg.Done()

			peerCtx, cancel := context.WithTimeout(ctx, p.Config.requestTimeout())
			defer cancel()

			s, err := p.Host.NewStream(peerCtx, peerID, p.protocolID(announceProtocol))
			if err != nil {
				logrus.WithFields(logrus.Fields{"peer": peerID, "error": err}).Debug("failed to open announce stream")
				return
			}
			defer s.Close()

			s.SetWriteDeadline(time.Now().Add(p.Config.requestTimeout()))
			if _, err := s.Write(data); err != nil {
				logrus.WithFields(logrus.Fields{"peer": peerID, "error": err}).Debug("failed to write announce message")
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	logrus.WithFields(logrus.Fields{
		"key":   key,
		"peers": len(peers),
		"sent":  sent,
	}).Debug("Announced provider")
	return nil
}

func (p *Service) registerAnnounceHandler() {
	p.Host.SetStreamHandler(p.protocolID(announceProtocol), func(s network.Stream) {
		defer s.Close()

		select {
		case <-p.Ctx.Done():
			return
		default:
		}

		s.SetReadDeadline(time.Now().Add(p.Config.requestTimeout()))
		line, err := bufio.NewReader(io.LimitReader(s, MaxAnnounceMessageSize)).ReadBytes('\n')
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"remotePeer": s.Conn().RemotePeer(),
				"error":      err,
			}).Warn("failed to read announce message")
			return
		}

		var msg announceMsg
		if err := json.Unmarshal(bytes.TrimSpace(line), &msg); err != nil || msg.Key == "" {
			logrus.WithField("remotePeer", s.Conn().RemotePeer()).Warn("invalid announce message")
			return
		}
		// a peer may only announce itself
		if msg.PeerInfo.ID != s.Conn().RemotePeer() {
			logrus.WithField("remotePeer", s.Conn().RemotePeer()).Warn("announce for foreign peer ignored")
			return
		}

		if err := p.DHT.ProviderStore().AddProvider(p.Ctx, []byte(msg.Key), msg.PeerInfo); err != nil {
			logrus.WithFields(logrus.Fields{
				"key":      msg.Key,
				"provider": msg.PeerInfo.ID,
				"error":    err,
			}).Error("failed to add provider")
			return
		}
		logrus.WithFields(logrus.Fields{
			"key":      msg.Key,
			"provider": msg.PeerInfo.ID,
		}).Debug("Added provider")
	})
}

// Lookup asks the closest peers for providers of key and merges their
// answers.
func (p *Service) Lookup(ctx context.Context, key string) ([]peer.AddrInfo, error) {
	peers := p.closestPeers(ctx, key)
	if len(peers) == 0 {
		return nil, nil
	}

	reqBytes, err := json.Marshal(lookupRequest{Key: key})
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}
	reqBytes = append(reqBytes, '\n')

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []peer.AddrInfo
	)
	for _, id := range peers {
		wg.Add(1)
		go func(peerID peer.ID) {
			defer wg.Done()

			peerCtx, cancel := context.WithTimeout(ctx, p.Config.requestTimeout())
			defer cancel()

			s, err := p.Host.NewStream(peerCtx, peerID, p.protocolID(lookupProtocol))
			if err != nil {
				logrus.WithFields(logrus.Fields{"peer": peerID, "err": err}).Debug("open lookup stream failed")
				return
			}
			defer s.Close()

			deadline := time.Now().Add(p.Config.requestTimeout())
			s.SetWriteDeadline(deadline)
			s.SetReadDeadline(deadline)

			if _, err := s.Write(reqBytes); err != nil {
				logrus.WithFields(logrus.Fields{"peer": peerID, "err": err}).Debug("write lookup request failed")
				return
			}

			line, err := bufio.NewReader(io.LimitReader(s, MaxLookupResponseSize)).ReadBytes('\n')
			if err != nil {
				logrus.WithFields(logrus.Fields{"peer": peerID, "err": err}).Debug("read lookup response failed")
				return
			}

			var resp lookupResponse
			if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
				logrus.WithFields(logrus.Fields{"peer": peerID, "err": err}).Warn("invalid lookup response")
				return
			}

			mu.Lock()
			results = append(results, resp.Providers...)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return dedupProviders(results, p.Host.ID()), nil
}

func (p *Service) registerLookupHandler() {
	p.Host.SetStreamHandler(p.protocolID(lookupProtocol), func(s network.Stream) {
		defer s.Close()

		select {
		case <-p.Ctx.Done():
			return
		default:
		}

		s.SetReadDeadline(time.Now().Add(p.Config.requestTimeout()))
		line, err := bufio.NewReader(io.LimitReader(s, MaxAnnounceMessageSize)).ReadBytes('\n')
		if err != nil {
			logrus.WithError(err).Warn("failed to read lookup request")
			return
		}
		var req lookupRequest
		if err := json.Unmarshal(bytes.TrimSpace(line), &req); err != nil {
			logrus.WithError(err).Warn("invalid lookup request")
			return
		}

		providers, err := p.DHT.ProviderStore().GetProviders(p.Ctx, []byte(req.Key))
		if err != nil {
			logrus.WithError(err).Error("provider lookup failed")
			return
		}

		respBytes, err := json.Marshal(lookupResponse{Providers: providers})
		if err != nil {
			logrus.WithError(err).Error("marshal lookup response failed")
			return
		}
		respBytes = append(respBytes, '\n')

		s.SetWriteDeadline(time.Now().Add(p.Config.requestTimeout()))
		if _, err := s.Write(respBytes); err != nil {
			logrus.WithError(err).Warn("failed to write lookup response")
		}
	})
}

// FindProviders merges the local provider records for key with the answers
// of the closest peers. This node is never part of the result.
func (p *Service) FindProviders(ctx context.Context, key string) ([]peer.AddrInfo, error) {
	local, err := p.DHT.ProviderStore().GetProviders(ctx, []byte(key))
	if err != nil {
		logrus.WithError(err).Debug("local provider lookup failed")
	}

	remote, err := p.Lookup(ctx, key)
	if err != nil {
		logrus.WithError(err).Debug("remote provider lookup failed")
	}

	providers := dedupProviders(append(local, remote...), p.Host.ID())
	if len(providers) == 0 {
		return nil, fmt.Errorf("%s: %w", key, ErrNoProviders)
	}
	return providers, nil
}

func dedupProviders(in []peer.AddrInfo, self peer.ID) []peer.AddrInfo {
	seen := make(map[peer.ID]int, len(in))
	out := make([]peer.AddrInfo, 0, len(in))
	for _, ai := range in {
		if ai.ID == self || ai.ID == "" {
			continue
		}
		if i, ok := seen[ai.ID]; ok {
			out[i].Addrs = append(out[i].Addrs, ai.Addrs...)
			continue
		}
		seen[ai.ID] = len(out)
		out = append(out, ai)
	}
	return out
}
