package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"zgDrop/pkg/merkle"
)

const (
	segmentExistProtocol = "/segment/exists/1.0.0"
	segmentDataProtocol  = "/segment/data/1.0.0"

	MaxSegmentSize = 4 * 1024 * 1024
)

type segmentRequest struct {
	Hash string `json:"hash"`
}

// HasSegment asks peerID whether it stores the segment.
func (p *Service) HasSegment(ctx context.Context, peerID peer.ID, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Config.requestTimeout())
	defer cancel()

	s, err := p.Host.NewStream(ctx, peerID, p.protocolID(segmentExistProtocol))
	if err != nil {
		return false, fmt.Errorf("open stream: %w", err)
	}
	defer s.Close()

	s.SetDeadline(time.Now().Add(p.Config.requestTimeout()))
	if err := json.NewEncoder(s).Encode(segmentRequest{Hash: hash}); err != nil {
		return false, fmt.Errorf("encode request: %w", err)
	}

	var exists bool
	if err := json.NewDecoder(s).Decode(&exists); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return exists, nil
}

// DownloadSegment reads the raw segment bytes from peerID without checking
// them.
func (p *Service) DownloadSegment(ctx context.Context, peerID peer.ID, hash string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Config.dataTimeout())
	defer cancel()

	s, err := p.Host.NewStream(ctx, peerID, p.protocolID(segmentDataProtocol))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer s.Close()

	s.SetDeadline(time.Now().Add(p.Config.dataTimeout()))
	if err := json.NewEncoder(s).Encode(segmentRequest{Hash: hash}); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close write: %w", err)
	}

	data, err := io.ReadAll(&io.LimitedReader{R: s, N: MaxSegmentSize + 1})
	if err != nil {
		return nil, fmt.Errorf("read segment: %w", err)
	}
	if len(data) > MaxSegmentSize {
		return nil, fmt.Errorf("segment too large")
	}
	return data, nil
}

// FetchSegment returns the segment from the local store or, failing that,
// from one of its providers. Remote data is verified against hash and cached
// locally.
func (p *Service) FetchSegment(ctx context.Context, hash string) ([]byte, error) {
	if p.Segments.Has(hash) {
		return p.Segments.Get(hash)
	}

	providers, err := p.FindProviders(ctx, hash)
	if err != nil {
		return nil, err
	}

	candidates := make([]peer.ID, 0, len(providers))
	for _, ai := range providers {
		if len(ai.Addrs) > 0 {
			connCtx, cancel := context.WithTimeout(ctx, p.Config.requestTimeout())
			err := p.Host.Connect(connCtx, ai)
			cancel()
			if err != nil {
				logrus.WithFields(logrus.Fields{"peer": ai.ID, "error": err}).Debug("failed to connect to provider")
				continue
			}
		}
		candidates = append(candidates, ai.ID)
	}

	candidates = p.Tracker.Filter(candidates)

	want := common.HexToHash(hash)
	for len(candidates) > 0 {
		selected, err := p.SelectAvailablePeer(ctx, candidates, hash)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		data, err := p.DownloadSegment(ctx, selected, hash)
		switch {
		case err != nil:
			p.Tracker.RecordFailure(selected)
			logrus.WithFields(logrus.Fields{"peer": selected, "segment": hash, "error": err}).Warn("segment download failed")
		case merkle.HashSegment(data) != want:
			p.Tracker.RecordFailure(selected)
			logrus.WithFields(logrus.Fields{"peer": selected, "segment": hash}).Warn("segment hash mismatch")
		default:
			p.Tracker.RecordSuccess(selected, time.Since(start))
			if err := p.Segments.Put(hash, data); err != nil {
				logrus.WithError(err).Warn("failed to cache segment")
			}
			return data, nil
		}
		candidates = removePeer(candidates, selected)
	}
	return nil, fmt.Errorf("no provider delivered segment %s", hash)
}

func (p *Service) registerSegmentExistHandler() {
	p.Host.SetStreamHandler(p.protocolID(segmentExistProtocol), func(s network.Stream) {
		defer s.Close()

		s.SetDeadline(time.Now().Add(p.Config.requestTimeout()))
		var req segmentRequest
		if err := json.NewDecoder(io.LimitReader(s, MaxAnnounceMessageSize)).Decode(&req); err != nil {
			logrus.Warnf("Invalid segment exist request: %v", err)
			return
		}

		exists := p.Segments.Has(strings.TrimSpace(req.Hash))
		_ = json.NewEncoder(s).Encode(exists)
	})
}

func (p *Service) registerSegmentDataHandler() {
	p.Host.SetStreamHandler(p.protocolID(segmentDataProtocol), func(s network.Stream) {
		defer s.Close()

		select {
		case <-p.Ctx.Done():
			return
		default:
		}

		s.SetDeadline(time.Now().Add(p.Config.dataTimeout()))
		var req segmentRequest
		if err := json.NewDecoder(io.LimitReader(s, MaxAnnounceMessageSize)).Decode(&req); err != nil {
			logrus.Warnf("Invalid segment data request: %v", err)
			return
		}

		data, err := p.Segments.Get(strings.TrimSpace(req.Hash))
		if err != nil {
			logrus.WithField("segment", req.Hash).Debug("segment not found")
			return
		}
		if _, err := s.Write(data); err != nil {
			logrus.Warnf("Send segment failed: %v", err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"segment": req.Hash,
			"peer":    s.Conn().RemotePeer(),
			"bytes":   len(data),
		}).Debug("Segment served")
	})
}
