package p2p

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

var errNoPeers = errors.New("no peers available")

// PeerSelector picks one peer out of a candidate list.
type PeerSelector interface {
	SelectPeer(peers []peer.ID) (peer.ID, error)
}

// SelectAvailablePeer keeps picking candidates with the node's selector until
// one confirms it stores the segment.
func (p *Service) SelectAvailablePeer(ctx context.Context, peers []peer.ID, hash string) (peer.ID, error) {
	if len(peers) == 0 {
		return "", errNoPeers
	}

	available := append([]peer.ID(nil), peers...)
	for len(available) > 0 {
		selected, err := p.PeerSelector.SelectPeer(available)
		if err != nil {
			return "", fmt.Errorf("failed to select peer: %w", err)
		}

		ok, err := p.HasSegment(ctx, selected, hash)
		if err != nil {
			logrus.Debugf("Peer %s check failed for segment %s: %v", selected, hash, err)
		}
		if ok {
			return selected, nil
		}
		available = removePeer(available, selected)
	}

	return "", fmt.Errorf("no available peers found with segment %s", hash)
}

func removePeer(peers []peer.ID, target peer.ID) []peer.ID {
	result := make([]peer.ID, 0, len(peers))
	for _, p := range peers {
		if p != target {
			result = append(result, p)
		}
	}
	return result
}

type RandomPeerSelector struct{}

func (s *RandomPeerSelector) SelectPeer(peers []peer.ID) (peer.ID, error) {
	if len(peers) == 0 {
		return "", errNoPeers
	}
	return peers[rand.Intn(len(peers))], nil
}

type RoundRobinPeerSelector struct {
	mu    sync.Mutex
	index int
}

func (s *RoundRobinPeerSelector) SelectPeer(peers []peer.ID) (peer.ID, error) {
	if len(peers) == 0 {
		return "", errNoPeers
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := peers[s.index%len(peers)]
	s.index++
	return selected, nil
}

// NewPeerSelector maps a config name to a selector. Unknown names fall back
// to random selection.
func NewPeerSelector(name string) PeerSelector {
	switch name {
	case "round_robin":
		return &RoundRobinPeerSelector{}
	default:
		return &RandomPeerSelector{}
	}
}
