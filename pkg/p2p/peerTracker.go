package p2p

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// PeerStats is the transfer history of one provider.
type PeerStats struct {
	Requests     int64
	Successes    int64
	Failures     int64
	AvgLatency   time.Duration
	LastFailure  time.Time
	BlockedUntil time.Time
}

func (s PeerStats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests)
}

// PeerTracker records segment transfers per provider and blocks providers
// whose success rate drops below the threshold once they served at least
// minRequests requests.
type PeerTracker struct {
	mu             sync.Mutex
	peers          map[peer.ID]*PeerStats
	minRequests    int64
	minSuccessRate float64
	blockFor       time.Duration
	now            func() time.Time
}

func NewPeerTracker(minRequests int64, minSuccessRate float64, blockFor time.Duration) *PeerTracker {
	return &PeerTracker{
		peers:          make(map[peer.ID]*PeerStats),
		minRequests:    minRequests,
		minSuccessRate: minSuccessRate,
		blockFor:       blockFor,
		now:            time.Now,
	}
}

func (t *PeerTracker) get(p peer.ID) *PeerStats {
	s, ok := t.peers[p]
	if !ok {
		s = &PeerStats{}
		t.peers[p] = s
	}
	return s
}

func (t *PeerTracker) RecordSuccess(p peer.ID, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(p)
	s.Requests++
	s.Successes++
	if s.AvgLatency == 0 {
		s.AvgLatency = latency
	} else {
		s.AvgLatency = (s.AvgLatency*9 + latency) / 10
	}
}

func (t *PeerTracker) RecordFailure(p peer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(p)
	s.Requests++
	s.Failures++
	s.LastFailure = t.now()

	if s.Requests >= t.minRequests && s.SuccessRate() < t.minSuccessRate {
		s.BlockedUntil = s.LastFailure.Add(t.blockFor)
		logrus.Warnf("Provider %s blocked until %s: success rate %.0f%% (%d/%d)",
			p, s.BlockedUntil.Format(time.RFC3339), s.SuccessRate()*100, s.Successes, s.Requests)
	}
}

func (t *PeerTracker) Blocked(p peer.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.peers[p]
	return ok && t.now().Before(s.BlockedUntil)
}

// Filter drops blocked providers from peers.
func (t *PeerTracker) Filter(peers []peer.ID) []peer.ID {
	out := make([]peer.ID, 0, len(peers))
	for _, p := range peers {
		if !t.Blocked(p) {
			out = append(out, p)
		}
	}
	return out
}

func (t *PeerTracker) Stats(p peer.ID) (PeerStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.peers[p]
	if !ok {
		return PeerStats{}, false
	}
	return *s, true
}
