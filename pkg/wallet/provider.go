package wallet

import (
	"context"
	"encoding/json"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
)

// Provider is an EIP-1193 style wallet: JSON-RPC requests plus account and
// chain change notifications. Failed requests return a *ProviderError.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	// OnAccountsChanged registers fn and returns a function that removes it.
	OnAccountsChanged(fn func(accounts []string)) (unsubscribe func())
	// OnChainChanged registers fn and returns a function that removes it.
	// fn receives the hex chain id.
	OnChainChanged(fn func(chainID string)) (unsubscribe func())
}

const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// Emitter fans provider events out to subscribers. Providers embed it.
// Handlers run synchronously on the publishing goroutine in subscription
// order. Each subscription is removed by its own id, so several managers can
// share one provider.
type Emitter struct {
	bus evbus.Bus

	mu       sync.Mutex
	nextID   uint64
	accounts []subscription[func([]string)]
	chains   []subscription[func(string)]
}

type subscription[F any] struct {
	id uint64
	fn F
}

func NewEmitter() *Emitter {
	e := &Emitter{bus: evbus.New()}
	if err := e.bus.Subscribe(EventAccountsChanged, e.dispatchAccounts); err != nil {
		logrus.Errorf("Failed to subscribe to %s: %v", EventAccountsChanged, err)
	}
	if err := e.bus.Subscribe(EventChainChanged, e.dispatchChain); err != nil {
		logrus.Errorf("Failed to subscribe to %s: %v", EventChainChanged, err)
	}
	return e
}

func (e *Emitter) OnAccountsChanged(fn func(accounts []string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.accounts = append(e.accounts, subscription[func([]string)]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		e.accounts = without(e.accounts, id)
		e.mu.Unlock()
	}
}

func (e *Emitter) OnChainChanged(fn func(chainID string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.chains = append(e.chains, subscription[func(string)]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		e.chains = without(e.chains, id)
		e.mu.Unlock()
	}
}

func without[F any](subs []subscription[F], id uint64) []subscription[F] {
	out := make([]subscription[F], 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (e *Emitter) dispatchAccounts(accounts []string) {
	e.mu.Lock()
	subs := e.accounts
	e.mu.Unlock()
	for _, s := range subs {
		s.fn(accounts)
	}
}

func (e *Emitter) dispatchChain(chainID string) {
	e.mu.Lock()
	subs := e.chains
	e.mu.Unlock()
	for _, s := range subs {
		s.fn(chainID)
	}
}

func (e *Emitter) EmitAccountsChanged(accounts []string) {
	if accounts == nil {
		accounts = []string{}
	}
	e.bus.Publish(EventAccountsChanged, accounts)
}

func (e *Emitter) EmitChainChanged(chainID string) {
	e.bus.Publish(EventChainChanged, chainID)
}
