package watch

import (
	"context"
	"sync"
)

// InMemory is a single-process Bus.
type InMemory struct {
	mu       sync.RWMutex
	subs     map[string][]subscription // keyed by namespace, "" = all
	closed   bool
	closedCh chan struct{}
}

// subscription is one registered handler.
type subscription struct {
	ctx     context.Context
	handler func(Event)
	cancel  context.CancelFunc
}

// NewInMemory creates a new in-memory bus.
func NewInMemory() *InMemory {
	return &InMemory{
		subs:     make(map[string][]subscription),
		closedCh: make(chan struct{}),
	}
}

// Publish hands e to the matching subscribers, each in its own goroutine.
func (m *InMemory) Publish(ctx context.Context, e Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dispatch(m.subs[e.Namespace], e)
	if e.Namespace != "" {
		dispatch(m.subs[""], e)
	}

	return nil
}

func dispatch(subs []subscription, e Event) {
	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		go sub.handler(e)
	}
}

// Subscribe registers handler for namespace ("" for all namespaces).
func (m *InMemory) Subscribe(ctx context.Context, namespace string, handler func(Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := subscription{
		ctx:     subCtx,
		handler: handler,
		cancel:  cancel,
	}

	m.subs[namespace] = append(m.subs[namespace], sub)
	go m.watchSubscription(namespace, sub)

	return nil
}

// watchSubscription removes sub once its context ends.
func (m *InMemory) watchSubscription(namespace string, sub subscription) {
	select {
	case <-sub.ctx.Done():
		m.removeSubscription(namespace, sub)
	case <-m.closedCh:
		sub.cancel()
	}
}

func (m *InMemory) removeSubscription(namespace string, target subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[namespace]
	for i, sub := range subs {
		// Contexts are unique per subscription.
		if sub.ctx == target.ctx {
			m.subs[namespace] = append(subs[:i:i], subs[i+1:]...)
			sub.cancel()
			break
		}
	}

	if len(m.subs[namespace]) == 0 {
		delete(m.subs, namespace)
	}
}

// Close stops all subscriptions and prevents new ones.
func (m *InMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.closed = true
	close(m.closedCh)

	for _, subs := range m.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	m.subs = make(map[string][]subscription)

	return nil
}
