package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetmcp/coordinator/internal/common/logger"
)

// Memory implements Bus with in-process channels, used whenever no NATS
// URL is configured (spec §4.H: live delivery degrades gracefully, it
// never blocks the caller on an external broker being present).
type Memory struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySub
	log           *logger.Logger
	closed        bool
}

type memorySub struct {
	bus     *Memory
	subject string
	handler Handler
	mu      sync.Mutex
	active  bool
}

func (s *memorySub) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewMemory builds an in-memory Bus.
func NewMemory(log *logger.Logger) *Memory {
	return &Memory{subscriptions: make(map[string][]*memorySub), log: log}
}

// Publish delivers event to every live subscriber of subject, each in its
// own goroutine so a slow handler never backs up the publisher.
func (b *Memory) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	for _, sub := range b.subscriptions[subject] {
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if !active {
			continue
		}
		go func(s *memorySub, e *Event) {
			if err := s.handler(ctx, e); err != nil {
				b.log.Error("event handler error", zap.String("subject", subject), zap.Error(err))
			}
		}(sub, event)
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *Memory) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	sub := &memorySub{bus: b, subject: subject, handler: handler, active: true}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	return sub, nil
}

// Close deactivates every subscription.
func (b *Memory) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySub)
}

// IsConnected reports true until Close has been called.
func (b *Memory) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
