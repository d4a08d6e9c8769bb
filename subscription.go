package busgate

import (
	"context"
	"sync"

	"github.com/smartcommerce/busgate-go/messaging"
)

// Subscription is one handler registration on a destination
type Subscription struct {
	client *Client
	handle *messaging.ProcessorHandle
	reg    *messaging.Registration

	once       sync.Once
	stopMu     sync.Mutex
	stopCancel func() bool
}

func newSubscription(c *Client, handle *messaging.ProcessorHandle, reg *messaging.Registration) *Subscription {
	return &Subscription{client: c, handle: handle, reg: reg}
}

// Destination returns the subscribed destination
func (s *Subscription) Destination() string {
	return s.handle.Destination()
}

// EventType returns the dispatch key; empty for raw subscriptions
func (s *Subscription) EventType() string {
	return s.reg.EventType()
}

// Close removes this registration. Removing the last registration of a
// destination stops its processor; handlers already running finish.
func (s *Subscription) Close() error {
	s.once.Do(s.close)
	return nil
}

// stopOnCancel closes the subscription when ctx is done
func (s *Subscription) stopOnCancel(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.stopMu.Lock()
	s.stopCancel = stop
	s.stopMu.Unlock()
}

func (s *Subscription) close() {
	s.stopMu.Lock()
	if s.stopCancel != nil {
		s.stopCancel()
	}
	s.stopMu.Unlock()

	remaining := s.handle.Unregister(s.reg)
	s.client.logger.Info("unsubscribed",
		"destination", s.handle.Destination(),
		"eventType", s.reg.EventType(),
		"remaining", remaining)

	if remaining == 0 && !s.client.closed.Load() {
		s.client.stopIdle(s.handle)
	}
}
