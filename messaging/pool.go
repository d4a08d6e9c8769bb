package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/smartcommerce/busgate-go/contracts"
)

// poolEntry is a handle slot. ready is closed once creation finished,
// successfully or not.
type poolEntry[H any] struct {
	ready  chan struct{}
	handle H
	err    error
}

// handlePool caches one handle per key. Concurrent first requests for a
// key wait on the creator instead of creating their own handle.
type handlePool[H any] struct {
	mu      sync.Mutex
	entries map[string]*poolEntry[H]
	closed  bool
	discard func(H)
}

func newHandlePool[H any](discard func(H)) *handlePool[H] {
	return &handlePool[H]{
		entries: make(map[string]*poolEntry[H]),
		discard: discard,
	}
}

// getOrCreate returns the handle for key, calling create at most once per
// live key. created reports whether this call created the handle.
func (p *handlePool[H]) getOrCreate(ctx context.Context, key string, create func() (H, error)) (handle H, created bool, err error) {
	var zero H

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, false, contracts.ErrPoolClosed
	}
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		select {
		case <-e.ready:
			if e.err != nil {
				return zero, false, e.err
			}
			return e.handle, false, nil
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}
	e := &poolEntry[H]{ready: make(chan struct{})}
	p.entries[key] = e
	p.mu.Unlock()

	h, err := safeCreate(create)

	p.mu.Lock()
	if err != nil {
		if p.entries[key] == e {
			delete(p.entries, key)
		}
		e.err = err
		close(e.ready)
		p.mu.Unlock()
		return zero, false, err
	}
	if p.closed {
		e.err = contracts.ErrPoolClosed
		close(e.ready)
		p.mu.Unlock()
		if p.discard != nil {
			p.discard(h)
		}
		return zero, false, contracts.ErrPoolClosed
	}
	e.handle = h
	close(e.ready)
	p.mu.Unlock()
	return h, true, nil
}

// get returns a ready handle without creating one
func (p *handlePool[H]) get(key string) (H, bool) {
	var zero H
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return zero, false
	}
	select {
	case <-e.ready:
		if e.err != nil {
			return zero, false
		}
		return e.handle, true
	default:
		return zero, false
	}
}

// snapshot returns all ready handles by key
func (p *handlePool[H]) snapshot() map[string]H {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyLocked()
}

// drain closes the pool and hands every ready handle to the caller.
// Creations still in flight are discarded when they finish.
func (p *handlePool[H]) drain() map[string]H {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	out := p.readyLocked()
	p.entries = make(map[string]*poolEntry[H])
	return out
}

func (p *handlePool[H]) readyLocked() map[string]H {
	out := make(map[string]H, len(p.entries))
	for key, e := range p.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				out[key] = e.handle
			}
		default:
		}
	}
	return out
}

func safeCreate[H any](create func() (H, error)) (h H, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handle creation panicked: %v", r)
		}
	}()
	return create()
}
