package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message is an in-process pub/sub message.
type Message struct {
	Channel string
	Payload string
}

type subscription struct {
	ch       chan *Message
	channels []string
}

// LocalPubSub is an in-process fan-out pub/sub used when Redis is not
// configured. Delivery is best-effort: a subscriber whose buffer is full
// misses the message.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	bufSize int
	dropped atomic.Uint64
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &Message{Channel: channel, Payload: message}
	// Held across the sends so cancel cannot close a channel mid-publish.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.subs[channel] {
		select {
		case s.ch <- msg:
		default:
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel receiving messages from every listed channel
// and a cancel function. The subscription also ends when ctx is done; the
// returned channel is closed either way.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	s := &subscription{ch: make(chan *Message, ps.bufSize), channels: channels}

	ps.mu.Lock()
	for _, c := range channels {
		if ps.subs[c] == nil {
			ps.subs[c] = make(map[*subscription]struct{})
		}
		ps.subs[c][s] = struct{}{}
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() { once.Do(func() { ps.unsubscribe(s) }) }
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return s.ch, cancel, nil
}

// Dropped reports how many deliveries were skipped because a subscriber
// was not keeping up.
func (ps *LocalPubSub) Dropped() uint64 { return ps.dropped.Load() }

func (ps *LocalPubSub) unsubscribe(s *subscription) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, c := range s.channels {
		delete(ps.subs[c], s)
		if len(ps.subs[c]) == 0 {
			delete(ps.subs, c)
		}
	}
	close(s.ch)
}
