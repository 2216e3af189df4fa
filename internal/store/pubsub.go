package store

import (
	"context"
	"sync"
)

// subscriptionBuffer bounds how many messages a slow subscriber can fall behind before drops.
const subscriptionBuffer = 256

// Message mirrors redis.Message for the in-memory hub
type Message struct {
	Channel string
	Payload string
}

// Subscription is an in-memory stand-in for redis.PubSub
type Subscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newSubscription(channels []string) *Subscription {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}

	return &Subscription{
		channels: channelMap,
		msgChan:  make(chan *Message, subscriptionBuffer),
		closeCh:  make(chan struct{}),
	}
}

// Channel returns the message channel. It is closed when the subscription closes.
func (s *Subscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

// deliver sends msg without blocking; a full buffer drops it.
func (s *Subscription) deliver(msg *Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return false
	}

	select {
	case s.msgChan <- msg:
		return true
	default:
		return false
	}
}

// PubSubHub routes published messages to in-memory subscriptions.
type PubSubHub struct {
	subscribers map[string][]*Subscription // channel -> subscriptions
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*Subscription),
	}
}

// Subscribe registers a subscription that is removed when ctx ends or it is closed.
func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *Subscription {
	sub := newSubscription(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *PubSubHub) remove(sub *Subscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, channel := range channels {
		subs := h.subscribers[channel]
		for i, s := range subs {
			if s == sub {
				h.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[channel]) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

// Publish delivers payload to every subscription of channel and returns how many received it.
func (h *PubSubHub) Publish(channel, payload string) int {
	h.mu.RLock()
	subs := make([]*Subscription, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	delivered := 0
	for _, sub := range subs {
		if sub.deliver(msg) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on channel.
func (h *PubSubHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}
