package bridge

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultSubscriberBuffer is the per-subscriber outbound frame buffer
const defaultSubscriberBuffer = 64

// Subscription is one downstream listener's independent receiving end
type Subscription struct {
	id          string
	ch          chan []byte
	broadcaster *Broadcaster
	once        sync.Once
}

// ID returns the subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// C returns the channel frames are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close releases the registration. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broadcaster.remove(s)
	})
}

// Broadcaster fans frames out to every current subscriber.
// Delivery never blocks: a subscriber whose buffer is full misses the frame.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer
func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new listener. It only sees frames published afterwards.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		id:          uuid.NewString(),
		ch:          make(chan []byte, b.buffer),
		broadcaster: b,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("Subscriber added", zap.String("subscriber", sub.id), zap.Int("subscribers", count))
	return sub
}

// remove unregisters sub and closes its channel.
// The channel is closed under the write lock so Publish never sends on it afterwards.
func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	_, existed := b.subs[sub.id]
	delete(b.subs, sub.id)
	if existed {
		close(sub.ch)
	}
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("Subscriber removed", zap.String("subscriber", sub.id), zap.Int("subscribers", count))
}

// Publish delivers a copy of frame to every subscriber and returns how many received it
func (b *Broadcaster) Publish(frame []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		msg := append([]byte(nil), frame...)
		select {
		case sub.ch <- msg:
			delivered++
		default:
			b.logger.Debug("Subscriber buffer full, dropping frame", zap.String("subscriber", sub.id))
		}
	}
	return delivered
}

// Count returns the number of registered subscribers
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
