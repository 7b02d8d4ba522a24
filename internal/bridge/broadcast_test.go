package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBroadcaster_DeliversToEverySubscriber(t *testing.T) {
	b := NewBroadcaster(4, zap.NewNop())
	a, c := b.Subscribe(), b.Subscribe()
	assert.NotEqual(t, a.ID(), c.ID())

	delivered := b.Publish([]byte("frame"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, "frame", string(<-a.C()))
	assert.Equal(t, "frame", string(<-c.C()))
}

func TestBroadcaster_PublishCopiesFrame(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	sub := b.Subscribe()

	frame := []byte("abc")
	b.Publish(frame)
	frame[0] = 'x'

	assert.Equal(t, "abc", string(<-sub.C()))
}

func TestBroadcaster_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster(2, zap.NewNop())
	slow := b.Subscribe()
	fast := b.Subscribe()

	received := 0
	for i := 0; i < 5; i++ {
		b.Publish([]byte{byte('0' + i)})
		<-fast.C()
		received++
	}

	assert.Equal(t, 5, received)
	assert.Len(t, slow.C(), 2)
	assert.Equal(t, "0", string(<-slow.C()))
	assert.Equal(t, "1", string(<-slow.C()))
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(1, zap.NewNop())
	sub := b.Subscribe()
	require.Equal(t, 1, b.Count())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, b.Count())
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish([]byte("after")))
}

func TestBroadcaster_ConcurrentSubscribeAndPublish(t *testing.T) {
	b := NewBroadcaster(8, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := b.Subscribe()
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			b.Publish([]byte("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.Count())
}
