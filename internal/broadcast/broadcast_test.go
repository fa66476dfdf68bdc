package broadcast

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(fmt.Sprintf("line-%d", i))
	}
	b.Close()

	var got []string
	for msg := range sub.Lines() {
		assert.Zero(t, msg.Dropped)
		got = append(got, msg.Text)
	}
	require.Len(t, got, 10)
	for i, text := range got {
		assert.Equal(t, fmt.Sprintf("line-%d", i), text)
	}
}

func TestSubscriberOnlySeesLinesAfterSubscribe(t *testing.T) {
	b := New()
	b.Publish("before-1")
	b.Publish("before-2")

	sub := b.Subscribe()
	b.Publish("after-1")
	b.Publish("after-2")
	b.Close()

	var got []string
	for msg := range sub.Lines() {
		assert.Zero(t, msg.Dropped)
		got = append(got, msg.Text)
	}
	assert.Equal(t, []string{"after-1", "after-2"}, got)
}

func TestSubscribeAfterCloseIsTerminated(t *testing.T) {
	b := New()
	b.Close()
	sub := b.Subscribe()
	_, ok := <-sub.Lines()
	assert.False(t, ok)
}

func TestSlowSubscriberAccruesGap(t *testing.T) {
	b := NewWithCapacity(4)
	sub := b.Subscribe()

	// Fill the backlog, then overflow it.
	for i := 0; i < 4; i++ {
		b.Publish(fmt.Sprintf("kept-%d", i))
	}
	b.Publish("lost-a")
	b.Publish("lost-b")
	b.Publish("lost-c")

	// Drain one slot; the next publish carries the gap.
	first := <-sub.Lines()
	assert.Equal(t, "kept-0", first.Text)
	assert.Zero(t, first.Dropped)

	b.Publish("after-gap")
	b.Close()

	var last Message
	for msg := range sub.Lines() {
		last = msg
	}
	assert.Equal(t, "after-gap", last.Text)
	assert.Equal(t, uint64(3), last.Dropped)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	other := b.Subscribe()

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	b.Publish("hello")

	_, ok := <-sub.Lines()
	assert.False(t, ok)

	msg := <-other.Lines()
	assert.Equal(t, "hello", msg.Text)
	other.Unsubscribe()
	b.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	b.Close()
	_, ok := <-sub.Lines()
	assert.False(t, ok)

	// Publishing after close is a no-op.
	b.Publish("ignored")
}

func TestManySubscribersEachSeeEveryLine(t *testing.T) {
	const subscribers = 100
	const lines = 1000

	b := NewWithCapacity(lines)
	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	results := make([][]string, subscribers)
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			for msg := range sub.Lines() {
				results[i] = append(results[i], msg.Text)
			}
		}(i, sub)
	}

	for i := 0; i < lines; i++ {
		b.Publish(fmt.Sprintf("%d", i))
	}
	b.Close()
	wg.Wait()

	for i := range results {
		require.Len(t, results[i], lines, "subscriber %d", i)
		for j, text := range results[i] {
			require.Equal(t, fmt.Sprintf("%d", j), text)
		}
	}
}
