package bot

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrderAndUnsubscribesIdempotently(t *testing.T) {
	b := NewBus("owner", 10, clockwork.NewFakeClock())

	var first, second []Status
	unsubFirst := b.SubscribeStatus(func(s Status) { first = append(first, s) })
	b.SubscribeStatus(func(s Status) { second = append(second, s) })

	b.PublishStatus(StatusConnecting)
	unsubFirst()
	unsubFirst()
	b.PublishStatus(StatusConnected)

	assert.Equal(t, []Status{StatusConnecting}, first)
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, second)
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	b := NewBus("owner", 10, nil)
	var got []LogEntry
	unsub := b.SubscribeLog(func(e LogEntry) { got = append(got, e) })
	b.Close()
	b.Log(LevelInfo, CategorySystem, "after close")
	unsub()
	unsub()
	assert.Empty(t, got)

	// subscribing after close hands back a usable no-op
	b.SubscribeStatus(func(Status) {})()
}

func TestBusUnsubscribeFromInsideCallback(t *testing.T) {
	b := NewBus("owner", 10, nil)
	calls := 0
	var unsub func()
	unsub = b.SubscribeLog(func(LogEntry) {
		calls++
		unsub()
	})
	b.Log(LevelInfo, CategorySystem, "one")
	b.Log(LevelInfo, CategorySystem, "two")
	assert.Equal(t, 1, calls)
}

func TestBusRingKeepsMostRecent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := NewBus("owner", 3, clock)
	for i := 1; i <= 5; i++ {
		b.Log(LevelInfo, "hotwords", fmt.Sprintf("entry %d", i))
		clock.Advance(time.Second)
	}
	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 3", entries[0].Message)
	assert.Equal(t, "entry 5", entries[2].Message)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 4, 0, time.UTC), entries[2].Time)
	assert.Equal(t, "hotwords", entries[2].Category)
}

func TestBusDefaultSize(t *testing.T) {
	b := NewBus("owner", 0, nil)
	for i := 0; i < defaultLogSize+5; i++ {
		b.Log(LevelWarn, CategorySystem, "x")
	}
	assert.Len(t, b.Entries(), defaultLogSize)
}
