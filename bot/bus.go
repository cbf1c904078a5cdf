package bot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Status is the connection state of a bot.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is one line of the bot's rolling activity log. Category is
// "system" for connection events and the handler name for handler activity.
type LogEntry struct {
	Time     time.Time `json:"time"`
	Level    Level     `json:"level"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

const CategorySystem = "system"

const defaultLogSize = 200

type statusObserver struct {
	id uint64
	fn func(Status)
}

type logObserver struct {
	id uint64
	fn func(LogEntry)
}

// Bus fans status changes and log entries out to observers. Delivery is
// synchronous and in publication order; observers must not publish from a callback.
type Bus struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	status  []statusObserver
	logs    []logObserver
	ring    []LogEntry
	head    int
	size    int
	closed  bool
	deliver sync.Mutex
}

// NewBus returns a bus keeping the last size log entries (200 when size <= 0).
func NewBus(ownerID string, size int, clock clockwork.Clock) *Bus {
	if size <= 0 {
		size = defaultLogSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bus{
		clock:  clock,
		logger: slog.Default().With(slog.String("component", "bot"), slog.String("owner", ownerID)),
		ring:   make([]LogEntry, size),
	}
}

// SubscribeStatus registers fn. The returned func unsubscribes; calling it
// more than once, or after Close, is a no-op.
func (b *Bus) SubscribeStatus(fn func(Status)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.status = append(b.status, statusObserver{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, o := range b.status {
				if o.id == id {
					b.status = append(b.status[:i:i], b.status[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeLog registers fn for log entries. Same unsubscribe contract as SubscribeStatus.
func (b *Bus) SubscribeLog(fn func(LogEntry)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.logs = append(b.logs, logObserver{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, o := range b.logs {
				if o.id == id {
					b.logs = append(b.logs[:i:i], b.logs[i+1:]...)
					return
				}
			}
		})
	}
}

// PublishStatus delivers s to every status observer.
func (b *Bus) PublishStatus(s Status) {
	b.deliver.Lock()
	defer b.deliver.Unlock()
	b.mu.Lock()
	observers := append([]statusObserver(nil), b.status...)
	b.mu.Unlock()
	for _, o := range observers {
		o.fn(s)
	}
}

// Log appends an entry to the ring, mirrors it to slog and delivers it.
func (b *Bus) Log(level Level, category, message string) {
	entry := LogEntry{Time: b.clock.Now().UTC(), Level: level, Category: category, Message: message}
	b.mirror(entry)

	b.deliver.Lock()
	defer b.deliver.Unlock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring[b.head] = entry
	b.head = (b.head + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}
	observers := append([]logObserver(nil), b.logs...)
	b.mu.Unlock()
	for _, o := range observers {
		o.fn(entry)
	}
}

func (b *Bus) mirror(e LogEntry) {
	attrs := []any{slog.String("category", e.Category)}
	switch e.Level {
	case LevelError:
		b.logger.Error(e.Message, attrs...)
	case LevelWarn:
		b.logger.Warn(e.Message, attrs...)
	default:
		b.logger.Info(e.Message, attrs...)
	}
}

// Entries returns the retained log, oldest first.
func (b *Bus) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, 0, b.size)
	start := (b.head - b.size + len(b.ring)) % len(b.ring)
	for i := 0; i < b.size; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// Close drops every observer. Later publications only reach slog.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.status, b.logs = nil, nil
}
