package bot

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BuildFunc creates the controller of one owner.
type BuildFunc func(ctx context.Context, ownerID string) (*Controller, error)

// Manager keeps one Controller per owner, built on first use.
type Manager struct {
	build BuildFunc
	group singleflight.Group

	mu     sync.RWMutex
	bots   map[string]*Controller
	closed bool
}

func NewManager(build BuildFunc) *Manager {
	return &Manager{build: build, bots: make(map[string]*Controller)}
}

// Get returns the owner's controller, building it once even under concurrent callers.
func (m *Manager) Get(ctx context.Context, ownerID string) (*Controller, error) {
	if c, ok := m.Lookup(ownerID); ok {
		return c, nil
	}
	v, err, _ := m.group.Do(ownerID, func() (any, error) {
		if c, ok := m.Lookup(ownerID); ok {
			return c, nil
		}
		c, err := m.build(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			_ = c.Close(context.WithoutCancel(ctx))
			return nil, ErrClosed
		}
		m.bots[ownerID] = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

// Lookup returns an already built controller.
func (m *Manager) Lookup(ownerID string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bots[ownerID]
	return c, ok
}

// Owners lists owners with a built controller.
func (m *Manager) Owners() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bots))
	for id := range m.bots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close closes every controller concurrently and reports the joined drain errors.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	bots := make([]*Controller, 0, len(m.bots))
	for _, c := range m.bots {
		bots = append(bots, c)
	}
	m.bots = map[string]*Controller{}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range bots {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			if err := c.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}
