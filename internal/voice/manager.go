package voice

import (
	"context"
	"fmt"
	"sync"

	"navvoice/internal/audio"

	"go.uber.org/zap"
)

// Manager owns the engine of the selected pack and swaps it on selection or reload.
type Manager struct {
	base   Options
	logger *zap.Logger

	mu      sync.Mutex
	current *Engine
	closed  bool
}

// NewManager creates a manager. base.PackID is ignored; every engine shares base.Router.
func NewManager(base Options) *Manager {
	if base.Logger == nil {
		base.Logger = zap.NewNop()
	}
	if base.Router == nil {
		base.Router = audio.NewRouter(audio.NewState(), nil, nil, base.Logger.Named("audio"))
	}
	return &Manager{base: base, logger: base.Logger}
}

// Select loads pack id. The previous engine keeps serving until the new one is certified.
func (m *Manager) Select(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("voice manager closed")
	}
	return m.swapLocked(ctx, id)
}

// Reload rebuilds the engine when id is the selected pack.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current == nil || m.current.opts.PackID != id {
		return nil
	}
	m.logger.Info("reloading voice pack", zap.String("pack", id))
	return m.swapLocked(ctx, id)
}

// HandleChange is a ChangeFunc that reloads the selected pack.
func (m *Manager) HandleChange(ctx context.Context, id string) {
	if err := m.Reload(ctx, id); err != nil {
		m.logger.Warn("voice pack reload failed, keeping previous rules",
			zap.String("pack", id),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err))
	}
}

func (m *Manager) swapLocked(ctx context.Context, id string) error {
	opts := m.base
	opts.PackID = id
	next := New(opts)
	if err := next.Load(ctx); err != nil {
		next.Shutdown()
		return err
	}
	prev := m.current
	m.current = next
	if prev != nil {
		prev.Shutdown()
	}
	return nil
}

// Current returns the active engine, or nil.
func (m *Manager) Current() *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Resolve delegates to the active engine.
func (m *Manager) Resolve(ctx context.Context, cmds []Command) []string {
	e := m.Current()
	if e == nil {
		return []string{}
	}
	return e.Resolve(ctx, cmds)
}

// Speak delegates to the active engine.
func (m *Manager) Speak(ctx context.Context, cmds []Command, player Player) ([]string, error) {
	e := m.Current()
	if e == nil {
		return []string{}, nil
	}
	return e.Speak(ctx, cmds, player)
}

// Close shuts down the active engine.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.current != nil {
		m.current.Shutdown()
		m.current = nil
	}
}
