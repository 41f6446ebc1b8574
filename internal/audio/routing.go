// Package audio brackets voice playback with output focus and an optional auxiliary
// (Bluetooth SCO style) link that interrupts other audio sources such as a car radio.
package audio

import (
	"fmt"
	"sync"

	"navvoice/internal/settings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Link status strings reported by Snapshot.
const (
	StatusUnknown        = "-"
	StatusNotAvailable   = "Reported not available."
	StatusInitialized    = "Available, initialized OK."
	statusNotInitialized = "Available, but not initialized.\n(%s)"
)

// State is the process-wide routing state. The caller owns one value and hands a pointer
// to every Router that shares the hardware.
type State struct {
	FocusHeld  bool
	LinkActive bool
	Status     string
	Session    string
}

// NewState returns the initial state.
func NewState() *State {
	return &State{Status: StatusUnknown}
}

// FocusProvider grants and abandons output focus.
type FocusProvider interface {
	RequestFocus(mode settings.ApplicationMode, stream settings.AudioStream) (bool, error)
	AbandonFocus(mode settings.ApplicationMode, stream settings.AudioStream) error
}

// LinkDevice drives the auxiliary link.
type LinkDevice interface {
	// Available reports whether the link can be used without an active call.
	Available() bool
	Start() error
	Stop() error
}

// NoopFocus grants focus without touching hardware.
type NoopFocus struct{}

func (NoopFocus) RequestFocus(settings.ApplicationMode, settings.AudioStream) (bool, error) {
	return true, nil
}

func (NoopFocus) AbandonFocus(settings.ApplicationMode, settings.AudioStream) error {
	return nil
}

// NoopLink is a link device that is never available.
type NoopLink struct{}

func (NoopLink) Available() bool { return false }
func (NoopLink) Start() error    { return nil }
func (NoopLink) Stop() error     { return nil }

// Router serializes focus and link changes against one State.
type Router struct {
	mu     sync.Mutex
	state  *State
	focus  FocusProvider
	link   LinkDevice
	logger *zap.Logger

	granted bool
	mode    settings.ApplicationMode
	stream  settings.AudioStream
}

// NewRouter creates a router. Nil collaborators fall back to the Noop implementations.
func NewRouter(state *State, focus FocusProvider, link LinkDevice, logger *zap.Logger) *Router {
	if state == nil {
		state = NewState()
	}
	if focus == nil {
		focus = NoopFocus{}
	}
	if link == nil {
		link = NoopLink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{state: state, focus: focus, link: link, logger: logger}
}

// Acquire opens a playback session. While a session is held it returns the earlier grant.
func (r *Router) Acquire(mode settings.ApplicationMode, stream settings.AudioStream) bool {
	_, granted := r.AcquireSession(mode, stream)
	return granted
}

// AcquireSession is Acquire that also returns the id of the session it opened. The id is
// empty when a session was already held, so only the opener can release it.
func (r *Router) AcquireSession(mode settings.ApplicationMode, stream settings.AudioStream) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Session != "" {
		return "", r.granted
	}

	r.state.Session = uuid.NewString()
	r.mode, r.stream = mode, stream

	var granted bool
	err := guard(func() error {
		var err error
		granted, err = r.focus.RequestFocus(mode, stream)
		return err
	})
	if err != nil {
		r.logger.Warn("focus request failed",
			zap.String("session", r.state.Session),
			zap.String("mode", mode.Key()),
			zap.Error(err))
		granted = false
	}
	r.granted = granted
	r.state.FocusHeld = granted

	r.logger.Debug("audio session acquired",
		zap.String("session", r.state.Session),
		zap.String("mode", mode.Key()),
		zap.Int("stream", int(stream)),
		zap.Bool("granted", granted))

	if granted && stream == settings.StreamVoiceCall {
		r.enableLocked()
	}
	return r.state.Session, granted
}

// Release closes the session. Releasing without a session is a no-op.
func (r *Router) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

// ReleaseSession closes the session only if id is the one currently held.
func (r *Router) ReleaseSession(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" || id != r.state.Session {
		return false
	}
	r.releaseLocked()
	return true
}

func (r *Router) releaseLocked() {
	if r.state.LinkActive {
		r.disableLocked()
	}
	if r.state.Session == "" {
		return
	}
	if r.state.FocusHeld {
		if err := guard(func() error { return r.focus.AbandonFocus(r.mode, r.stream) }); err != nil {
			r.logger.Warn("focus abandon failed", zap.String("session", r.state.Session), zap.Error(err))
		}
	}
	r.logger.Debug("audio session released", zap.String("session", r.state.Session))
	r.state.FocusHeld = false
	r.state.Session = ""
	r.granted = false
}

// EnableLink starts the auxiliary link and records its status.
func (r *Router) EnableLink() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enableLocked()
}

// DisableLink stops the auxiliary link.
func (r *Router) DisableLink() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disableLocked()
}

// Snapshot returns a copy of the routing state.
func (r *Router) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state
}

func (r *Router) enableLocked() bool {
	var available bool
	if err := guard(func() error { available = r.link.Available(); return nil }); err != nil {
		available = false
	}
	if !available {
		r.state.Status = StatusNotAvailable
		return false
	}
	if err := guard(r.link.Start); err != nil {
		r.logger.Warn("link start failed", zap.Error(err))
		r.state.LinkActive = false
		r.state.Status = fmt.Sprintf(statusNotInitialized, err.Error())
		return false
	}
	r.state.LinkActive = true
	r.state.Status = StatusInitialized
	return true
}

func (r *Router) disableLocked() bool {
	err := guard(r.link.Stop)
	r.state.LinkActive = false
	if err != nil {
		r.logger.Warn("link stop failed", zap.Error(err))
		return false
	}
	return true
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()
	return fn()
}
