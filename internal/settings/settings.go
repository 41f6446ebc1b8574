// Package settings provides the host-side settings collaborator used by the voice engine:
// the active application mode, the measurement system and the audio stream per mode,
// with change notifications delivered through explicit subscription handles.
package settings

import (
	"strings"
	"sync"
)

// ApplicationMode is a string-keyed routing profile (car, bicycle, pedestrian...).
type ApplicationMode struct {
	key string
}

// Predefined application modes.
var (
	ModeDefault         = NewMode("default")
	ModeCar             = NewMode("car")
	ModeBicycle         = NewMode("bicycle")
	ModePedestrian      = NewMode("pedestrian")
	ModePublicTransport = NewMode("public_transport")
	ModeBoat            = NewMode("boat")
	ModeAircraft        = NewMode("aircraft")
)

// NewMode returns the mode identified by key.
func NewMode(key string) ApplicationMode {
	return ApplicationMode{key: strings.TrimSpace(key)}
}

// Key returns the mode's string key as configured.
func (m ApplicationMode) Key() string {
	return m.key
}

// FactKey returns the lowercased key mirrored into the rule base.
func (m ApplicationMode) FactKey() string {
	return strings.ToLower(m.key)
}

// IsZero reports whether the mode was never set.
func (m ApplicationMode) IsZero() bool {
	return m.key == ""
}

func (m ApplicationMode) String() string {
	return m.key
}

// MetricSystem selects how distances are spoken.
type MetricSystem int

const (
	KilometersAndMeters MetricSystem = iota
	MilesAndFeet
	MilesAndYards
	MilesAndMeters
	NauticalMiles
)

var metricTTS = map[MetricSystem]string{
	KilometersAndMeters: "km-m",
	MilesAndFeet:        "mi-f",
	MilesAndYards:       "mi-y",
	MilesAndMeters:      "mi-m",
	NauticalMiles:       "nm",
}

// TTSString returns the token the rule base sees in measure/1.
func (m MetricSystem) TTSString() string {
	if s, ok := metricTTS[m]; ok {
		return s
	}
	return metricTTS[KilometersAndMeters]
}

func (m MetricSystem) String() string {
	return m.TTSString()
}

// ParseMetricSystem maps a TTS token back to a MetricSystem.
func ParseMetricSystem(s string) (MetricSystem, bool) {
	for k, v := range metricTTS {
		if v == strings.ToLower(strings.TrimSpace(s)) {
			return k, true
		}
	}
	return KilometersAndMeters, false
}

// AudioStream is the platform output stream selector used for prompts.
type AudioStream int

const (
	// StreamVoiceCall routes prompts like a phone call and requires the auxiliary link.
	StreamVoiceCall    AudioStream = 0
	StreamMusic        AudioStream = 3
	StreamNotification AudioStream = 5
)

// DefaultAudioStream is used for modes without an explicit stream.
const DefaultAudioStream = StreamMusic

// Listener receives mode changes.
type Listener func(ApplicationMode)

// Store is an in-memory settings source. Listeners are invoked synchronously, in
// registration order, on the goroutine that changed the mode.
type Store struct {
	mu        sync.RWMutex
	mode      ApplicationMode
	metric    MetricSystem
	streams   map[string]AudioStream
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64

	notifyMu sync.Mutex
}

// NewStore creates a store with the given initial mode and measurement system.
func NewStore(mode ApplicationMode, metric MetricSystem) *Store {
	if mode.IsZero() {
		mode = ModeDefault
	}
	return &Store{
		mode:      mode,
		metric:    metric,
		streams:   make(map[string]AudioStream),
		listeners: make(map[uint64]Listener),
	}
}

// Mode returns the current application mode.
func (s *Store) Mode() ApplicationMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// MetricSystem returns the current measurement system.
func (s *Store) MetricSystem() MetricSystem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metric
}

// SetMetricSystem changes the measurement system. It takes effect on the next pack load.
func (s *Store) SetMetricSystem(m MetricSystem) {
	s.mu.Lock()
	s.metric = m
	s.mu.Unlock()
}

// AudioStream returns the stream configured for mode.
func (s *Store) AudioStream(mode ApplicationMode) AudioStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.streams[mode.FactKey()]; ok {
		return st
	}
	return DefaultAudioStream
}

// SetAudioStream configures the stream for mode.
func (s *Store) SetAudioStream(mode ApplicationMode, stream AudioStream) {
	s.mu.Lock()
	s.streams[mode.FactKey()] = stream
	s.mu.Unlock()
}

// SetMode changes the active mode and notifies listeners. Setting the current mode again
// is not a change and notifies nobody.
func (s *Store) SetMode(mode ApplicationMode) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if mode.IsZero() || mode.FactKey() == s.mode.FactKey() {
		s.mu.Unlock()
		return
	}
	s.mode = mode
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(mode)
	}
}

// Subscribe registers l for mode changes. The returned handle must be closed when the
// listener's owner is disposed.
func (s *Store) Subscribe(l Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.order = append(s.order, id)
	return &Subscription{store: s, id: id}
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return
	}
	delete(s.listeners, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Subscription is the handle for a registered listener.
type Subscription struct {
	store *Store
	id    uint64
	once  sync.Once
}

// Close unregisters the listener. Safe to call more than once.
func (sub *Subscription) Close() {
	if sub == nil || sub.store == nil {
		return
	}
	sub.once.Do(func() {
		sub.store.unsubscribe(sub.id)
	})
}
