package voice

import (
	"sync"

	"navvoice/internal/mangle"
	"navvoice/internal/settings"

	"go.uber.org/zap"
)

const (
	modePredicate    = "app_mode"
	measurePredicate = "measure"
)

// ModeSource is the settings collaborator the engine reads and listens to.
type ModeSource interface {
	Mode() settings.ApplicationMode
	MetricSystem() settings.MetricSystem
	AudioStream(mode settings.ApplicationMode) settings.AudioStream
	Subscribe(l settings.Listener) *settings.Subscription
}

// ModeFact returns app_mode(/key) for mode.
func ModeFact(mode settings.ApplicationMode) mangle.Fact {
	return mangle.Fact{Predicate: modePredicate, Args: []any{"/" + mode.FactKey()}}
}

// MeasureFact returns measure("km-m") style facts for m.
func MeasureFact(m settings.MetricSystem) mangle.Fact {
	return mangle.Fact{Predicate: measurePredicate, Args: []any{m.TTSString()}}
}

// ModeSync keeps the rule base's app_mode fact equal to the active mode.
type ModeSync struct {
	rb     *mangle.RuleBase
	logger *zap.Logger
}

// NewModeSync creates a synchronizer for rb.
func NewModeSync(rb *mangle.RuleBase, logger *zap.Logger) *ModeSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModeSync{rb: rb, logger: logger}
}

// Update replaces the mode fact in one transaction.
func (m *ModeSync) Update(mode settings.ApplicationMode) error {
	if mode.IsZero() {
		return nil
	}
	err := m.rb.Transaction().
		Retract(modePredicate).
		Assert(ModeFact(mode)).
		Commit()
	if err != nil {
		m.logger.Warn("mode fact update failed", zap.String("mode", mode.Key()), zap.Error(err))
		return err
	}
	m.logger.Debug("mode fact updated", zap.String("mode", mode.FactKey()))
	return nil
}

// Attach subscribes to source. Each observer runs after the fact has been replaced.
func (m *ModeSync) Attach(source ModeSource, observers ...func(settings.ApplicationMode)) *ModeSubscription {
	sub := source.Subscribe(func(mode settings.ApplicationMode) {
		_ = m.Update(mode)
		for _, o := range observers {
			o(mode)
		}
	})
	return &ModeSubscription{sub: sub}
}

// ModeSubscription must be detached before the engine is disposed.
type ModeSubscription struct {
	sub  *settings.Subscription
	once sync.Once
}

// Detach stops notifications. The last mode fact stays in place.
func (s *ModeSubscription) Detach() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.sub.Close()
	})
}
