// Package voice loads voice packs, certifies their rule bases and turns navigation
// commands into ordered audio-sample ids.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"navvoice/internal/audio"
	"navvoice/internal/mangle"
	"navvoice/internal/settings"

	"go.uber.org/zap"
)

// Player plays resolved sample ids. Playback timing belongs to the implementation.
type Player interface {
	Play(ctx context.Context, files []string) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, files []string) error

func (f PlayerFunc) Play(ctx context.Context, files []string) error { return f(ctx, files) }

// Options configure an Engine.
type Options struct {
	PackID       string
	Locator      Locator
	Settings     ModeSource
	Supported    SupportedVersions
	QueryTimeout time.Duration
	FactLimit    int
	Router       *audio.Router
	Logger       *zap.Logger
}

// Engine is the voice engine for one pack.
type Engine struct {
	opts   Options
	logger *zap.Logger

	rb       *mangle.RuleBase
	resolver *Resolver
	modeSync *ModeSync
	router   *audio.Router

	mu       sync.RWMutex
	pack     *Pack
	version  int
	language string
	mode     settings.ApplicationMode
	stream   settings.AudioStream
	sub      *ModeSubscription
	session  string // audio session opened by Speak, if any
	closed   bool

	shutdown sync.Once
}

// New creates an engine. Call Load before resolving.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := opts.Router
	if router == nil {
		router = audio.NewRouter(nil, nil, nil, logger.Named("audio"))
	}
	cfg := mangle.DefaultConfig()
	if opts.FactLimit > 0 {
		cfg.FactLimit = opts.FactLimit
	}
	rb := mangle.NewRuleBase(cfg, logger.Named("kernel"))
	e := &Engine{
		opts:     opts,
		logger:   logger.With(zap.String("pack", opts.PackID)),
		rb:       rb,
		resolver: NewResolver(rb, opts.QueryTimeout, logger.Named("resolve")),
		modeSync: NewModeSync(rb, logger.Named("mode")),
		router:   router,
		mode:     settings.ModeDefault,
		stream:   settings.DefaultAudioStream,
		language: FallbackLanguage(opts.PackID),
	}
	if opts.Settings != nil {
		e.mode = opts.Settings.Mode()
		e.stream = opts.Settings.AudioStream(e.mode)
	}
	return e
}

// Load locates the pack, loads its rule base and certifies it.
func (e *Engine) Load(ctx context.Context) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return newPackError(PackUnavailable, e.opts.PackID, fmt.Errorf("engine shut down"))
	}
	e.resolver.SetCertified(false)
	e.version = 0

	if e.opts.Locator == nil {
		return newPackError(PackUnavailable, e.opts.PackID, fmt.Errorf("no locator"))
	}
	pack, err := e.opts.Locator.Locate(e.opts.PackID)
	if err != nil {
		e.logger.Error("voice pack unavailable", zap.Error(err))
		if KindOf(err) == KindUnknown {
			return newPackError(PackUnavailable, e.opts.PackID, err)
		}
		return err
	}
	e.pack = pack
	e.language = pack.Language

	metric := settings.KilometersAndMeters
	if e.opts.Settings != nil {
		e.mode = e.opts.Settings.Mode()
		metric = e.opts.Settings.MetricSystem()
	}
	runtime := []mangle.Fact{MeasureFact(metric)}
	if !e.mode.IsZero() {
		runtime = append(runtime, ModeFact(e.mode))
	}

	if err := e.rb.Load(pack.Payload, runtime); err != nil {
		e.logger.Error("loading voice config failed", zap.String("file", pack.RuleFile), zap.Error(err))
		e.rb.Clear()
		return newPackError(CorruptRuleBase, pack.ID, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.resolver.timeout)
		defer cancel()
	}
	version, err := Certify(ctx, e.rb, e.opts.Supported)
	if err != nil {
		e.rb.Clear()
		if errors.Is(err, ErrUnsupportedVersion) {
			e.logger.Error("voice rule base not supported", zap.Error(err))
			return newPackError(UnsupportedVersion, pack.ID, err)
		}
		e.logger.Error("voice rule base failed to evaluate", zap.Error(err))
		return newPackError(CorruptRuleBase, pack.ID, err)
	}
	e.version = version
	if lang, ok := selfLanguage(ctx, e.rb); ok {
		e.language = lang
	}

	if e.sub != nil {
		e.sub.Detach()
		e.sub = nil
	}
	if e.opts.Settings != nil {
		e.sub = e.modeSync.Attach(e.opts.Settings, e.trackMode)
		if cur := e.opts.Settings.Mode(); cur.FactKey() != e.mode.FactKey() {
			e.mode = cur
			_ = e.modeSync.Update(cur)
		}
	}
	e.resolver.SetCertified(true)

	e.logger.Info("voice subsystem initialized",
		zap.Int("version", version),
		zap.String("language", e.language),
		zap.String("kind", pack.Kind.String()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (e *Engine) trackMode(mode settings.ApplicationMode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

// Resolve returns the sample ids for cmds.
func (e *Engine) Resolve(ctx context.Context, cmds []Command) []string {
	return e.resolver.Resolve(ctx, cmds)
}

// ResolveDetailed returns the resolution with its degradation reason.
func (e *Engine) ResolveDetailed(ctx context.Context, cmds []Command) Resolution {
	return e.resolver.ResolveDetailed(ctx, cmds)
}

// CertifiedVersion returns the certified rule base version, or 0.
func (e *Engine) CertifiedVersion() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Certified reports whether the engine resolves commands.
func (e *Engine) Certified() bool {
	return e.resolver.Certified()
}

// Language returns the pack's spoken language.
func (e *Engine) Language() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.language
}

// CurrentVoice returns the loaded pack id, or "" before a successful locate.
func (e *Engine) CurrentVoice() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pack == nil {
		return ""
	}
	return e.pack.ID
}

// Pack returns the located pack.
func (e *Engine) Pack() *Pack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pack
}

// Mode returns the mode the engine last observed.
func (e *Engine) Mode() settings.ApplicationMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// OnModeChanged mirrors mode into the rule base.
func (e *Engine) OnModeChanged(mode settings.ApplicationMode) {
	if mode.IsZero() {
		return
	}
	e.trackMode(mode)
	_ = e.modeSync.Update(mode)
}

// UpdateAudioStream sets the stream used for the next playback session.
func (e *Engine) UpdateAudioStream(stream settings.AudioStream) {
	e.mu.Lock()
	e.stream = stream
	e.mu.Unlock()
}

// AudioStream returns the stream used for playback.
func (e *Engine) AudioStream() settings.AudioStream {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stream
}

// Speak resolves cmds and plays them inside an audio session.
func (e *Engine) Speak(ctx context.Context, cmds []Command, player Player) ([]string, error) {
	files := e.Resolve(ctx, cmds)
	if len(files) == 0 || player == nil {
		return files, nil
	}

	e.mu.RLock()
	mode, stream := e.mode, e.stream
	e.mu.RUnlock()

	session, _ := e.router.AcquireSession(mode, stream)
	if session != "" {
		e.mu.Lock()
		e.session = session
		e.mu.Unlock()
		defer func() {
			e.router.ReleaseSession(session)
			e.mu.Lock()
			if e.session == session {
				e.session = ""
			}
			e.mu.Unlock()
		}()
	}

	if err := player.Play(ctx, files); err != nil {
		return files, fmt.Errorf("play %d files: %w", len(files), err)
	}
	return files, nil
}

// Router returns the audio router bracketing playback.
func (e *Engine) Router() *audio.Router {
	return e.router
}

// Stats returns rule base statistics.
func (e *Engine) Stats() mangle.Stats {
	return e.rb.Stats()
}

// NewCommandBuilder starts a command sequence bound to this engine.
func (e *Engine) NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{engine: e}
}

// Shutdown detaches from settings, clears the rule base and releases the audio session
// this engine opened. Sessions of other engines sharing the router are left alone. Later
// calls degrade to empty results.
func (e *Engine) Shutdown() {
	e.shutdown.Do(func() {
		e.resolver.SetCertified(false)

		e.mu.Lock()
		e.closed = true
		sub := e.sub
		e.sub = nil
		e.version = 0
		session := e.session
		e.session = ""
		e.mu.Unlock()

		sub.Detach()
		e.rb.Clear()
		e.router.ReleaseSession(session)
		e.logger.Debug("voice engine shut down")
	})
}
