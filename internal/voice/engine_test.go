package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"navvoice/internal/audio"
	"navvoice/internal/settings"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEngineRoundTrip(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de-tts", TTSConfigFile, fixtureRules)
	store := settings.NewStore(settings.ModeCar, settings.KilometersAndMeters)

	e := newTestEngine(t, root, "de-tts", store)
	defer e.Shutdown()

	require.NoError(t, e.Load(context.Background()))
	require.Equal(t, 5, e.CertifiedVersion())
	require.Equal(t, "de", e.Language())
	require.Equal(t, "de-tts", e.CurrentVoice())

	got := e.Resolve(context.Background(), turnLeft200())
	if diff := cmp.Diff([]string{"turn_left", "200_meters"}, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, e.Resolve(context.Background(), nil))
}

func TestEngineUnsupportedVersion(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "en", ConfigFile, versionRules("9")+fixtureBody)
	e := newTestEngine(t, root, "en", settings.NewStore(settings.ModeCar, settings.KilometersAndMeters))
	defer e.Shutdown()

	err := e.Load(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	require.Equal(t, UnsupportedVersion, KindOf(err))
	require.Equal(t, 0, e.CertifiedVersion())
	require.False(t, e.Certified())
	require.Empty(t, e.Resolve(context.Background(), turnLeft200()))
}

func TestEngineLoadErrors(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "broken", ConfigFile, "resolve(S, R) :- ")
	writePack(t, root, "hollow", "", "")

	cases := map[string]Kind{
		"broken":  CorruptRuleBase,
		"hollow":  PackUnavailable,
		"missing": PackUnavailable,
	}
	for id, kind := range cases {
		t.Run(id, func(t *testing.T) {
			e := newTestEngine(t, root, id, nil)
			defer e.Shutdown()
			err := e.Load(context.Background())
			require.Error(t, err)
			require.Equal(t, kind, KindOf(err), "got %v", err)
			require.Empty(t, e.Resolve(context.Background(), turnLeft200()))
		})
	}
}

func TestEngineUnevaluableRulesAreCorrupt(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "loop", ConfigFile, fixtureRules+unboundedRules)

	t.Run("fact limit", func(t *testing.T) {
		e := New(Options{
			PackID:    "loop",
			Locator:   DirLocator{Root: root},
			Supported: NewSupportedVersions(5),
			FactLimit: 200,
		})
		defer e.Shutdown()
		err := e.Load(context.Background())
		require.Equal(t, CorruptRuleBase, KindOf(err), "got %v", err)
		require.NotErrorIs(t, err, ErrUnsupportedVersion)
		require.False(t, e.Certified())
		require.Empty(t, e.Resolve(context.Background(), turnLeft200()))
	})

	t.Run("deadline", func(t *testing.T) {
		e := New(Options{
			PackID:    "loop",
			Locator:   DirLocator{Root: root},
			Supported: NewSupportedVersions(5),
			FactLimit: 5000,
		})
		defer e.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		err := e.Load(ctx)
		require.Equal(t, CorruptRuleBase, KindOf(err), "got %v", err)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestEngineLanguageFallback(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "en-gb-formal-tts", TTSConfigFile, versionRules("4"))
	e := newTestEngine(t, root, "en-gb-formal-tts", nil)
	defer e.Shutdown()

	require.NoError(t, e.Load(context.Background()))
	require.Equal(t, "en-gb", e.Language())
}

func TestEngineFollowsModeChanges(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de", ConfigFile, fixtureRules)
	store := settings.NewStore(settings.ModeCar, settings.KilometersAndMeters)
	e := newTestEngine(t, root, "de", store)
	defer e.Shutdown()
	require.NoError(t, e.Load(context.Background()))

	ctx := context.Background()
	ahead := []Command{Cmd("go_ahead")}
	require.Equal(t, []string{"drive_on"}, e.Resolve(ctx, ahead))

	store.SetMode(settings.ModePedestrian)
	require.Equal(t, []string{"walk_on"}, e.Resolve(ctx, ahead))
	require.Len(t, e.rb.Facts(modePredicate), 1)
	require.Equal(t, settings.ModePedestrian, e.Mode())

	store.SetMode(settings.ModeBicycle)
	require.Empty(t, e.Resolve(ctx, ahead))
	require.Len(t, e.rb.Facts(modePredicate), 1)

	e.OnModeChanged(settings.ModeCar)
	require.Equal(t, []string{"drive_on"}, e.Resolve(ctx, ahead))
}

func TestEngineShutdown(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de", ConfigFile, fixtureRules)
	store := settings.NewStore(settings.ModeCar, settings.KilometersAndMeters)
	e := newTestEngine(t, root, "de", store)
	require.NoError(t, e.Load(context.Background()))
	require.Equal(t, 1, store.Listeners())

	e.Shutdown()
	e.Shutdown()

	require.Equal(t, 0, store.Listeners())
	require.False(t, e.Stats().Loaded)

	start := time.Now()
	require.Empty(t, e.Resolve(context.Background(), turnLeft200()))
	require.Less(t, time.Since(start), time.Second)

	store.SetMode(settings.ModePedestrian)
	require.Error(t, e.Load(context.Background()))
}

func TestEngineShutdownDuringResolve(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de", ConfigFile, fixtureRules)
	e := newTestEngine(t, root, "de", settings.NewStore(settings.ModeCar, settings.KilometersAndMeters))
	require.NoError(t, e.Load(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				files := e.Resolve(context.Background(), turnLeft200())
				if len(files) != 0 && len(files) != 2 {
					t.Errorf("unexpected files %v", files)
				}
			}
		}()
	}
	e.Shutdown()
	wg.Wait()
}

type recordingFocus struct {
	requests, abandons int
}

func (f *recordingFocus) RequestFocus(settings.ApplicationMode, settings.AudioStream) (bool, error) {
	f.requests++
	return true, nil
}

func (f *recordingFocus) AbandonFocus(settings.ApplicationMode, settings.AudioStream) error {
	f.abandons++
	return nil
}

func TestEngineSpeakBracketsAudioSession(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de", ConfigFile, fixtureRules)
	store := settings.NewStore(settings.ModeCar, settings.KilometersAndMeters)

	focus := &recordingFocus{}
	state := audio.NewState()
	router := audio.NewRouter(state, focus, nil, nil)
	e := New(Options{
		PackID:    "de",
		Locator:   DirLocator{Root: root},
		Settings:  store,
		Supported: NewSupportedVersions(5),
		Router:    router,
	})
	defer e.Shutdown()
	require.NoError(t, e.Load(context.Background()))

	var played []string
	player := PlayerFunc(func(_ context.Context, files []string) error {
		require.True(t, state.FocusHeld, "focus must be held while playing")
		played = files
		return nil
	})

	files, err := e.NewCommandBuilder().Arrive().Speak(context.Background(), player)
	require.NoError(t, err)
	require.Equal(t, []string{"arrived", "delay_250"}, files)
	require.Equal(t, files, played)
	require.Equal(t, 1, focus.requests)
	require.Equal(t, 1, focus.abandons)
	require.False(t, state.FocusHeld)

	_, err = e.Speak(context.Background(), turnLeft200(), PlayerFunc(func(context.Context, []string) error {
		return errors.New("speaker unplugged")
	}))
	require.Error(t, err)
	require.Equal(t, 2, focus.abandons)

	files, err = e.NewCommandBuilder().MakeUT().Speak(context.Background(), player)
	require.NoError(t, err)
	require.Empty(t, files)
	require.Equal(t, 2, focus.requests, "nothing to play, no session")
}

func TestEngineShutdownLeavesOtherEnginesSession(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de", ConfigFile, fixtureRules)
	store := settings.NewStore(settings.ModeCar, settings.KilometersAndMeters)

	focus := &recordingFocus{}
	router := audio.NewRouter(audio.NewState(), focus, nil, nil)
	newEngine := func() *Engine {
		e := New(Options{
			PackID:    "de",
			Locator:   DirLocator{Root: root},
			Settings:  store,
			Supported: NewSupportedVersions(5),
			Router:    router,
		})
		require.NoError(t, e.Load(context.Background()))
		return e
	}
	old, cur := newEngine(), newEngine()
	defer cur.Shutdown()

	playing := make(chan struct{})
	resume := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cur.Speak(context.Background(), turnLeft200(), PlayerFunc(func(context.Context, []string) error {
			close(playing)
			<-resume
			return nil
		}))
		done <- err
	}()

	<-playing
	old.Shutdown()
	require.True(t, router.Snapshot().FocusHeld, "shutting down a sibling must not end the playing session")
	close(resume)
	require.NoError(t, <-done)

	require.Equal(t, 1, focus.requests)
	require.Equal(t, 1, focus.abandons)
	require.False(t, router.Snapshot().FocusHeld)
}

func TestEngineShutdownReleasesOwnSession(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "de", ConfigFile, fixtureRules)
	focus := &recordingFocus{}
	router := audio.NewRouter(audio.NewState(), focus, nil, nil)
	e := New(Options{
		PackID:    "de",
		Locator:   DirLocator{Root: root},
		Supported: NewSupportedVersions(5),
		Router:    router,
	})
	require.NoError(t, e.Load(context.Background()))

	playing := make(chan struct{})
	resume := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Speak(context.Background(), turnLeft200(), PlayerFunc(func(context.Context, []string) error {
			close(playing)
			<-resume
			return nil
		}))
	}()

	<-playing
	e.Shutdown()
	require.False(t, router.Snapshot().FocusHeld)
	close(resume)
	<-done
	require.Equal(t, 1, focus.abandons, "deferred release after shutdown is a no-op")
}

func TestEngineAudioStream(t *testing.T) {
	store := settings.NewStore(settings.ModeCar, settings.KilometersAndMeters)
	store.SetAudioStream(settings.ModeCar, settings.StreamVoiceCall)
	e := New(Options{PackID: "x", Settings: store})
	require.Equal(t, settings.StreamVoiceCall, e.AudioStream())

	e.UpdateAudioStream(settings.StreamNotification)
	require.Equal(t, settings.StreamNotification, e.AudioStream())
}

func TestCommandBuilder(t *testing.T) {
	e := New(Options{PackID: "x"})
	cmds := e.NewCommandBuilder().
		PrepareTurn(RightSlight, 400).
		Then().
		TurnIn(LeftKeep, 50).
		GoAheadFor(1200).
		RoundaboutIn(300, 2).
		Commands()

	want := []Command{
		Cmd("prepare_turn", Symbol("right_sl"), 400),
		Cmd("then"),
		Cmd("turn", Symbol("left_keep"), 50),
		Cmd("go_ahead", 1200),
		Cmd("roundabout", 300, 2),
	}
	if diff := cmp.Diff(want, cmds); diff != "" {
		t.Errorf("Commands() mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, e.NewCommandBuilder().Turn(Left).Resolve(context.Background()))
}

func TestEngineMeasureFact(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "en", ConfigFile, versionRules("5")+`
resolve(S, R) :-
  command_seq(S),
  command(0, /distance),
  measure("mi-f"),
  R = fn:list("feet").
`)
	store := settings.NewStore(settings.ModeCar, settings.MilesAndFeet)
	e := newTestEngine(t, root, "en", store)
	defer e.Shutdown()
	require.NoError(t, e.Load(context.Background()))

	require.Equal(t, []string{"feet"}, e.Resolve(context.Background(), []Command{Cmd("distance", 90)}))

	require.Len(t, e.rb.Facts(measurePredicate), 1)
}
