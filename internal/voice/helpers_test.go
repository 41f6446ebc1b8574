package voice

import (
	"os"
	"path/filepath"
	"testing"

	"navvoice/internal/settings"
)

const fixtureRules = "version(5).\n" + fixtureBody

const fixtureBody = `
language(/de).

resolve(S, R) :-
  command_seq(S),
  command_count(2),
  command(0, /turn), command_arg(0, 0, /left),
  command(1, /distance), command_arg(1, 0, 200),
  R = fn:list("turn_left", "200_meters").

resolve(S, R) :-
  command_seq(S),
  command_count(1),
  command(0, /go_ahead),
  app_mode(/car),
  R = fn:list("drive_on").

resolve(S, R) :-
  command_seq(S),
  command_count(1),
  command(0, /go_ahead),
  app_mode(/pedestrian),
  R = fn:list("walk_on").

resolve(S, R) :-
  command_seq(S),
  command_count(1),
  command(0, /arrive),
  R = fn:list(/arrived, "delay_250", 7).
`

// unboundedRules derive facts without end, so evaluation only stops at the fact limit.
const unboundedRules = `
n(0).
n(M) :- n(N), M = fn:plus(N, 1).
`

func writePack(t *testing.T, root, id, file, content string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if file != "" {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func versionRules(v string) string {
	return "version(" + v + ").\n"
}

func turnLeft200() []Command {
	return []Command{Cmd("turn", Symbol("left")), Cmd("distance", 200)}
}

func newTestEngine(t *testing.T, root, id string, store *settings.Store, supported ...int) *Engine {
	t.Helper()
	if len(supported) == 0 {
		supported = []int{4, 5, 6}
	}
	var src ModeSource
	if store != nil {
		src = store
	}
	return New(Options{
		PackID:    id,
		Locator:   DirLocator{Root: root},
		Settings:  src,
		Supported: NewSupportedVersions(supported...),
	})
}
