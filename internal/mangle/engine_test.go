package mangle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoaded(t *testing.T, payload string, runtime ...Fact) *RuleBase {
	t.Helper()
	rb := NewRuleBase(DefaultConfig(), nil)
	if err := rb.Load(payload, runtime); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return rb
}

func TestRuleBaseLoadAndQueryFact(t *testing.T) {
	rb := newLoaded(t, `version(5).`)
	require.True(t, rb.Loaded())

	binding, found, err := rb.Query(context.Background(), Goal{Predicate: "version", Args: []any{Var("V")}})
	require.NoError(t, err)
	require.True(t, found)
	v, ok := binding.Value("V")
	require.True(t, ok)
	require.Equal(t, int64(5), v)
}

func TestRuleBaseLoadRejectsCorruptPayload(t *testing.T) {
	cases := map[string]string{
		"unparsable": `this is not datalog(`,
		"unsafe":     "bar(1).\nfoo(X) :- bar(Y).",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rb := NewRuleBase(DefaultConfig(), nil)
			err := rb.Load(payload, nil)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
			require.False(t, rb.Loaded())
		})
	}
}

func TestRuleBaseQueryUnloaded(t *testing.T) {
	rb := NewRuleBase(DefaultConfig(), nil)
	_, _, err := rb.Query(context.Background(), Goal{Predicate: "version", Args: []any{Var("V")}})
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestRuleBaseRuntimeFactsDriveRules(t *testing.T) {
	payload := `
greeting("drive") :- app_mode(/car).
greeting("walk") :- app_mode(/pedestrian).
`
	rb := newLoaded(t, payload, Fact{Predicate: "app_mode", Args: []any{"/car"}})

	binding, found, err := rb.Query(context.Background(), Goal{Predicate: "greeting", Args: []any{Var("G")}})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "drive", binding["G"].Symbol)
}

func TestRuleBaseGivenFactsAreScopedToOneQuery(t *testing.T) {
	payload := `
Decl input(X).
echo(X) :- input(X).
`
	rb := newLoaded(t, payload)
	ctx := context.Background()

	binding, found, err := rb.Query(ctx, Goal{
		Predicate: "echo",
		Args:      []any{Var("X")},
		Given:     []Fact{{Predicate: "input", Args: []any{"hello"}}},
	})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", binding["X"].Symbol)

	_, found, err = rb.Query(ctx, Goal{Predicate: "echo", Args: []any{Var("X")}})
	require.NoError(t, err)
	require.False(t, found, "given facts must not persist")
	require.Empty(t, rb.Facts("input"))
}

func TestRuleBaseQueryPicksCanonicalFirstSolution(t *testing.T) {
	rb := newLoaded(t, `
color("red").
color("blue").
pair(1, 2).
pair(3, 3).
`)
	ctx := context.Background()

	binding, found, err := rb.Query(ctx, Goal{Predicate: "color", Args: []any{Var("C")}})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "blue", binding["C"].Symbol)

	binding, found, err = rb.Query(ctx, Goal{Predicate: "pair", Args: []any{Var("X"), Var("X")}})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), binding["X"].NumValue)

	_, found, err = rb.Query(ctx, Goal{Predicate: "pair", Args: []any{1, 3}})
	require.NoError(t, err)
	require.False(t, found)
}

func TestRuleBaseListResults(t *testing.T) {
	rb := newLoaded(t, `phrase(R) :- app_mode(/car), R = fn:list("turn_left", /beep).`,
		Fact{Predicate: "app_mode", Args: []any{"/car"}})

	binding, found, err := rb.Query(context.Background(), Goal{Predicate: "phrase", Args: []any{Var("R")}})
	require.NoError(t, err)
	require.True(t, found)

	elems, ok := ListElements(binding["R"])
	require.True(t, ok)
	require.Len(t, elems, 2)
	require.Equal(t, "turn_left", elems[0].Symbol)
	require.Equal(t, "/beep", elems[1].Symbol)

	v, _ := binding.Value("R")
	require.Equal(t, []any{"turn_left", "/beep"}, v)
}

func TestRuleBaseQueryHonoursContext(t *testing.T) {
	rb := newLoaded(t, `version(5).`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := rb.Query(ctx, Goal{Predicate: "version", Args: []any{Var("V")}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRuleBaseAssertRetract(t *testing.T) {
	rb := newLoaded(t, `flag(X) :- measure(X).`)

	require.NoError(t, rb.Assert(Fact{Predicate: "measure", Args: []any{"/km-m"}}))
	require.NoError(t, rb.Assert(Fact{Predicate: "measure", Args: []any{"/km-m"}}))
	require.Len(t, rb.Facts("measure"), 1, "duplicate assert should be skipped")

	require.Equal(t, 1, rb.Retract("measure"))
	require.Equal(t, 0, rb.Retract("measure"))
	require.Equal(t, 0, rb.Retract("never_asserted"))
}

func TestRuleBaseTransactionKeepsSingleModeFact(t *testing.T) {
	rb := newLoaded(t, `version(1).`, Fact{Predicate: "app_mode", Args: []any{"/car"}})

	for _, mode := range []string{"/pedestrian", "/bicycle", "/car"} {
		err := rb.Transaction().
			Retract("app_mode").
			Assert(Fact{Predicate: "app_mode", Args: []any{mode}}).
			Commit()
		require.NoError(t, err)

		facts := rb.Facts("app_mode")
		require.Len(t, facts, 1)
		require.Equal(t, mode, facts[0].Args[0])
	}
}

func TestRuleBaseTransactionReportsBadFact(t *testing.T) {
	rb := newLoaded(t, `version(1).`, Fact{Predicate: "app_mode", Args: []any{"/car"}})
	err := rb.Transaction().
		Retract("app_mode").
		Assert(Fact{Predicate: "app_mode", Args: []any{struct{}{}}}).
		Commit()
	require.Error(t, err)
	require.Len(t, rb.Facts("app_mode"), 1, "failed transaction must not apply")
}

func TestRuleBaseConcurrentModeChangesAndQueries(t *testing.T) {
	rb := newLoaded(t, `
current(M) :- app_mode(M).
`, Fact{Predicate: "app_mode", Args: []any{"/car"}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mode := "/car"
			if i%2 == 0 {
				mode = "/pedestrian"
			}
			for j := 0; j < 20; j++ {
				_ = rb.Transaction().Retract("app_mode").
					Assert(Fact{Predicate: "app_mode", Args: []any{mode}}).Commit()
			}
		}(i)
	}
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, found, err := rb.Query(ctx, Goal{Predicate: "current", Args: []any{Var("M")}})
				if err != nil {
					errs <- err
					return
				}
				if !found {
					errs <- errors.New("mode fact missing mid-transaction")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	require.Len(t, rb.Facts("app_mode"), 1)
}

func TestRuleBaseClear(t *testing.T) {
	rb := newLoaded(t, `version(5).`, Fact{Predicate: "app_mode", Args: []any{"/car"}})
	rb.Clear()

	require.False(t, rb.Loaded())
	require.Empty(t, rb.Facts("app_mode"))
	_, _, err := rb.Query(context.Background(), Goal{Predicate: "version", Args: []any{Var("V")}})
	require.ErrorIs(t, err, ErrNotLoaded)
	require.ErrorIs(t, rb.Assert(Fact{Predicate: "app_mode", Args: []any{"/car"}}), ErrNotLoaded)
}

func TestRuleBaseStats(t *testing.T) {
	rb := newLoaded(t, `
version(5).
current(M) :- app_mode(M).
`, Fact{Predicate: "app_mode", Args: []any{"/car"}}, Fact{Predicate: "measure", Args: []any{"/km-m"}})

	_, _, err := rb.Query(context.Background(), Goal{Predicate: "current", Args: []any{Var("M")}})
	require.NoError(t, err)

	s := rb.Stats()
	require.True(t, s.Loaded)
	require.Equal(t, 2, s.TotalFacts)
	require.Equal(t, 1, s.PredicateCounts["app_mode"])
	require.Equal(t, 1, s.Evaluations)
	require.GreaterOrEqual(t, s.Rules, 1)
}

func TestToConstant(t *testing.T) {
	c, err := ToConstant("/left")
	require.NoError(t, err)
	require.Equal(t, "/left", c.Symbol)

	c, err = ToConstant(true)
	require.NoError(t, err)
	require.Equal(t, "/true", c.Symbol)

	c, err = ToConstant([]string{"a", "b"})
	require.NoError(t, err)
	elems, ok := ListElements(c)
	require.True(t, ok)
	require.Len(t, elems, 2)

	_, err = ToConstant(map[int]int{})
	require.Error(t, err)
}

func TestFactString(t *testing.T) {
	f := Fact{Predicate: "command_arg", Args: []any{0, 1, "/left"}}
	s := f.String()
	require.True(t, strings.HasPrefix(s, "command_arg("), s)
	require.Contains(t, s, "/left")
	require.True(t, strings.HasSuffix(s, ")."), s)

	bad := Fact{Predicate: "p", Args: []any{struct{}{}}}
	require.Contains(t, bad.String(), "invalid")
}
