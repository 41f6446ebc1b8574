package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"navvoice/internal/mangle"

	"github.com/stretchr/testify/require"
)

// blockingStore never answers until the context ends.
type blockingStore struct{}

func (blockingStore) Loaded() bool { return true }

func (blockingStore) Query(ctx context.Context, _ mangle.Goal) (mangle.Binding, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

type failingStore struct{}

func (failingStore) Loaded() bool { return true }

func (failingStore) Query(context.Context, mangle.Goal) (mangle.Binding, bool, error) {
	return nil, false, errors.New("evaluation exploded")
}

func TestResolverEmptyInput(t *testing.T) {
	r := NewResolver(blockingStore{}, time.Second, nil)
	r.SetCertified(true)

	res := r.ResolveDetailed(context.Background(), nil)
	require.Equal(t, DegradedEmptyInput, res.Degraded)
	require.NotNil(t, res.Files)
	require.Empty(t, res.Files)
}

func TestResolverUncertifiedReturnsImmediately(t *testing.T) {
	r := NewResolver(blockingStore{}, time.Hour, nil)

	start := time.Now()
	res := r.ResolveDetailed(context.Background(), turnLeft200())
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, DegradedNotCertified, res.Degraded)
	require.Empty(t, res.Files)
}

func TestResolverTimeoutDegrades(t *testing.T) {
	r := NewResolver(blockingStore{}, 20*time.Millisecond, nil)
	r.SetCertified(true)

	res := r.ResolveDetailed(context.Background(), turnLeft200())
	require.Equal(t, DegradedTimeout, res.Degraded)
	require.Empty(t, res.Files)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestResolverCallerDeadlineWins(t *testing.T) {
	r := NewResolver(blockingStore{}, time.Hour, nil)
	r.SetCertified(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Empty(t, r.Resolve(ctx, turnLeft200()))
}

func TestResolverQueryError(t *testing.T) {
	r := NewResolver(failingStore{}, time.Second, nil)
	r.SetCertified(true)

	res := r.ResolveDetailed(context.Background(), turnLeft200())
	require.Equal(t, DegradedQueryError, res.Degraded)
	require.Empty(t, res.Files)
}

func TestResolverAgainstRuleBase(t *testing.T) {
	rb := mangle.NewRuleBase(mangle.DefaultConfig(), nil)
	require.NoError(t, rb.Load(fixtureRules, []mangle.Fact{{Predicate: "app_mode", Args: []any{"/car"}}}))

	r := NewResolver(rb, time.Second, nil)
	r.SetCertified(true)
	ctx := context.Background()

	require.Equal(t, []string{"turn_left", "200_meters"}, r.Resolve(ctx, turnLeft200()))
	require.Equal(t, []string{"arrived", "delay_250"}, r.Resolve(ctx, []Command{Cmd("arrive")}))

	res := r.ResolveDetailed(ctx, []Command{Cmd("make_ut")})
	require.Equal(t, DegradedNoSolution, res.Degraded)
	require.Empty(t, res.Files)

	rb.Clear()
	res = r.ResolveDetailed(ctx, turnLeft200())
	require.Equal(t, DegradedNotCertified, res.Degraded)
}
