package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"navvoice/internal/mangle"

	"go.uber.org/zap"
)

// Degraded names why a resolution came back empty.
type Degraded string

const (
	DegradedNone         Degraded = "none"
	DegradedNotCertified Degraded = "not-certified"
	DegradedNoSolution   Degraded = "no-solution"
	DegradedQueryError   Degraded = "query-error"
	DegradedTimeout      Degraded = "timeout"
	DegradedEmptyInput   Degraded = "empty-input"
)

// DefaultQueryTimeout applies when the caller's context has no deadline.
const DefaultQueryTimeout = 2 * time.Second

// Resolution is the detailed outcome of one resolve call.
type Resolution struct {
	Files    []string
	Degraded Degraded
	Err      error
	Duration time.Duration
}

// Store is the rule base surface the resolver needs.
type Store interface {
	Querier
	Loaded() bool
}

// Resolver turns command sequences into sample ids. It answers only once certified.
type Resolver struct {
	store     Store
	timeout   time.Duration
	logger    *zap.Logger
	certified atomic.Bool
}

// NewResolver creates an uncertified resolver over store.
func NewResolver(store Store, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, timeout: timeout, logger: logger}
}

// SetCertified opens or closes the resolver.
func (r *Resolver) SetCertified(ok bool) {
	r.certified.Store(ok)
}

// Certified reports whether the resolver answers queries.
func (r *Resolver) Certified() bool {
	return r.certified.Load()
}

// Resolve returns the sample ids for cmds, or an empty slice.
func (r *Resolver) Resolve(ctx context.Context, cmds []Command) []string {
	return r.ResolveDetailed(ctx, cmds).Files
}

// ResolveDetailed is Resolve with the degradation reason.
func (r *Resolver) ResolveDetailed(ctx context.Context, cmds []Command) Resolution {
	if len(cmds) == 0 {
		return Resolution{Files: []string{}, Degraded: DegradedEmptyInput}
	}
	if !r.certified.Load() || r.store == nil || !r.store.Loaded() {
		return Resolution{Files: []string{}, Degraded: DegradedNotCertified}
	}

	goal, err := goalFor(cmds)
	if err != nil {
		return r.degrade(cmds, DegradedQueryError, err, 0)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	binding, found, err := r.store.Query(ctx, goal)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return r.degrade(cmds, DegradedTimeout, err, elapsed)
	case errors.Is(err, mangle.ErrNotLoaded):
		return r.degrade(cmds, DegradedNotCertified, err, elapsed)
	case err != nil:
		return r.degrade(cmds, DegradedQueryError, err, elapsed)
	case !found:
		return r.degrade(cmds, DegradedNoSolution, nil, elapsed)
	}

	files := decodeFiles(binding["Result"])
	r.logger.Info("speak files",
		zap.Stringers("commands", cmds),
		zap.Strings("files", files),
		zap.Duration("elapsed", elapsed))
	return Resolution{Files: files, Degraded: DegradedNone, Duration: elapsed}
}

func (r *Resolver) degrade(cmds []Command, reason Degraded, err error, elapsed time.Duration) Resolution {
	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Stringers("commands", cmds),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn("degraded resolution", fields...)
	return Resolution{Files: []string{}, Degraded: reason, Err: err, Duration: elapsed}
}
