package utils

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// RunBounded calls f(ctx, i) for every i in [0, n) with at most limit calls in flight and waits for
// all of them. A limit ≤ 0 uses ParallelFactor. Every failure is returned; the first one cancels
// the context passed to the calls that have not started yet.
func RunBounded(ctx context.Context, n, limit int, f func(ctx context.Context, i int) error) error {
	if limit <= 0 {
		limit = ParallelFactor
	}
	if n == 1 || limit == 1 {
		var err error
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				return multierr.Combine(err, ctx.Err())
			}
			err = multierr.Combine(err, f(ctx, i))
		}
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = fmt.Errorf("got panic running item %d in parallel: %v", i, thePanic)
				}
				errs[i] = err
			}()
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			return f(groupCtx, i)
		})
	}
	if group.Wait() == nil {
		return nil
	}
	var combined error
	for _, err := range errs {
		if err != nil && (combined == nil || !errors.Is(err, context.Canceled)) {
			combined = multierr.Combine(combined, err)
		}
	}
	return combined
}
