// Package batch runs one task per item concurrently and composes the
// outcome with one of two named strategies:
//
//   - FirstFailure: the first error cancels the remaining tasks and is
//     returned as is.
//   - CollectAll: every task runs to completion and all errors are combined
//     into a composite in item order.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/stave/internal/apperr"
)

// Option tunes a batch run.
type Option func(*settings)

type settings struct {
	limit int
}

// WithLimit caps the number of tasks running at once. n <= 0 means no cap.
func WithLimit(n int) Option {
	return func(s *settings) {
		s.limit = n
	}
}

func apply(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// FirstFailure runs fn for every item. The first non-nil error cancels ctx
// for the others and is returned; work already done by other tasks is not
// rolled back.
func FirstFailure[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) error, opts ...Option) error {
	s := apply(opts)
	g, gCtx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for _, item := range items {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			return fn(gCtx, item)
		})
	}
	return g.Wait()
}

// CollectAll runs fn for every item to completion. Results are returned in
// item order; the error is the apperr.Combine of every task's error in item
// order, or nil when all tasks succeeded.
func CollectAll[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Option) ([]R, error) {
	s := apply(opts)
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var sem chan struct{}
	if s.limit > 0 {
		sem = make(chan struct{}, s.limit)
	}

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i], errs[i] = fn(ctx, item)
		}()
	}
	wg.Wait()

	return results, apperr.Combine(errs...)
}
