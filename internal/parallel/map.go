package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map is a parallel mapping function, which runs mapFunc over an input
// sequence with at most limit calls in flight. Results are yielded in the
// order they complete, so the typical usage is
//
//	for result, err := range parallel.NewMap(4, f).Iter(ctx, input) {}
//
// Errors of the input sequence are passed through as results. A canceled
// context or a consumer leaving the loop stops the pending calls; Iter
// returns only after all of them ended.
type Map[E, D any] struct {
	limit   int
	mapFunc func(context.Context, E) (D, error)
}

func NewMap[E, D any](limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	return &Map[E, D]{
		limit:   max(limit, 1),
		mapFunc: mapFunc,
	}
}

func (m *Map[E, D]) Iter(ctx context.Context, seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		// +1 for the feeder
		g.SetLimit(m.limit + 1)

		mapped := make(chan result[D], m.limit)
		send := func(r result[D]) error {
			select {
			case mapped <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		g.Go(func() error {
			for entry, err := range seq {
				if err != nil {
					if err := send(result[D]{e: err}); err != nil {
						return err
					}
					continue
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				g.Go(func() error {
					d, err := m.mapFunc(gctx, entry)
					return send(result[D]{d: d, e: err})
				})
			}
			return nil
		})
		go func() {
			_ = g.Wait()
			close(mapped)
		}()

		defer func() {
			cancel()
			for range mapped {
			}
		}()

		for r := range mapped {
			if !yield(r.d, r.e) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			var zero D
			yield(zero, err)
		}
	}
}
