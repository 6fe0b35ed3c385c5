package sim

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest slice of agents worth handing to a goroutine.
const minChunk = 512

// forEachAgent calls fn(i) for i in [0, n) using up to workers goroutines.
// fn must only write to state owned by index i. Results never depend on the
// worker count because every draw comes from a per-agent stream.
func forEachAgent(ctx context.Context, n, workers int, fn func(i int) error) error {
	if workers <= 1 || n <= minChunk {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}
	chunk := max((n+workers-1)/workers, minChunk)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i&0xff == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
