package lifecycle

import (
	"context"
	"sync"
)

type raced[T any] struct {
	index int
	value T
	err   error
}

// firstOf runs every source concurrently and returns whatever the first one to
// return produced, together with its index. The context handed to the sources
// is cancelled as soon as one returns, and firstOf itself returns only after
// every source has returned, so losers hold no resources afterwards.
func firstOf[T any](ctx context.Context, sources ...func(context.Context) (T, error)) (T, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raced[T], len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src func(context.Context) (T, error)) {
			defer wg.Done()
			v, err := src(ctx)
			results <- raced[T]{index: i, value: v, err: err}
		}(i, src)
	}

	first := <-results
	cancel()
	wg.Wait()
	return first.value, first.index, first.err
}
