package radio

import "context"

// awaitConnect runs a blocking platform connect in a goroutine so the caller
// can give up when ctx is done. A result that arrives after the caller gave
// up is handed to discard, which must release whatever dial opened.
func awaitConnect[T any](ctx context.Context, dial func() (T, error), discard func(T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	// Unbuffered: a send only completes while the caller is still waiting.
	ch := make(chan result)
	abandoned := make(chan struct{})
	go func() {
		v, err := dial()
		select {
		case ch <- result{v, err}:
		case <-abandoned:
			discard(v, err)
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
