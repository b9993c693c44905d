package gcloud

import (
	"context"
	"time"

	sequel "github.com/dan-elliott-appneta/sequel"
	"github.com/dan-elliott-appneta/sequel/retry"
)

// fetchCached is the composition every fetcher shares: consult the cache,
// and on a miss run fn through the retry executor, storing the result
// with the given TTL. Concurrent identical queries are collapsed into one
// in-flight call. A failed or cancelled call never populates the cache.
func fetchCached[T any](ctx context.Context, c *Client, key sequel.Key, ttl time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.cache.Get(key.String()); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		// A differently-typed value under this key means the key scheme
		// collided; drop it and refetch.
		c.cache.Invalidate(key.String())
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		result, err := retry.Do(ctx, c.retry, name, fn)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key.String(), result, ttl)
		return result, nil
	})

	// Waiters sharing an in-flight call detach on their own context
	// rather than the initiating caller's. A detached waiter's result is
	// simply discarded; the flight itself stores to the cache.
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
