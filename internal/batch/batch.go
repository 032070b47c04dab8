// Package batch runs a collaborator call across many keys with best-effort
// semantics: each failure is logged and recorded, and the remaining keys are
// still attempted.
package batch

import (
	"context"
	"fmt"
	"log/slog"
)

// Result is the outcome of one call.
type Result[K comparable, T any] struct {
	Key   K
	Value T
	Err   error
}

// OK reports whether the call succeeded.
func (r Result[K, T]) OK() bool { return r.Err == nil }

// Outcome holds every result in key order.
type Outcome[K comparable, T any] struct {
	Results []Result[K, T]
}

// Succeeded returns the successful results.
func (o Outcome[K, T]) Succeeded() []Result[K, T] {
	var out []Result[K, T]
	for _, r := range o.Results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the failed results.
func (o Outcome[K, T]) Failed() []Result[K, T] {
	var out []Result[K, T]
	for _, r := range o.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Call runs fn once, turning a panic into an error so one misbehaving
// adapter cannot take the caller down.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("batch: collaborator panic: %v", p)
		}
	}()
	return fn(ctx)
}

// BestEffort calls fn for each key in order. Failures are logged at warn
// level under op and never stop the loop.
func BestEffort[K comparable, T any](
	ctx context.Context,
	logger *slog.Logger,
	op string,
	keys []K,
	fn func(context.Context, K) (T, error),
) Outcome[K, T] {
	out := Outcome[K, T]{Results: make([]Result[K, T], 0, len(keys))}
	for _, k := range keys {
		key := k
		v, err := Call(ctx, func(ctx context.Context) (T, error) { return fn(ctx, key) })
		if err != nil && logger != nil {
			logger.WarnContext(ctx, "best-effort call failed",
				slog.String("op", op),
				slog.Any("key", key),
				slog.String("error", err.Error()),
			)
		}
		out.Results = append(out.Results, Result[K, T]{Key: key, Value: v, Err: err})
	}
	return out
}
