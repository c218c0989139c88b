package circuitbreaker

import "context"

// CallTyped is a type-safe generic wrapper around CircuitBreaker.Call.
//
// Usage:
//
//	resp, err := circuitbreaker.CallTyped(cb, ctx, func(ctx context.Context) (*llm.ChatResponse, error) {
//	    return provider.Completion(ctx, req)
//	})
func CallTyped[T any](cb CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Call(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
