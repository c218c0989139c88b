package retry

import "context"

// ExecuteTyped is a type-safe generic wrapper around Executor.Execute.
//
// Example:
//
//	resp, err := retry.ExecuteTyped(ctx, exec, "chat_completion", func(ctx context.Context) (*llm.ChatResponse, error) {
//		return provider.Completion(ctx, req)
//	})
func ExecuteTyped[T any](ctx context.Context, e *Executor, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, label, func(ctx context.Context) error {
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
