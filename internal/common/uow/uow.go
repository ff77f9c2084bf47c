// Package uow runs a transaction and the side effects that must only happen
// once it has committed.
package uow

import (
	"context"
	"fmt"
)

// Runner is implemented by stores that can open a transaction of type T.
type Runner[T any] interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx T) error) error
}

// Work collects post-commit hooks for one transaction.
type Work struct {
	hooks []func(ctx context.Context)
}

// AfterCommit registers fn to run after the transaction commits. Hooks are
// dropped when the transaction rolls back.
func (w *Work) AfterCommit(fn func(ctx context.Context)) {
	w.hooks = append(w.hooks, fn)
}

// Run executes fn inside a transaction and fires the registered hooks in
// order once the commit succeeded. A panicking hook does not stop the others;
// onPanic (may be nil) receives the recovered value.
func Run[T any](ctx context.Context, r Runner[T], onPanic func(error), fn func(ctx context.Context, tx T, w *Work) error) error {
	w := &Work{}
	err := r.InTx(ctx, func(ctx context.Context, tx T) error {
		return fn(ctx, tx, w)
	})
	if err != nil {
		return err
	}
	// hooks outlive request cancellation: the state they react to is durable
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range w.hooks {
		fire(hookCtx, h, onPanic)
	}
	return nil
}

func fire(ctx context.Context, h func(context.Context), onPanic func(error)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(fmt.Errorf("post-commit hook panic: %v", r))
		}
	}()
	h(ctx)
}
