package uow

import (
	"context"
	"errors"
	"testing"
)

type fakeTx struct{ committed bool }

type fakeRunner struct {
	commitErr error
	tx        *fakeTx
}

func (f *fakeRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx *fakeTx) error) error {
	f.tx = &fakeTx{}
	if err := fn(ctx, f.tx); err != nil {
		return err
	}
	if f.commitErr != nil {
		return f.commitErr
	}
	f.tx.committed = true
	return nil
}

func TestHooksRunAfterCommitInOrder(t *testing.T) {
	r := &fakeRunner{}
	var order []string
	err := Run(context.Background(), r, nil, func(ctx context.Context, tx *fakeTx, w *Work) error {
		w.AfterCommit(func(context.Context) {
			if !r.tx.committed {
				t.Error("hook ran before commit")
			}
			order = append(order, "first")
		})
		w.AfterCommit(func(context.Context) { order = append(order, "second") })
		order = append(order, "body")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "body" || order[1] != "first" || order[2] != "second" {
		t.Fatalf("order = %v", order)
	}
}

func TestHooksDroppedOnRollback(t *testing.T) {
	for name, r := range map[string]*fakeRunner{
		"body error":   {},
		"commit error": {commitErr: errors.New("commit failed")},
	} {
		t.Run(name, func(t *testing.T) {
			fired := false
			err := Run(context.Background(), r, nil, func(ctx context.Context, tx *fakeTx, w *Work) error {
				w.AfterCommit(func(context.Context) { fired = true })
				if r.commitErr == nil {
					return errors.New("validation failed")
				}
				return nil
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if fired {
				t.Fatal("hook fired although the transaction did not commit")
			}
		})
	}
}

func TestPanickingHookIsIsolated(t *testing.T) {
	var recovered error
	second := false
	err := Run(context.Background(), &fakeRunner{}, func(err error) { recovered = err },
		func(ctx context.Context, tx *fakeTx, w *Work) error {
			w.AfterCommit(func(context.Context) { panic("loyalty exploded") })
			w.AfterCommit(func(context.Context) { second = true })
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if recovered == nil || !second {
		t.Fatalf("recovered=%v second=%v", recovered, second)
	}
}

func TestHookContextSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var hookErr error
	err := Run(ctx, &fakeRunner{}, nil, func(ctx context.Context, tx *fakeTx, w *Work) error {
		w.AfterCommit(func(ctx context.Context) { hookErr = ctx.Err() })
		cancel()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if hookErr != nil {
		t.Fatalf("hook context cancelled: %v", hookErr)
	}
}
