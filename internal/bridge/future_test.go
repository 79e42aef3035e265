package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_FirstCompletionWins(t *testing.T) {
	f := NewFuture[int]()
	if !f.Resolve(1) {
		t.Fatal("first Resolve() = false")
	}
	if f.Resolve(2) {
		t.Error("second Resolve() = true")
	}
	if f.Reject(errors.New("late")) {
		t.Error("Reject() after Resolve() = true")
	}

	v, err, ok := f.Result()
	if !ok || err != nil || v != 1 {
		t.Errorf("Result() = %d, %v, %v", v, err, ok)
	}
}

func TestFuture_ResultPending(t *testing.T) {
	f := NewFuture[string]()
	if _, _, ok := f.Result(); ok {
		t.Error("Result() ok on pending future")
	}
}

func TestFuture_RejectNil(t *testing.T) {
	f := NewFuture[int]()
	f.Reject(nil)
	if _, err, _ := f.Result(); err == nil {
		t.Error("Reject(nil) produced no error")
	}
}

func TestFuture_WaitContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestFuture_ResolveFromOtherGoroutine(t *testing.T) {
	f := NewFuture[string]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Resolve("ok")
	}()

	v, err := f.Wait(waitCtx(t))
	if err != nil || v != "ok" {
		t.Errorf("Wait() = %q, %v", v, err)
	}
}

func TestFuture_OnDoneRunsOnExecutor(t *testing.T) {
	host := newTestHost(t)
	f := NewFuture[int]()

	got := make(chan bool, 1)
	f.OnDone(host, func(v int, err error) {
		got <- host.inHost.Load() && v == 7 && err == nil
	})
	f.Resolve(7)

	select {
	case ok := <-got:
		if !ok {
			t.Error("continuation did not run on the executor with the result")
		}
	case <-time.After(time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestAll(t *testing.T) {
	a, b := NewFuture[int](), NewFuture[int]()
	all := All(a, b)
	b.Resolve(2)
	a.Resolve(1)

	vals, err := all.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 2 {
		t.Errorf("All() = %v, want [1 2]", vals)
	}
}

func TestAll_JoinsErrors(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	all := All(Failed[int](e1), Resolved(3), Failed[int](e2))

	_, err := all.Wait(waitCtx(t))
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("All() error = %v, want both errors", err)
	}
}

func TestAll_Empty(t *testing.T) {
	vals, err := All[int]().Wait(waitCtx(t))
	if err != nil || len(vals) != 0 {
		t.Errorf("All() = %v, %v", vals, err)
	}
}
