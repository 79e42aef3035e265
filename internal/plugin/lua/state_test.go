package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T, opts ...StateOption) *State {
	t.Helper()
	state, err := NewState(opts...)
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	t.Cleanup(func() { _ = state.Close() })
	return state
}

func TestState_DoString(t *testing.T) {
	state := newTestState(t)

	if err := state.DoString(context.Background(), `x = 1 + 1`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if v, ok := state.GetGlobal("x").(glua.LNumber); !ok || v != 2 {
		t.Errorf("x = %v, want 2", state.GetGlobal("x"))
	}

	if err := state.DoString(context.Background(), `invalid lua code !!!`); err == nil {
		t.Error("DoString() with a syntax error should fail")
	}
}

func TestState_DoFile(t *testing.T) {
	state := newTestState(t)
	path := filepath.Join(t.TempDir(), "script.lua")
	if err := os.WriteFile(path, []byte(`answer = string.rep("a", 3)`), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := state.DoFile(context.Background(), path); err != nil {
		t.Fatalf("DoFile() error = %v", err)
	}
	if got := state.GetGlobal("answer").String(); got != "aaa" {
		t.Errorf("answer = %q, want %q", got, "aaa")
	}
}

func TestState_Timeout(t *testing.T) {
	state := newTestState(t, WithExecutionTimeout(50*time.Millisecond))

	err := state.DoString(context.Background(), `while true do end`)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Errorf("DoString() error = %v, want ErrExecutionTimeout", err)
	}

	// The state stays usable.
	if err := state.DoString(context.Background(), `y = 1`); err != nil {
		t.Errorf("DoString() after timeout error = %v", err)
	}
}

func TestState_Cancel(t *testing.T) {
	state := newTestState(t, WithExecutionTimeout(0))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := state.DoString(ctx, `while true do end`)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DoString() error = %v, want context.Canceled", err)
	}
}

func TestState_Call(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()
	if err := state.DoString(ctx, `
		function add(a, b) return a + b, "ok" end
		function nothing() end
		notfn = 3
	`); err != nil {
		t.Fatal(err)
	}

	results, err := state.Call(ctx, "add", glua.LNumber(2), glua.LNumber(3))
	if err != nil {
		t.Fatalf("Call(add) error = %v", err)
	}
	if len(results) != 2 || results[0] != glua.LNumber(5) || results[1].String() != "ok" {
		t.Errorf("Call(add) = %v", results)
	}

	results, err = state.Call(ctx, "nothing")
	if err != nil || results == nil || len(results) != 0 {
		t.Errorf("Call(nothing) = %v, %v, want empty slice", results, err)
	}

	for _, name := range []string{"missing", "notfn"} {
		if _, err := state.Call(ctx, name); !errors.Is(err, ErrNotFunction) {
			t.Errorf("Call(%s) error = %v, want ErrNotFunction", name, err)
		}
	}
}

func TestState_Print(t *testing.T) {
	var lines []string
	state := newTestState(t, WithPrint(func(line string) { lines = append(lines, line) }))

	if err := state.DoString(context.Background(), `print("a", 1, true) print()`); err != nil {
		t.Fatal(err)
	}
	if want := []string{"a\t1\ttrue", ""}; !reflect.DeepEqual(lines, want) {
		t.Errorf("printed %q, want %q", lines, want)
	}
}

func TestState_Closed(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatal(err)
	}
	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !state.IsClosed() {
		t.Error("IsClosed() = false")
	}
	if err := state.DoString(context.Background(), `x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() error = %v, want ErrStateClosed", err)
	}
	if err := state.With(func(*glua.LState) error { return nil }); !errors.Is(err, ErrStateClosed) {
		t.Errorf("With() error = %v, want ErrStateClosed", err)
	}
	if state.GetGlobal("x") != glua.LNil {
		t.Error("GetGlobal() on a closed state should be nil")
	}
}

func TestSandbox_Install(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "io", "os", "debug"} {
		if v := state.GetGlobal(name); v != glua.LNil {
			t.Errorf("global %s = %v, want nil", name, v)
		}
	}

	if err := state.DoString(ctx, `local s = require("string") x = s.upper("a")`); err != nil {
		t.Errorf("require(string) error = %v", err)
	}
	err := state.DoString(ctx, `require("os")`)
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("require(os) error = %v, want not available", err)
	}
}

func TestSandbox_Preload(t *testing.T) {
	state := newTestState(t)

	err := state.With(func(L *glua.LState) error {
		mod := L.NewTable()
		L.SetField(mod, "name", glua.LString("demo"))
		state.Sandbox().Preload("demo", mod)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := state.DoString(context.Background(), `got = require("demo").name`); err != nil {
		t.Fatalf("require(demo) error = %v", err)
	}
	if got := state.GetGlobal("got").String(); got != "demo" {
		t.Errorf("got = %q", got)
	}
	if want := []string{"demo", "math", "string", "table"}; !reflect.DeepEqual(state.Sandbox().Modules(), want) {
		t.Errorf("Modules() = %v, want %v", state.Sandbox().Modules(), want)
	}
}
