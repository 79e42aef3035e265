// Package lua runs collaboration scripts in a sandboxed gopher-lua state.
//
// # State
//
//	state, err := lua.NewState(
//	    lua.WithExecutionTimeout(10*time.Second),
//	    lua.WithPrint(func(line string) { log.Info("%s", line) }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.DoFile(ctx, "peers.lua"); err != nil {
//	    return err
//	}
//
// Every execution runs under a context, so a cancelled or timed-out context
// stops the script at the next instruction.
//
// # Sandbox
//
// Only the base, string, table and math libraries are opened. dofile,
// loadfile, load and loadstring are removed, package.path is cleared, and
// require only returns the safe built-ins and modules added with
// Sandbox.Preload.
//
// # Values
//
// ToGoValue and ToLuaValue convert between Lua values and plain Go values.
package lua
