// Package api provides the Lua API modules exposed to collaboration scripts.
//
// Scripts reach every module through the aggregate ks module:
//
//	local ks = require("ks")
//	ks.collab.connect("loopback", "alice")
//	ks.collab.join("notes")
//	ks.collab.attach("notes", "todo.txt")
//	ks.collab.insert("notes", "todo.txt", 0, "- ship it\n")
//
// # Modules
//
// Each module implements Module: it registers a _ks_<name> table, and
// Registry.InjectAll moves every table into ks and preloads ks through a
// Preloader, normally the sandbox of a plugin/lua State.
//
//   - ks.collab: session commands (connect, join, attach, edit, select, ...)
//
// # Errors
//
// Module functions raise Lua errors for failed commands, so scripts can
// use pcall:
//
//	local ok, err = pcall(ks.collab.attach, "notes", "missing.txt")
package api
