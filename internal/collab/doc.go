// Package collab keeps editor views in sync with a collaboration service.
//
// A Session is created per editor and owns everything the bridge needs: a
// bridge.Runtime for its background tasks, the registry mapping remote
// identities to host objects, the presence renderer and, once connected,
// the remote client. There is no package state.
//
// # Threading
//
// Session methods, and the Workspace and Buffer accessors, must be called
// on the host thread. Commands return a *bridge.Future immediately; the
// remote calls run in runtime tasks and every host mutation is posted back
// with bridge.OnHost. Close is the exception: it blocks, so it must be
// called from another goroutine.
//
// # Tasks
//
// Each attached buffer runs two tasks, buffer-ctl:<ws>/<buf> applying
// inbound deltas and buffer-send:<ws>/<buf> sending outbound ones one at a
// time. Each workspace runs cursor-ctl:<ws>, and a connected session runs
// collab-logger forwarding the service log. Teardown cancels the tasks and
// waits for them to return before touching the view or the registry.
//
// # Echo suppression
//
// An inbound delta is applied with the view armed through the
// IgnoreNextChange setting. The host notifies change listeners
// synchronously, so the outbound listener sees the armed flag on exactly
// that notification, disarms it and drops the change.
package collab
