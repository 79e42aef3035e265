// Package bridge connects the host's single-threaded callback world to
// background work running on goroutines.
//
// A Runtime owns a scheduler goroutine that is the only owner of the task
// table. Host code schedules named tasks with Dispatch, which returns as soon
// as the scheduler has created the task, and requests cooperative
// cancellation with Cancel, whose future resolves only after the task body
// has returned. Background work that needs to touch host objects goes the
// other way through OnHost, which posts a closure to the host executor and
// returns a Future that either side may wait on.
//
// Typical use from the host thread:
//
//	rt := bridge.NewRuntime(loop, bridge.WithLogger(log))
//	_ = rt.Start()
//	task, err := rt.Dispatch("cursor-ctl:ws", func(ctx context.Context) error {
//		for {
//			ev, err := cursors.Recv(ctx)
//			if err != nil {
//				return err
//			}
//			bridge.OnHost(rt, func() (struct{}, error) { return struct{}{}, draw(ev) })
//		}
//	})
//	...
//	rt.Cancel("cursor-ctl:ws").OnDone(loop, func(struct{}, error) { cleanup() })
//
// A task that returns an error or panics is logged and ends alone; the
// scheduler and every other task keep running. A task that returns
// context.Canceled after being cancelled is considered to have stopped
// normally.
package bridge
