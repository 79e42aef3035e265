// Package host models the editor the collaboration layer plugs into.
//
// The editor is single-threaded: every Window and View method is expected
// to run on the Loop goroutine, and listeners fire synchronously on that
// goroutine while the triggering call is still on the stack. The one
// exception is View.ChangeID, which background goroutines read to capture
// a change token before handing work back to the loop.
//
// A change token names a view revision. View.Replace takes a token and
// re-resolves its range against every edit recorded since that revision,
// so a remote change computed against older text still lands where it was
// meant to.
package host
