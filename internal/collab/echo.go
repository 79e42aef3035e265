package collab

import "github.com/dshills/keystorm-collab/internal/host"

// IgnoreNextChange is the view setting that marks the next change
// notification as the echo of a remote apply.
const IgnoreNextChange = "collab.ignore-next-change"

// Arm marks the next change notification of v as an echo. It must be
// called on the host thread immediately before applying a remote delta.
func Arm(v *host.View) {
	v.Settings().Set(IgnoreNextChange, true)
}

// Armed reports whether v is waiting to drop an echo.
func Armed(v *host.View) bool {
	return v.Settings().Bool(IgnoreNextChange)
}

// Consume is called by the change listener. It returns true, and disarms
// v, when the notification must not be sent.
func Consume(v *host.View) bool {
	if !Armed(v) {
		return false
	}
	Reset(v)
	return true
}

// Reset disarms v.
func Reset(v *host.View) {
	v.Settings().Erase(IgnoreNextChange)
}
