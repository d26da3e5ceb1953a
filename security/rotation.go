package security

import "time"

// KeyRotationWindow bounds when a key version may encrypt. Zero bounds are
// open. Decryption ignores the window so values sealed by a retired key
// stay readable.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	started := w.NotBefore.IsZero() || !at.Before(w.NotBefore)
	expired := !w.NotAfter.IsZero() && at.After(w.NotAfter)
	return started && !expired
}
