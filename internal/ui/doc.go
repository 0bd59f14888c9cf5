// Package ui implements the pairsync monitor, a Bubble Tea view of the
// session snapshot, the reconciled status and one job's progress.
//
// The model never writes session state itself. It reads Snapshot, Status
// and progress State on every tick and sends user actions back through the
// session machine (Reconnect, Logout) or the reconciler (Refresh). Long
// actions run as commands with a timeout; a spinner shows while one is in
// flight and the result lands in the footer.
//
// Keys:
//
//	r   refresh status now (also resumes a paused poll loop)
//	c   reconnect the session
//	x   log out
//	y   copy the QR payload to the clipboard
//	p   clear the watched job's progress
//	t   cycle theme (saved to prefs)
//	h/? help
//	q   quit
//
// The bottom of the screen tails the engine's JSON log through logtail.
package ui
