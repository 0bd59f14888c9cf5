package progress

// Handle is a view of one (category, owner) job.
type Handle struct {
	tracker *Tracker
	key     key
}

// Category returns the job category.
func (h *Handle) Category() string { return h.key.category }

// Owner returns the owner identifier.
func (h *Handle) Owner() string { return h.key.owner }

// State returns a copy of the job state.
func (h *Handle) State() State {
	return h.tracker.state(h.key)
}

// Progress returns the latest tick, or false before the first one.
func (h *Handle) Progress() (Progress, bool) {
	s := h.State()
	if s.Progress == nil {
		return Progress{}, false
	}
	return *s.Progress, true
}

// Completed reports whether the job finished.
func (h *Handle) Completed() bool {
	return h.State().Completed
}

// Err returns the backend's error message verbatim, or "".
func (h *Handle) Err() string {
	return h.State().Err
}

// Reset clears progress, completion and error so the handle can follow the
// next job.
func (h *Handle) Reset() {
	h.tracker.reset(h.key)
}

// Changes returns a latest-value channel of State primed with the current
// value.
func (h *Handle) Changes() (<-chan State, func()) {
	return h.tracker.subscribe(h.key)
}
