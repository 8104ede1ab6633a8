package service

// OnRunning returns a Listener that calls fn when the lifecycle enters StateRunning.
func OnRunning(fn func()) Listener {
	return func(_, to State, _ error) {
		if to == StateRunning {
			fn()
		}
	}
}

// OnLeaveRunning returns a Listener that calls fn when the lifecycle moves
// from StateRunning, or from StateStopping that followed it, into a
// terminal state. err carries the failure cause for StateFailed.
func OnLeaveRunning(fn func(to State, err error)) Listener {
	wasRunning := false
	return func(from, to State, err error) {
		if to == StateRunning {
			wasRunning = true
			return
		}
		if to.Terminal() && wasRunning && (from == StateRunning || from == StateStopping) {
			fn(to, err)
		}
	}
}
