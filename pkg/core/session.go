package core

// Session is the device interface the engine drives. Implementations:
// Android (adb + UiAutomator2 server), Fake (tests).
// The step machine owns flow logic; the session just executes one
// primitive at a time. There is never more than one concurrent caller.
type Session interface {
	// Snapshot returns the current UI hierarchy as raw XML.
	Snapshot() (string, error)

	// Screenshot captures the screen as PNG and returns the saved path.
	Screenshot() (string, error)

	// ScreenSize returns the device resolution in pixels.
	ScreenSize() (width, height int, err error)

	// Dispatch performs exactly one attempt of a primitive action.
	// It never retries internally; retry policy belongs to the
	// dispatcher above it.
	Dispatch(action ResolvedAction) DispatchResult

	// HasSystemAlert reports whether a native system alert dialog is
	// showing. Used as the interruption detector's last-resort probe.
	HasSystemAlert() bool

	// RestartSession tears down and re-establishes the automation
	// session. Idempotent and safe to call between any two perception
	// calls.
	RestartSession() error

	// Close releases the session.
	Close() error
}
