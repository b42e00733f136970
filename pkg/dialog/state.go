package dialog

// ConnState is the lifecycle state of a Dialog's connection.
type ConnState string

const (
	ConnIdle       ConnState = "Idle"
	ConnConnecting ConnState = "Connecting"
	ConnOpen       ConnState = "Open"
	ConnClosed     ConnState = "Closed"
)

// IsActive reports whether Start is running.
func (s ConnState) IsActive() bool {
	return s == ConnConnecting || s == ConnOpen
}

// CanSend reports whether outbound envelopes are written in this state.
func (s ConnState) CanSend() bool {
	return s == ConnOpen
}

func (s ConnState) String() string {
	return string(s)
}
