package protocol

// Event names published on the lifecycle bus and streamed on GET /events.
const (
	EventSessionState = "session.state"
	EventCodeIssued   = "pairing.code_issued"
	EventHealth       = "health"
	EventShutdown     = "shutdown"

	// Config reload notifications (internal, not streamed).
	EventConfigReloaded = "config.reloaded"
)
