package protocol

// Error codes carried in the "code" field of failed API responses.
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrRateLimited       = "RATE_LIMITED"
	ErrBusy              = "SESSION_BUSY"
	ErrAlreadyRegistered = "ALREADY_REGISTERED"
	ErrNotFound          = "NOT_FOUND"
	ErrUnavailable       = "UNAVAILABLE"
	ErrUpstream          = "UPSTREAM"
	ErrPairingTimeout    = "PAIRING_TIMEOUT"
	ErrInternal          = "INTERNAL"
)
