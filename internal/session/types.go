// Package session coordinates the single messaging connection the gateway
// owns: pairing-code issuance, the connection lifecycle and the watchdog that
// guarantees the slot is always released.
package session

import (
	"context"
	"time"
)

// Phase is the lifecycle position of the current session.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseAwaitingCode Phase = "awaiting_pairing_code"
	PhaseOpen         Phase = "open"
	PhaseClosed       Phase = "closed"
)

// Live reports whether the phase occupies the session slot on its own.
func (p Phase) Live() bool {
	return p == PhaseConnecting || p == PhaseAwaitingCode || p == PhaseOpen
}

// PairingSession is one pairing attempt and, if it succeeds, the connection
// that follows it.
type PairingSession struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	Phase      Phase     `json:"phase"`
	Code       string    `json:"code,omitempty"`
	Registered bool      `json:"registered,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	LastError  string    `json:"lastError,omitempty"`
}

// Identity is the account the connection is logged in as.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is the coordinator's whole mutable state as a value.
type State struct {
	Phase Phase
	// SlotHeld stays true through a delayed release after a transient close.
	SlotHeld bool
	Session  *PairingSession
	Identity *Identity
}

// EventKind enumerates inputs to Transition.
type EventKind int

const (
	EventBegin EventKind = iota + 1
	EventRegistered
	EventCodeIssued
	EventOpen
	EventClosed
	EventWatchdog
	EventFailed
	EventReleaseDue
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventRegistered:
		return "registered"
	case EventCodeIssued:
		return "code_issued"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	case EventWatchdog:
		return "watchdog"
	case EventFailed:
		return "failed"
	case EventReleaseDue:
		return "release_due"
	}
	return "unknown"
}

// Event is either a connection update reported by the messaging layer
// (EventOpen, EventClosed) or an internal step of the coordinator.
type Event struct {
	Kind EventKind
	At   time.Time

	Session  *PairingSession // EventBegin
	Code     string          // EventCodeIssued
	Conn     Conn            // EventOpen
	Identity *Identity       // EventOpen
	// Terminal marks a closure that must not be retried: logged out,
	// replaced by another client, banned.
	Terminal bool
	Reason   string
	Err      error // EventFailed
}

// EffectKind enumerates side effects requested by Transition.
type EffectKind int

const (
	EffectArmWatchdog EffectKind = iota + 1
	EffectCancelWatchdog
	EffectScheduleRelease
	EffectStoreCode
	EffectCloseConnection
	EffectCancelWait
	EffectActivate
	EffectDeactivate
)

// Effect is a side effect for the driver to perform.
type Effect struct {
	Kind  EffectKind
	After time.Duration // arm watchdog, schedule release
	Key   string        // store code
	Value string
	TTL   time.Duration
}

// InboundMessage is a chat message received on the active connection.
type InboundMessage struct {
	ID         string
	ChatID     string
	SenderName string
	FromMe     bool
	Text       string
	Timestamp  time.Time
}

// Conn is a live handle on the messaging network.
type Conn interface {
	// RequestPairingCode asks the network for a code the user types on
	// their phone. Blocks until issued or ctx ends.
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SendText(ctx context.Context, chatID, text string) error
	// SetMessageHandler routes inbound messages to h.
	SetMessageHandler(h func(InboundMessage))
	Identity() *Identity
	IsConnected() bool
	Reconnect() error
	Close()
}

// ConnectRequest describes the connection to open.
type ConnectRequest struct {
	// Phone in digits-only form; used to find persisted credentials.
	Phone string
	// OnEvent receives EventOpen and EventClosed in emission order.
	OnEvent func(Event)
}

// Connector opens connections. registered is true when persisted
// credentials already log the account in, so no pairing code is needed.
type Connector interface {
	Connect(ctx context.Context, req ConnectRequest) (conn Conn, registered bool, err error)
}

// MessageHandler consumes inbound messages of the active connection.
type MessageHandler func(ctx context.Context, conn Conn, msg InboundMessage)

// Status is a point-in-time snapshot for the facade.
type Status struct {
	Phase      Phase           `json:"phase"`
	Connected  bool            `json:"connected"`
	Connecting bool            `json:"connecting"`
	Busy       bool            `json:"busy"`
	Identity   *Identity       `json:"identity,omitempty"`
	Session    *PairingSession `json:"session,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// PairingResult is the outcome of a successful BeginPairing.
type PairingResult struct {
	SessionID         string
	Phone             string
	Code              string
	ExpiresIn         time.Duration
	AlreadyRegistered bool
}
