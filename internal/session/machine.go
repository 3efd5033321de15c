package session

import "time"

// Default lifecycle timings.
const (
	DefaultCodeTTL        = 300 * time.Second
	DefaultConnectTimeout = 60 * time.Second
	DefaultReleaseDelay   = 5 * time.Second
	DefaultKeepAlive      = 30 * time.Second
)

const watchdogReason = "timed out waiting for the pairing to complete"

// Machine holds the timings Transition needs. It has no mutable state.
type Machine struct {
	CodeTTL        time.Duration
	ConnectTimeout time.Duration
	ReleaseDelay   time.Duration
}

func (m Machine) withDefaults() Machine {
	if m.CodeTTL <= 0 {
		m.CodeTTL = DefaultCodeTTL
	}
	if m.ConnectTimeout <= 0 {
		m.ConnectTimeout = DefaultConnectTimeout
	}
	switch {
	case m.ReleaseDelay == 0:
		m.ReleaseDelay = DefaultReleaseDelay
	case m.ReleaseDelay < 0:
		m.ReleaseDelay = 0
	}
	return m
}

// Transition computes the next state and the side effects to perform.
// Events that do not apply to the current phase leave the state unchanged;
// a closure always clears the watchdog.
func (m Machine) Transition(s State, ev Event) (State, []Effect) {
	switch ev.Kind {
	case EventBegin:
		if s.SlotHeld || ev.Session == nil {
			return s, nil
		}
		sess := *ev.Session
		sess.Phase = PhaseConnecting
		return State{Phase: PhaseConnecting, SlotHeld: true, Session: &sess},
			[]Effect{{Kind: EffectArmWatchdog, After: m.ConnectTimeout}}

	case EventRegistered:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		s.Session = s.cloneSession()
		s.Session.Registered = true
		return s, nil

	case EventCodeIssued:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		s.Phase = PhaseAwaitingCode
		s.Session = s.cloneSession()
		s.Session.Phase = PhaseAwaitingCode
		s.Session.Code = ev.Code
		// The code stays usable until the session expires; the watchdog
		// follows it so an unused code still frees the slot.
		remaining := s.Session.ExpiresAt.Sub(ev.At)
		if remaining <= 0 {
			remaining = m.CodeTTL
		}
		return s, []Effect{
			{Kind: EffectCancelWatchdog},
			{Kind: EffectStoreCode, Key: s.Session.Phone, Value: ev.Code, TTL: m.CodeTTL},
			{Kind: EffectArmWatchdog, After: remaining},
		}

	case EventOpen:
		switch s.Phase {
		case PhaseConnecting, PhaseAwaitingCode:
			s.Phase = PhaseOpen
			s.Session = s.cloneSession()
			s.Session.Phase = PhaseOpen
			s.Identity = ev.Identity
			return s, []Effect{{Kind: EffectCancelWatchdog}, {Kind: EffectActivate}}
		case PhaseOpen:
			if ev.Identity != nil {
				s.Identity = ev.Identity
			}
			return s, nil
		}
		return s, nil

	case EventClosed:
		if !s.Phase.Live() {
			return s, []Effect{{Kind: EffectCancelWatchdog}}
		}
		prev := s.Phase
		s = s.closed(reasonOr(ev.Reason, "connection closed"))
		effects := []Effect{{Kind: EffectCancelWatchdog}, {Kind: EffectCancelWait}}
		if prev == PhaseOpen {
			effects = append(effects, Effect{Kind: EffectDeactivate})
		}
		effects = append(effects, Effect{Kind: EffectCloseConnection})
		if ev.Terminal || prev != PhaseConnecting || m.ReleaseDelay == 0 {
			s.SlotHeld = false
			return s, effects
		}
		// Transient drop before any code: hold the slot briefly so a
		// flapping socket cannot be hammered with new attempts.
		return s, append(effects, Effect{Kind: EffectScheduleRelease, After: m.ReleaseDelay})

	case EventWatchdog:
		if s.Phase != PhaseConnecting && s.Phase != PhaseAwaitingCode {
			return s, nil
		}
		s = s.closed(watchdogReason)
		s.SlotHeld = false
		return s, []Effect{{Kind: EffectCancelWait}, {Kind: EffectCloseConnection}}

	case EventFailed:
		if s.Phase != PhaseConnecting {
			return s, nil
		}
		msg := "pairing failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s = s.closed(msg)
		s.SlotHeld = false
		return s, []Effect{{Kind: EffectCancelWatchdog}, {Kind: EffectCancelWait}, {Kind: EffectCloseConnection}}

	case EventReleaseDue:
		if s.Phase == PhaseClosed && s.SlotHeld {
			s.SlotHeld = false
		}
		return s, nil
	}
	return s, nil
}

func (s State) cloneSession() *PairingSession {
	if s.Session == nil {
		return &PairingSession{}
	}
	c := *s.Session
	return &c
}

func (s State) closed(reason string) State {
	s.Phase = PhaseClosed
	s.Identity = nil
	s.Session = s.cloneSession()
	s.Session.Phase = PhaseClosed
	s.Session.LastError = reason
	return s
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
