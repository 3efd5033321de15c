package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/clock"
	"github.com/nextlevelbuilder/pairgate/internal/heartbeat"
	"github.com/nextlevelbuilder/pairgate/internal/throttle"
)

// Options wires a Coordinator.
type Options struct {
	Connector Connector
	Cache     cache.Store
	Throttle  *throttle.Guard
	Clock     clock.Clock

	CodeTTL           time.Duration
	ConnectTimeout    time.Duration
	ReleaseDelay      time.Duration // negative releases at once on every closure
	KeepAliveInterval time.Duration // 0 disables the keep-alive probe

	// OnMessage receives inbound messages once the connection is open.
	OnMessage MessageHandler
	// OnStatus is called after every phase or slot change.
	OnStatus func(Status)
}

// Coordinator owns the single session slot. Several may coexist in one
// process; each has its own state and timers.
type Coordinator struct {
	opts    Options
	machine Machine
	clock   clock.Clock
	tracer  trace.Tracer

	mu         sync.Mutex
	state      State
	conn       Conn // pending during pairing, active once open
	watchdog   clock.Timer
	release    clock.Timer
	cancelWait context.CancelFunc
	keepAlive  *heartbeat.Service
	baseCtx    context.Context
	stopBase   context.CancelFunc

	status atomic.Pointer[Status]
}

// NewCoordinator returns an idle coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Throttle == nil {
		opts.Throttle = throttle.New(throttle.DefaultCooldown)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryStore(opts.Clock)
	}
	m := Machine{
		CodeTTL:        opts.CodeTTL,
		ConnectTimeout: opts.ConnectTimeout,
		ReleaseDelay:   opts.ReleaseDelay,
	}.withDefaults()
	opts.CodeTTL = m.CodeTTL

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:     opts,
		machine:  m,
		clock:    clock.Or(opts.Clock),
		tracer:   otel.Tracer("pairgate/session"),
		state:    State{Phase: PhaseIdle},
		baseCtx:  ctx,
		stopBase: cancel,
	}
	c.storeStatusLocked()
	return c
}

// BeginPairing starts a pairing attempt for phone and waits for the code.
// A registered account yields a result with AlreadyRegistered set and no code.
func (c *Coordinator) BeginPairing(ctx context.Context, phone string) (PairingResult, error) {
	ctx, span := c.tracer.Start(ctx, "session.BeginPairing")
	defer span.End()

	res, err := c.beginPairing(ctx, phone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("pairing.already_registered", res.AlreadyRegistered))
	return res, err
}

func (c *Coordinator) beginPairing(ctx context.Context, phone string) (PairingResult, error) {
	if !ValidPhone(phone) {
		return PairingResult{}, ErrInvalidPhone
	}
	now := c.clock.Now()

	c.mu.Lock()
	if c.state.SlotHeld {
		c.mu.Unlock()
		return PairingResult{}, ErrBusy
	}
	if ok, wait := c.opts.Throttle.TryAccept(now); !ok {
		c.mu.Unlock()
		return PairingResult{}, &ThrottledError{RetryAfter: wait}
	}
	sess := &PairingSession{
		ID:        uuid.NewString(),
		Phone:     phone,
		CreatedAt: now,
		ExpiresAt: now.Add(c.machine.CodeTTL),
	}
	// The attempt outlives the HTTP request that started it; only the
	// watchdog or a closure cancels the wait.
	waitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelWait = cancel
	deferred := c.stepLocked(Event{Kind: EventBegin, Session: sess, At: now})
	c.mu.Unlock()
	c.runDeferred(deferred)
	defer cancel()

	slog.Info("session: pairing started", "session", sess.ID, "phone", maskPhone(phone))

	digits := NormalizePhone(phone)
	conn, registered, err := c.opts.Connector.Connect(waitCtx, ConnectRequest{
		Phone:   digits,
		OnEvent: func(ev Event) { c.dispatch(sess.ID, ev) },
	})
	if err != nil {
		c.dispatch(sess.ID, Event{Kind: EventFailed, Err: err})
		return PairingResult{}, fmt.Errorf("connect: %w", err)
	}
	if !c.attach(sess.ID, conn) {
		conn.Close()
		return PairingResult{}, c.abortReason(sess.ID)
	}

	res := PairingResult{SessionID: sess.ID, Phone: phone}
	if registered {
		c.dispatch(sess.ID, Event{Kind: EventRegistered})
		slog.Info("session: account already registered, waiting for open", "session", sess.ID)
		res.AlreadyRegistered = true
		return res, nil
	}

	code, err := conn.RequestPairingCode(waitCtx, digits)
	if err != nil {
		if waitCtx.Err() != nil {
			return PairingResult{}, c.abortReason(sess.ID)
		}
		c.dispatch(sess.ID, Event{Kind: EventFailed, Err: err})
		return PairingResult{}, fmt.Errorf("request pairing code: %w", err)
	}

	next, applied := c.dispatch(sess.ID, Event{Kind: EventCodeIssued, Code: code})
	if !applied || next.Phase != PhaseAwaitingCode {
		return PairingResult{}, c.abortReason(sess.ID)
	}
	slog.Info("session: pairing code issued", "session", sess.ID, "phone", maskPhone(phone))
	res.Code = code
	res.ExpiresIn = c.machine.CodeTTL
	return res, nil
}

// HandleEvent feeds a connection update for sessionID into the state
// machine. Updates for a session that is no longer current are dropped.
func (c *Coordinator) HandleEvent(sessionID string, ev Event) {
	c.dispatch(sessionID, ev)
}

// dispatch applies ev if it belongs to the current session. It reports the
// resulting state and whether the phase or slot changed.
func (c *Coordinator) dispatch(sessionID string, ev Event) (State, bool) {
	c.mu.Lock()
	if c.state.Session == nil || c.state.Session.ID != sessionID {
		c.mu.Unlock()
		slog.Debug("session: dropped stale event", "event", ev.Kind, "session", sessionID)
		return State{}, false
	}
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}
	prev := c.state
	deferred := c.stepLocked(ev)
	next := c.state
	c.mu.Unlock()
	c.runDeferred(deferred)
	return next, prev.Phase != next.Phase || prev.SlotHeld != next.SlotHeld
}

// stepLocked runs Transition, applies timer and handle effects in place and
// returns the effects that perform I/O, to run once the lock is released.
func (c *Coordinator) stepLocked(ev Event) []func() {
	prev := c.state
	next, effects := c.machine.Transition(prev, ev)
	c.state = next
	sessionID := ""
	if next.Session != nil {
		sessionID = next.Session.ID
	}

	var deferred []func()
	for _, eff := range effects {
		switch eff.Kind {
		case EffectArmWatchdog:
			c.stopTimer(&c.watchdog)
			c.watchdog = c.clock.AfterFunc(eff.After, func() {
				slog.Warn("session.watchdog_fired", "session", sessionID)
				c.dispatch(sessionID, Event{Kind: EventWatchdog})
			})
		case EffectCancelWatchdog:
			c.stopTimer(&c.watchdog)
		case EffectScheduleRelease:
			c.stopTimer(&c.release)
			c.release = c.clock.AfterFunc(eff.After, func() {
				c.dispatch(sessionID, Event{Kind: EventReleaseDue})
			})
		case EffectCancelWait:
			if c.cancelWait != nil {
				c.cancelWait()
				c.cancelWait = nil
			}
		case EffectStoreCode:
			key, value, ttl := eff.Key, eff.Value, eff.TTL
			deferred = append(deferred, func() {
				c.opts.Cache.Put(c.baseCtx, key, value, ttl)
			})
		case EffectCloseConnection:
			if conn := c.conn; conn != nil {
				c.conn = nil
				deferred = append(deferred, conn.Close)
			}
		case EffectActivate:
			if ev.Conn != nil {
				c.conn = ev.Conn
			}
			if conn := c.conn; conn != nil {
				deferred = append(deferred, c.activate(conn)...)
			}
		case EffectDeactivate:
			if c.keepAlive != nil {
				c.keepAlive.Stop()
				c.keepAlive = nil
			}
		}
	}
	if prev.Phase != next.Phase || prev.SlotHeld != next.SlotHeld {
		slog.Info("session: state changed",
			"from", prev.Phase, "to", next.Phase, "event", ev.Kind,
			"busy", next.SlotHeld, "session", sessionID)
		st := c.storeStatusLocked()
		if c.opts.OnStatus != nil {
			deferred = append(deferred, func() { c.opts.OnStatus(st) })
		}
	}
	return deferred
}

// activate starts the keep-alive probe and returns the deferred step that
// routes inbound messages to the responder.
func (c *Coordinator) activate(conn Conn) []func() {
	if c.opts.KeepAliveInterval > 0 {
		c.keepAlive = heartbeat.NewService(heartbeat.Config{
			Name:     "session-keepalive",
			Interval: c.opts.KeepAliveInterval,
			Clock:    c.clock,
		}, func(context.Context) error {
			if conn.IsConnected() {
				return nil
			}
			slog.Warn("session: connection lost, reconnecting")
			return conn.Reconnect()
		})
		c.keepAlive.Start()
	}
	if c.opts.OnMessage == nil {
		return nil
	}
	handler := c.opts.OnMessage
	ctx := c.baseCtx
	return []func(){func() {
		conn.SetMessageHandler(func(msg InboundMessage) { handler(ctx, conn, msg) })
	}}
}

func (c *Coordinator) runDeferred(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (c *Coordinator) stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// attach records conn as the pending handle unless the session already
// ended (watchdog or closure while connecting).
func (c *Coordinator) attach(sessionID string, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Session == nil || c.state.Session.ID != sessionID || !c.state.Phase.Live() {
		return false
	}
	if c.conn == nil {
		c.conn = conn
	}
	return true
}

// abortReason maps how sessionID ended to a caller-facing error.
func (c *Coordinator) abortReason(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.Session
	switch {
	case s == nil || s.ID != sessionID:
		return ErrConnectionClosed
	case s.LastError == watchdogReason:
		return ErrPairingTimeout
	case s.LastError != "":
		return fmt.Errorf("%w: %s", ErrConnectionClosed, s.LastError)
	}
	return ErrConnectionClosed
}

// Status returns the latest snapshot without taking the coordinator lock.
func (c *Coordinator) Status() Status {
	return *c.status.Load()
}

func (c *Coordinator) storeStatusLocked() Status {
	st := Status{
		Phase:      c.state.Phase,
		Connected:  c.state.Phase == PhaseOpen,
		Connecting: c.state.Phase == PhaseConnecting || c.state.Phase == PhaseAwaitingCode,
		Busy:       c.state.SlotHeld,
		UpdatedAt:  c.clock.Now(),
	}
	if c.state.Identity != nil {
		id := *c.state.Identity
		st.Identity = &id
	}
	if c.state.Session != nil {
		s := *c.state.Session
		s.Code = ""
		st.Session = &s
	}
	c.status.Store(&st)
	return st
}

// Active returns the open connection, or nil.
func (c *Coordinator) Active() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != PhaseOpen {
		return nil
	}
	return c.conn
}

// CacheSize reports live cached codes.
func (c *Coordinator) CacheSize(ctx context.Context) int {
	return c.opts.Cache.Len(ctx)
}

// Shutdown closes the connection, stops every timer and frees the slot.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.stopTimer(&c.watchdog)
	c.stopTimer(&c.release)
	if c.cancelWait != nil {
		c.cancelWait()
		c.cancelWait = nil
	}
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
	conn := c.conn
	c.conn = nil
	if c.state.Phase.Live() {
		c.state = c.state.closed("gateway shutting down")
	}
	c.state.SlotHeld = false
	st := c.storeStatusLocked()
	c.mu.Unlock()

	if conn != nil {
		done := make(chan struct{})
		go func() {
			conn.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("session: connection close timed out during shutdown")
		}
	}
	c.stopBase()
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(st)
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 6 {
		return phone
	}
	return phone[:4] + "****" + phone[len(phone)-2:]
}
