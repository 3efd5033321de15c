// Package sessiontest provides an in-memory Connector for exercising the
// session coordinator and the HTTP facade without a messaging network.
package sessiontest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/session"
)

// Sent is one outbound text recorded by Conn.
type Sent struct {
	ChatID string
	Text   string
}

// Connector hands out Conns configured from its fields.
type Connector struct {
	mu sync.Mutex

	Code       string
	CodeErr    error
	ConnectErr error
	Registered bool
	// Block makes RequestPairingCode wait until it is closed or the
	// request context ends.
	Block chan struct{}
	// Requested receives once per RequestPairingCode call, if non-nil.
	Requested chan struct{}

	conns []*Conn
}

// NewConnector returns a connector that issues code immediately.
func NewConnector(code string) *Connector {
	return &Connector{Code: code}
}

func (f *Connector) Connect(_ context.Context, req session.ConnectRequest) (session.Conn, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return nil, false, f.ConnectErr
	}
	c := &Conn{
		connector: f,
		phone:     req.Phone,
		onEvent:   req.OnEvent,
		connected: true,
	}
	f.conns = append(f.conns, c)
	return c, f.Registered, nil
}

// Last returns the most recent Conn, or nil.
func (f *Connector) Last() *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// Connects counts Connect calls that succeeded.
func (f *Connector) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Conn is a scripted connection.
type Conn struct {
	connector *Connector
	phone     string
	onEvent   func(session.Event)

	mu         sync.Mutex
	connected  bool
	closed     int
	reconnects int
	handler    func(session.InboundMessage)
	sent       []Sent
	SendErr    error
}

func (c *Conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	f := c.connector
	f.mu.Lock()
	code, err, block, requested := f.Code, f.CodeErr, f.Block, f.Requested
	f.mu.Unlock()

	if requested != nil {
		requested <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", errors.New("no code scripted")
	}
	return code, nil
}

func (c *Conn) SendText(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, Sent{ChatID: chatID, Text: text})
	return nil
}

func (c *Conn) SetMessageHandler(h func(session.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Conn) Identity() *session.Identity {
	return &session.Identity{ID: c.phone + "@s.whatsapp.net", Name: "Test Bot"}
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	c.connected = true
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	c.connected = false
}

// Emit delivers a connection update as the network would.
func (c *Conn) Emit(ev session.Event) {
	c.onEvent(ev)
}

// EmitOpen reports the connection as open and logged in.
func (c *Conn) EmitOpen() {
	c.onEvent(session.Event{Kind: session.EventOpen, Conn: c, Identity: c.Identity()})
}

// EmitClosed reports a closure.
func (c *Conn) EmitClosed(terminal bool, reason string) {
	c.onEvent(session.Event{Kind: session.EventClosed, Terminal: terminal, Reason: reason})
}

// Deliver pushes an inbound message to the registered handler and reports
// whether one was registered.
func (c *Conn) Deliver(msg session.InboundMessage) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	h(msg)
	return true
}

// Drop simulates a socket dying without a close event.
func (c *Conn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func (c *Conn) HasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}
