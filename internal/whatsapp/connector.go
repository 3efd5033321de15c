// Package whatsapp implements the session messaging capability on top of
// whatsmeow: multi-device connections, phone-number pairing codes and text
// replies.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/pairgate/internal/session"
)

const closeTimeout = 5 * time.Second

// Options configures the connector.
type Options struct {
	// DisplayName is shown on the phone for the linked device, in the
	// "Browser (OS)" form the network requires.
	DisplayName string
	// SendRPS caps outbound messages per second (default 1).
	SendRPS float64
}

// Connector opens whatsmeow clients backed by a shared credential container.
type Connector struct {
	container *sqlstore.Container
	log       waLog.Logger
	opts      Options
}

// NewConnector wraps an opened credential container.
func NewConnector(container *sqlstore.Container, log waLog.Logger, opts Options) *Connector {
	if opts.DisplayName == "" {
		opts.DisplayName = "Chrome (Linux)"
	}
	if opts.SendRPS <= 0 {
		opts.SendRPS = 1
	}
	store.SetOSInfo("Pairgate", [3]uint32{1, 0, 0})
	return &Connector{container: container, log: log, opts: opts}
}

// Connect opens a client for phone, reusing stored credentials when that
// account was linked before.
func (c *Connector) Connect(ctx context.Context, req session.ConnectRequest) (session.Conn, bool, error) {
	device, err := c.deviceFor(ctx, req.Phone)
	if err != nil {
		return nil, false, err
	}
	registered := device.ID != nil

	cli := whatsmeow.NewClient(device, c.log.Sub("Client"))
	cli.EnableAutoReconnect = false
	conn := &Conn{
		cli:         cli,
		onEvent:     req.OnEvent,
		displayName: c.opts.DisplayName,
		limiter:     rate.NewLimiter(rate.Limit(c.opts.SendRPS), 1),
	}
	cli.AddEventHandler(conn.handleEvent)

	if !registered {
		// The pairing handshake needs the QR channel open before connecting.
		qr, err := cli.GetQRChannel(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("open qr channel: %w", err)
		}
		conn.qr = qr
	}
	if err := cli.Connect(); err != nil {
		return nil, false, fmt.Errorf("connect websocket: %w", err)
	}
	slog.Info("whatsapp: connected", "registered", registered)
	return conn, registered, nil
}

func (c *Connector) deviceFor(ctx context.Context, phone string) (*store.Device, error) {
	devices, err := c.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devices {
		if d.ID != nil && d.ID.User == phone {
			return d, nil
		}
	}
	return c.container.NewDevice(), nil
}

// Conn is one whatsmeow client.
type Conn struct {
	cli         *whatsmeow.Client
	onEvent     func(session.Event)
	displayName string
	limiter     *rate.Limiter
	qr          <-chan whatsmeow.QRChannelItem

	mu      sync.Mutex
	handler func(session.InboundMessage)

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ session.Conn = (*Conn)(nil)

func (c *Conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if c.qr == nil {
		return "", errors.New("account already linked")
	}
	select {
	case item, ok := <-c.qr:
		if !ok {
			return "", errors.New("pairing channel closed")
		}
		if item.Event != "code" {
			return "", fmt.Errorf("pairing channel: %s", item.Event)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
	go drain(c.qr)

	code, err := c.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, c.displayName)
	if err != nil {
		return "", err
	}
	return code, nil
}

func drain(ch <-chan whatsmeow.QRChannelItem) {
	for range ch {
	}
}

func (c *Conn) SendText(ctx context.Context, chatID, text string) error {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("parse chat id: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = c.cli.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (c *Conn) SetMessageHandler(h func(session.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Conn) Identity() *session.Identity {
	if c.cli.Store == nil || c.cli.Store.ID == nil {
		return nil
	}
	return &session.Identity{ID: c.cli.Store.ID.String(), Name: c.cli.Store.PushName}
}

func (c *Conn) IsConnected() bool {
	return !c.closed.Load() && c.cli.IsConnected()
}

func (c *Conn) Reconnect() error {
	if c.closed.Load() {
		return errors.New("connection closed")
	}
	if c.cli.IsConnected() {
		return nil
	}
	return c.cli.Connect()
}

// Close disconnects once. Events arriving afterwards are dropped.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		done := make(chan struct{})
		go func() {
			c.cli.Disconnect()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(closeTimeout):
			slog.Warn("whatsapp: disconnect did not finish in time")
		}
	})
}

func (c *Conn) handleEvent(evt any) {
	if c.closed.Load() {
		return
	}
	switch v := evt.(type) {
	case *events.Message:
		msg, ok := inbound(v)
		if !ok {
			return
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			go h(msg)
		}
		return
	case *events.PairSuccess:
		slog.Info("whatsapp: pairing succeeded", "jid", v.ID.String(), "platform", v.Platform)
		return
	}

	ev, ok := translate(evt)
	if !ok || c.onEvent == nil {
		return
	}
	if ev.Kind == session.EventOpen {
		ev.Conn = c
		ev.Identity = c.Identity()
	}
	c.onEvent(ev)
}
