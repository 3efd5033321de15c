// Package responder answers chat commands received on the active
// connection. Replies depend only on process metrics and the sender.
package responder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nextlevelbuilder/pairgate/internal/bus"
	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/clock"
	"github.com/nextlevelbuilder/pairgate/internal/session"
)

// Sender delivers a text reply to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Metrics exposes the process figures replies report.
type Metrics interface {
	Uptime() time.Duration
	CacheSize(ctx context.Context) int
}

// ProcessMetrics reports uptime since Started and the live code count.
type ProcessMetrics struct {
	Started time.Time
	Clock   clock.Clock
	Cache   cache.Store
}

func (m ProcessMetrics) Uptime() time.Duration {
	return clock.Or(m.Clock).Now().Sub(m.Started)
}

func (m ProcessMetrics) CacheSize(ctx context.Context) int {
	if m.Cache == nil {
		return 0
	}
	return m.Cache.Len(ctx)
}

// Config tunes the responder.
type Config struct {
	BotName  string
	Prefix   string // command marker, default "!"
	Language string // BCP 47 tag for number formatting, default "en"
	Retry    RetryConfig
	Clock    clock.Clock
	// SendTimeout bounds one reply including retries.
	SendTimeout time.Duration
}

// Responder maps inbound commands to replies.
type Responder struct {
	cfg     Config
	metrics Metrics
	clock   clock.Clock
	printer *message.Printer
	dedupe  *bus.DedupeCache
}

// New returns a responder reporting figures from metrics.
func New(cfg Config, metrics Metrics) *Responder {
	if cfg.BotName == "" {
		cfg.BotName = "Pairgate Bot"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		tag = language.English
	}
	return &Responder{
		cfg:     cfg,
		metrics: metrics,
		clock:   clock.Or(cfg.Clock),
		printer: message.NewPrinter(tag),
		dedupe:  bus.NewDedupeCache(10*time.Minute, 5000),
	}
}

// Reply computes the answer to msg. ok is false when msg needs no answer:
// sent by the bot itself, empty, or not a command.
func (r *Responder) Reply(ctx context.Context, msg session.InboundMessage) (string, bool) {
	if msg.FromMe {
		return "", false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" || !strings.HasPrefix(text, r.cfg.Prefix) {
		return "", false
	}
	word := strings.ToLower(strings.Fields(text)[0])
	name := strings.TrimPrefix(word, r.cfg.Prefix)

	rc := replyContext{
		botName: r.cfg.BotName,
		prefix:  r.cfg.Prefix,
		sender:  msg.SenderName,
		now:     r.clock.Now(),
		sentAt:  msg.Timestamp,
		printer: r.printer,
	}
	if r.metrics != nil {
		rc.uptime = r.metrics.Uptime()
		rc.cacheSize = r.metrics.CacheSize(ctx)
	}

	cmd, ok := commandIndex[name]
	if !ok {
		return unknownReply(rc, word), true
	}
	return cmd.reply(rc), true
}

// Handle answers msg through sender. Send failures are logged and dropped.
// It reports whether a reply was sent.
func (r *Responder) Handle(ctx context.Context, sender Sender, msg session.InboundMessage) bool {
	if sender == nil || r.dedupe.IsDuplicate(msg.ID) {
		return false
	}
	reply, ok := r.Reply(ctx, msg)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	attempts, err := ExecuteWithRetry(ctx, func() error {
		return sender.SendText(ctx, msg.ChatID, reply)
	}, r.cfg.Retry)
	if err != nil {
		slog.Warn("responder.send_failed", "chat", msg.ChatID, "attempts", attempts, "error", err)
		return false
	}
	slog.Debug("responder: replied", "chat", msg.ChatID, "attempts", attempts)
	return true
}

// HandleMessage adapts Handle to session.MessageHandler.
func (r *Responder) HandleMessage(ctx context.Context, conn session.Conn, msg session.InboundMessage) {
	r.Handle(ctx, conn, msg)
}
