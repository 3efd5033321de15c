package responder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/clock"
	"github.com/nextlevelbuilder/pairgate/internal/session"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends first
}

func (s *recordingSender) SendText(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("socket not ready")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *recordingSender) replies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResponder() (*Responder, *clock.Fake, *cache.MemoryStore) {
	c := clock.NewFake(start)
	store := cache.NewMemoryStore(c)
	r := New(Config{
		BotName: "Test Bot",
		Clock:   c,
		Retry:   RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, ProcessMetrics{Started: start, Clock: c, Cache: store})
	return r, c, store
}

func msg(id, text string) session.InboundMessage {
	return session.InboundMessage{ID: id, ChatID: "243900000001@s.whatsapp.net", SenderName: "Ada", Text: text, Timestamp: start}
}

func TestPingRepliesOnceWithPong(t *testing.T) {
	r, c, _ := newTestResponder()
	c.Advance(120 * time.Millisecond)
	s := &recordingSender{}

	if !r.Handle(context.Background(), s, msg("m1", "!ping")) {
		t.Fatal("Handle reported no reply")
	}
	got := s.replies()
	if len(got) != 1 {
		t.Fatalf("sent %d replies, want 1", len(got))
	}
	if !strings.Contains(got[0], "Pong") || !strings.Contains(got[0], "120 ms") {
		t.Errorf("reply = %q", got[0])
	}
}

func TestUnknownCommand(t *testing.T) {
	r, _, _ := newTestResponder()
	s := &recordingSender{}
	r.Handle(context.Background(), s, msg("m1", "!dance"))

	got := s.replies()
	if len(got) != 1 || !strings.Contains(got[0], "Unknown command") || !strings.Contains(got[0], "!dance") {
		t.Errorf("replies = %q", got)
	}
}

func TestIgnoredMessages(t *testing.T) {
	r, _, _ := newTestResponder()
	s := &recordingSender{}

	self := msg("m1", "!ping")
	self.FromMe = true
	cases := []session.InboundMessage{
		self,
		msg("m2", ""),
		msg("m3", "   "),
		msg("m4", "hello there"),
		msg("m5", "ping"),
	}
	for _, m := range cases {
		if r.Handle(context.Background(), s, m) {
			t.Errorf("Handle(%+v) replied", m)
		}
	}
	if n := len(s.replies()); n != 0 {
		t.Errorf("sent %d replies, want 0", n)
	}
}

func TestCommandsCaseInsensitive(t *testing.T) {
	r, _, _ := newTestResponder()
	for _, text := range []string{"!PING", "!Ping", " !ping ", "!ping now"} {
		reply, ok := r.Reply(context.Background(), msg("x", text))
		if !ok || !strings.Contains(reply, "Pong") {
			t.Errorf("Reply(%q) = %q, %v", text, reply, ok)
		}
	}
}

func TestEveryCommandReplies(t *testing.T) {
	r, c, store := newTestResponder()
	store.Put(context.Background(), "+243900000000", "ABCD-1234", time.Minute)
	c.Advance(90 * time.Minute)
	store.Put(context.Background(), "+33612345678", "EFGH-5678", time.Minute)

	want := map[string]string{
		"!menu":   "Hello Ada!",
		"!help":   "Linked devices",
		"!aide":   "Linked devices",
		"!info":   "Uptime: 1h 30m 0s",
		"!time":   "Time: 13:30:00",
		"!status": "Active pairing codes: 1",
	}
	for text, fragment := range want {
		reply, ok := r.Reply(context.Background(), msg("x", text))
		if !ok {
			t.Errorf("%s: no reply", text)
			continue
		}
		if !strings.Contains(reply, fragment) {
			t.Errorf("%s: reply %q missing %q", text, reply, fragment)
		}
	}
}

func TestMenuListsAllCommands(t *testing.T) {
	r, _, _ := newTestResponder()
	reply, _ := r.Reply(context.Background(), msg("x", "!menu"))
	for _, c := range commands {
		if !strings.Contains(reply, "!"+c.name) {
			t.Errorf("menu missing %s", c.name)
		}
	}
	if !strings.Contains(reply, "Test Bot") {
		t.Error("menu missing bot name")
	}
}

func TestCommandIndex(t *testing.T) {
	if len(commands) != 6 {
		t.Fatalf("commands = %d, want 6", len(commands))
	}
	for _, key := range []string{"menu", "ping", "help", "aide", "info", "time", "status"} {
		c, ok := commandIndex[key]
		if !ok {
			t.Errorf("%s not indexed", key)
			continue
		}
		if c.reply == nil {
			t.Errorf("%s has no reply", key)
		}
	}
	if commandIndex["aide"] != commandIndex["help"] {
		t.Error("aide does not alias help")
	}
}

func TestDuplicateMessageIgnored(t *testing.T) {
	r, _, _ := newTestResponder()
	s := &recordingSender{}
	r.Handle(context.Background(), s, msg("same", "!ping"))
	r.Handle(context.Background(), s, msg("same", "!ping"))
	if n := len(s.replies()); n != 1 {
		t.Errorf("sent %d replies for a redelivered message, want 1", n)
	}
}

func TestSendRetriedThenLogged(t *testing.T) {
	r, _, _ := newTestResponder()

	flaky := &recordingSender{fails: 1}
	if !r.Handle(context.Background(), flaky, msg("a", "!ping")) {
		t.Error("send not retried after a transient failure")
	}

	dead := &recordingSender{fails: 100}
	if r.Handle(context.Background(), dead, msg("b", "!ping")) {
		t.Error("Handle reported success for a send that always fails")
	}
}

func TestCustomPrefix(t *testing.T) {
	c := clock.NewFake(start)
	r := New(Config{Prefix: "/", Clock: c}, nil)
	if _, ok := r.Reply(context.Background(), msg("x", "!ping")); ok {
		t.Error("old prefix still matched")
	}
	reply, ok := r.Reply(context.Background(), msg("x", "/menu"))
	if !ok || !strings.Contains(reply, "/ping") {
		t.Errorf("Reply = %q, %v", reply, ok)
	}
}

func TestFormatUptime(t *testing.T) {
	cases := map[time.Duration]string{
		0:                            "0s",
		59 * time.Second:             "59s",
		61 * time.Second:             "1m 1s",
		2*time.Hour + 3*time.Minute:  "2h 3m 0s",
		26*time.Hour + 4*time.Second: "1d 2h 0m 4s",
		-time.Second:                 "0s",
	}
	for in, want := range cases {
		if got := formatUptime(in); got != want {
			t.Errorf("formatUptime(%v) = %q, want %q", in, got, want)
		}
	}
}
