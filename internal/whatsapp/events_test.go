package whatsapp

import (
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/pairgate/internal/session"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		evt      any
		wantOK   bool
		wantKind session.EventKind
		terminal bool
	}{
		{"connected", &events.Connected{}, true, session.EventOpen, false},
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, true, session.EventClosed, true},
		{"stream replaced", &events.StreamReplaced{}, true, session.EventClosed, true},
		{"client outdated", &events.ClientOutdated{}, true, session.EventClosed, true},
		{"temporary ban", &events.TemporaryBan{Expire: time.Hour}, true, session.EventClosed, true},
		{"connect failure logged out", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, true, session.EventClosed, true},
		{"pair error", &events.PairError{Error: errors.New("bad")}, true, session.EventClosed, false},
		{"disconnected", &events.Disconnected{}, true, session.EventClosed, false},
		{"receipt ignored", &events.Receipt{}, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := translate(tt.evt)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", ev.Kind, tt.wantKind)
			}
			if ev.Terminal != tt.terminal {
				t.Errorf("terminal = %v, want %v", ev.Terminal, tt.terminal)
			}
			if ev.Kind == session.EventClosed && ev.Reason == "" {
				t.Error("closure without a reason")
			}
		})
	}
}

func TestInbound(t *testing.T) {
	chat := types.NewJID("243900000001", types.DefaultUserServer)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v := &events.Message{Message: &waE2E.Message{Conversation: proto.String("!ping")}}
	v.Info.ID = "ABC123"
	v.Info.Chat = chat
	v.Info.PushName = "Ada"
	v.Info.Timestamp = ts

	msg, ok := inbound(v)
	if !ok {
		t.Fatal("text message rejected")
	}
	if msg.Text != "!ping" || msg.ChatID != chat.String() || msg.SenderName != "Ada" || msg.ID != "ABC123" || !msg.Timestamp.Equal(ts) {
		t.Errorf("msg = %+v", msg)
	}

	ext := &events.Message{Message: &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("!menu")},
	}}
	if msg, ok := inbound(ext); !ok || msg.Text != "!menu" {
		t.Errorf("extended text = %+v, %v", msg, ok)
	}

	if _, ok := inbound(&events.Message{Message: &waE2E.Message{}}); ok {
		t.Error("message without text accepted")
	}
	if _, ok := inbound(&events.Message{}); ok {
		t.Error("nil message accepted")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != -4 || parseLevel("") != 4 || parseLevel("ERROR") != 8 {
		t.Error("unexpected level mapping")
	}
}
