package whatsapp

import (
	"fmt"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/pairgate/internal/session"
)

// translate maps a whatsmeow event onto a lifecycle event. ok is false for
// events the coordinator does not track.
func translate(evt any) (ev session.Event, ok bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return session.Event{Kind: session.EventOpen}, true
	case *events.LoggedOut:
		return closed(true, fmt.Sprintf("logged out (%v)", v.Reason)), true
	case *events.StreamReplaced:
		return closed(true, "stream replaced by another client"), true
	case *events.TemporaryBan:
		return closed(true, fmt.Sprintf("temporary ban: %v", v.Code)), true
	case *events.ClientOutdated:
		return closed(true, "client outdated"), true
	case *events.ConnectFailure:
		return closed(v.Reason.IsLoggedOut(), fmt.Sprintf("connect failure %v: %s", v.Reason, v.Message)), true
	case *events.PairError:
		reason := "pairing rejected"
		if v.Error != nil {
			reason = "pairing rejected: " + v.Error.Error()
		}
		return closed(false, reason), true
	case *events.Disconnected:
		return closed(false, "disconnected"), true
	}
	return session.Event{}, false
}

func closed(terminal bool, reason string) session.Event {
	return session.Event{Kind: session.EventClosed, Terminal: terminal, Reason: reason}
}

// inbound extracts the text of a chat message. ok is false for messages
// without text (media, reactions, protocol messages).
func inbound(v *events.Message) (session.InboundMessage, bool) {
	if v == nil || v.Message == nil {
		return session.InboundMessage{}, false
	}
	text := v.Message.GetConversation()
	if text == "" {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	msg := session.InboundMessage{
		ID:         string(v.Info.ID),
		ChatID:     v.Info.Chat.String(),
		SenderName: v.Info.PushName,
		FromMe:     v.Info.IsFromMe,
		Text:       text,
		Timestamp:  v.Info.Timestamp,
	}
	return msg, text != ""
}
