package http

import (
	"net/http"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/pairgate/pkg/protocol"
)

// handleBotQR renders a PNG QR code of a wa.me link that opens a chat with
// the connected bot, prefilled with the menu command.
func (s *Server) handleBotQR(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Pairing.Status()
	if !st.Connected || st.Identity == nil {
		s.writeError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, "bot is not connected", nil)
		return
	}
	link := chatLink(st.Identity.ID, s.opts.CommandPrefix+"menu")
	if link == "" {
		s.writeError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, "bot identity has no phone number", nil)
		return
	}
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "failed to render QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

// chatLink turns a JID such as "243900000001:12@s.whatsapp.net" into a
// wa.me link.
func chatLink(jid, text string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	if user == "" {
		return ""
	}
	return "https://wa.me/" + user + "?text=" + url.QueryEscape(text)
}
