package cmd

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"syscall"
)

// formatGatewayError turns a client-side failure into a message for the
// terminal. Raw transport errors are logged, not printed.
func formatGatewayError(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "gateway is not running. Start it first:  pairgate serve"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "gateway did not answer in time. The pairing attempt may still be running; check `pairgate status`."
	}
	lower := strings.ToLower(err.Error())
	if containsAny(lower, "no such host", "server misbehaving") {
		return "gateway address could not be resolved. Check --url or gateway.host."
	}
	if containsAny(lower, "decode", "invalid character") {
		return "unexpected response from the gateway. Is --url pointing at pairgate?"
	}
	slog.Debug("unclassified gateway error", "error", err)
	return "request to the gateway failed: " + err.Error()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
