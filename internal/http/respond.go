package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// apiResponse is the envelope of the pairing routes and of every error.
type apiResponse struct {
	Success     bool   `json:"success"`
	Code        string `json:"code,omitempty"` // pairing code on success
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Details     string `json:"details,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	ExpiresIn   int    `json:"expiresIn,omitempty"`
	RetryAfter  int    `json:"retryAfter,omitempty"`
	TTL         *int   `json:"ttl,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response failed", "error", err)
	}
}

// writeError writes {success:false, error, details?}. details carries err
// only in development.
func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string, err error) {
	body := apiResponse{Error: msg, ErrorCode: code}
	if err != nil && s.opts.Development {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprint(p.v) }
