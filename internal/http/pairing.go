package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/bus"
	"github.com/nextlevelbuilder/pairgate/internal/session"
	"github.com/nextlevelbuilder/pairgate/internal/throttle"
	"github.com/nextlevelbuilder/pairgate/pkg/protocol"
)

type generateRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// handleGenerate issues a pairing code. Checks run in the order
// validate, throttle, cache, begin; a cache hit never touches the session
// slot.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid JSON body", err)
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if !session.ValidPhone(phone) {
		s.writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest,
			"invalid phone number, expected international format such as +243123456789", nil)
		return
	}

	ctx := r.Context()
	if wait := s.opts.Throttle.RetryAfter(s.clock.Now()); wait > 0 {
		s.writeThrottled(w, wait)
		return
	}

	if code, ok := s.opts.Cache.Get(ctx, phone); ok {
		resp := apiResponse{Success: true, Code: code, Message: "existing code retrieved", PhoneNumber: phone}
		if ttl, ok := s.opts.Cache.RemainingTTL(ctx, phone); ok {
			resp.ExpiresIn = ceilSeconds(ttl)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.opts.Pairing.BeginPairing(ctx, phone)
	if err != nil {
		s.writePairingError(w, err)
		return
	}
	if res.AlreadyRegistered {
		writeJSON(w, http.StatusOK, apiResponse{
			Error:       "this number is already registered",
			ErrorCode:   protocol.ErrAlreadyRegistered,
			PhoneNumber: phone,
		})
		return
	}

	if s.opts.Bus != nil {
		s.opts.Bus.Broadcast(bus.Event{
			Name:    protocol.EventCodeIssued,
			Payload: map[string]any{"sessionId": res.SessionID, "expiresIn": ceilSeconds(res.ExpiresIn)},
		})
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success:     true,
		Code:        res.Code,
		Message:     "code generated",
		PhoneNumber: phone,
		ExpiresIn:   ceilSeconds(res.ExpiresIn),
	})
}

func (s *Server) writePairingError(w http.ResponseWriter, err error) {
	var throttled *session.ThrottledError
	switch {
	case errors.Is(err, session.ErrInvalidPhone):
		s.writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error(), nil)
	case errors.As(err, &throttled):
		s.writeThrottled(w, throttled.RetryAfter)
	case errors.Is(err, session.ErrBusy):
		s.writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy,
			"a connection is already in progress, please wait", nil)
	case errors.Is(err, session.ErrPairingTimeout):
		s.writeError(w, http.StatusInternalServerError, protocol.ErrPairingTimeout,
			"timed out waiting for the pairing code", err)
	default:
		s.writeError(w, http.StatusInternalServerError, protocol.ErrUpstream,
			"failed to generate the pairing code", err)
	}
}

func (s *Server) writeThrottled(w http.ResponseWriter, wait time.Duration) {
	secs := throttle.Seconds(wait)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, apiResponse{
		Error:      fmt.Sprintf("please wait %d seconds before requesting a new code", secs),
		ErrorCode:  protocol.ErrRateLimited,
		RetryAfter: secs,
	})
}

// handleLookup returns the cached code for a number, if any.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.PathValue("phoneNumber"))
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	ctx := r.Context()
	code, ok := s.opts.Cache.Get(ctx, phone)
	if !ok {
		writeJSON(w, http.StatusOK, apiResponse{
			Error:     "no code available for this number",
			ErrorCode: protocol.ErrNotFound,
		})
		return
	}
	ttl := 0
	if d, ok := s.opts.Cache.RemainingTTL(ctx, phone); ok {
		ttl = ceilSeconds(d)
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Code: code, TTL: &ttl})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
