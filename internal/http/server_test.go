package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/bus"
	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/clock"
	"github.com/nextlevelbuilder/pairgate/internal/gateway"
	"github.com/nextlevelbuilder/pairgate/internal/session"
	"github.com/nextlevelbuilder/pairgate/internal/session/sessiontest"
	"github.com/nextlevelbuilder/pairgate/internal/throttle"
)

const testPhone = "+243900000000"

type fixture struct {
	clock *clock.Fake
	cache *cache.MemoryStore
	conn  *sessiontest.Connector
	coord *session.Coordinator
	srv   *Server
	h     http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		clock: clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		conn:  sessiontest.NewConnector("ABCD-1234"),
	}
	f.cache = cache.NewMemoryStore(f.clock)
	guard := throttle.New(30 * time.Second)
	f.coord = session.NewCoordinator(session.Options{
		Connector: f.conn,
		Cache:     f.cache,
		Throttle:  guard,
		Clock:     f.clock,
	})
	opts.Pairing = f.coord
	opts.Cache = f.cache
	opts.Throttle = guard
	opts.Clock = f.clock
	f.srv = New(opts)
	f.h = f.srv.Handler()
	t.Cleanup(func() {
		f.coord.Shutdown(context.Background())
		f.srv.Close(context.Background())
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) generate(phone string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "/generate-pairing-code", `{"phoneNumber":"`+phone+`"}`)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestGenerateIssuesCode(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.generate(testPhone)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode[apiResponse](t, rec)
	if !body.Success || body.Code != "ABCD-1234" || body.ExpiresIn != 300 || body.PhoneNumber != testPhone {
		t.Errorf("body = %+v", body)
	}
}

func TestGenerateRejectsMalformed(t *testing.T) {
	f := newFixture(t, Options{})
	for _, body := range []string{`{"phoneNumber":"0812345678"}`, `{"phoneNumber":""}`, `{}`, `not json`} {
		rec := f.do(http.MethodPost, "/generate-pairing-code", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
		if decode[apiResponse](t, rec).Success {
			t.Errorf("%s: success = true", body)
		}
	}
	if f.conn.Connects() != 0 {
		t.Error("malformed request reached the connector")
	}
}

func TestGenerateThrottled(t *testing.T) {
	f := newFixture(t, Options{})
	if rec := f.generate(testPhone); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	f.clock.Advance(10 * time.Second)

	rec := f.generate("+243900000001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decode[apiResponse](t, rec)
	if body.RetryAfter != 20 || !strings.Contains(body.Error, "20 seconds") {
		t.Errorf("body = %+v", body)
	}
	if got := rec.Header().Get("Retry-After"); got != "20" {
		t.Errorf("Retry-After = %q", got)
	}
}

func TestGenerateReturnsCachedCode(t *testing.T) {
	f := newFixture(t, Options{})
	f.generate(testPhone)
	f.clock.Advance(31 * time.Second)

	rec := f.generate(testPhone)
	body := decode[apiResponse](t, rec)
	if rec.Code != http.StatusOK || !body.Success || body.Code != "ABCD-1234" || body.Message != "existing code retrieved" {
		t.Fatalf("status %d body %+v", rec.Code, body)
	}
	if body.ExpiresIn != 269 {
		t.Errorf("expiresIn = %d, want 269", body.ExpiresIn)
	}
	if f.conn.Connects() != 1 {
		t.Errorf("connects = %d, cache hit must not open a session", f.conn.Connects())
	}
}

func TestGenerateBusyWhileInFlight(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.Block = make(chan struct{})
	f.conn.Requested = make(chan struct{}, 1)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- f.generate(testPhone) }()
	<-f.conn.Requested
	f.clock.Advance(31 * time.Second)

	rec := f.generate("+243900000001")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	close(f.conn.Block)
	if got := <-first; got.Code != http.StatusOK || decode[apiResponse](t, got).Code != "ABCD-1234" {
		t.Errorf("original attempt disturbed: %d %s", got.Code, got.Body)
	}
}

func TestGenerateAlreadyRegistered(t *testing.T) {
	f := newFixture(t, Options{})
	f.conn.Registered = true

	rec := f.generate(testPhone)
	body := decode[apiResponse](t, rec)
	if rec.Code != http.StatusOK || body.Success || !strings.Contains(body.Error, "already registered") {
		t.Errorf("status %d body %+v", rec.Code, body)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	for _, tc := range []struct {
		name        string
		development bool
		details     bool
	}{
		{"development shows details", true, true},
		{"other environments hide details", false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{Development: tc.development})
			f.conn.CodeErr = errors.New("socket hang up")

			rec := f.generate(testPhone)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			body := decode[apiResponse](t, rec)
			if body.Success || (body.Details != "") != tc.details {
				t.Errorf("body = %+v", body)
			}
			if f.coord.Status().Busy {
				t.Error("slot still held after failure")
			}
		})
	}
}

func TestLookup(t *testing.T) {
	f := newFixture(t, Options{})

	miss := decode[apiResponse](t, f.do(http.MethodGet, "/pairing-code/243900000000", ""))
	if miss.Success || miss.Error == "" {
		t.Errorf("miss = %+v", miss)
	}

	f.generate(testPhone)
	f.clock.Advance(100 * time.Second)
	for _, path := range []string{"/pairing-code/%2B243900000000", "/pairing-code/243900000000"} {
		rec := f.do(http.MethodGet, path, "")
		hit := decode[apiResponse](t, rec)
		if !hit.Success || hit.Code != "ABCD-1234" || hit.TTL == nil || *hit.TTL != 200 {
			t.Errorf("%s: %+v", path, hit)
		}
	}

	f.clock.Advance(200 * time.Second)
	if decode[apiResponse](t, f.do(http.MethodGet, "/pairing-code/243900000000", "")).Success {
		t.Error("expired code still returned")
	}
}

func TestBotStatusAndHealth(t *testing.T) {
	f := newFixture(t, Options{Environment: "staging", Version: "1.2.3"})

	st := decode[botStatusResponse](t, f.do(http.MethodGet, "/bot-status", ""))
	if st.Connected || st.Connecting || st.BotInfo != nil {
		t.Errorf("idle status = %+v", st)
	}

	f.generate(testPhone)
	f.conn.Last().EmitOpen()

	st = decode[botStatusResponse](t, f.do(http.MethodGet, "/bot-status", ""))
	if !st.Connected || st.BotInfo == nil || st.BotInfo.Name != "Test Bot" {
		t.Errorf("open status = %+v", st)
	}
	if _, err := time.Parse(time.RFC3339Nano, st.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", st.Timestamp, err)
	}

	health := decode[healthResponse](t, f.do(http.MethodGet, "/health", ""))
	if health.Status != "OK" || health.Environment != "staging" || health.CacheSize != 1 || !health.BotConnected {
		t.Errorf("health = %+v", health)
	}
}

func TestBotQR(t *testing.T) {
	f := newFixture(t, Options{})
	if rec := f.do(http.MethodGet, "/bot-qr", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("offline status = %d", rec.Code)
	}

	f.generate(testPhone)
	f.conn.Last().EmitOpen()

	rec := f.do(http.MethodGet, "/bot-qr", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Errorf("not a PNG: %v", err)
	}
}

func TestChatLink(t *testing.T) {
	if got := chatLink("243900000001:12@s.whatsapp.net", "!menu"); got != "https://wa.me/243900000001?text=%21menu" {
		t.Errorf("chatLink = %q", got)
	}
	if got := chatLink("@s.whatsapp.net", "x"); got != "" {
		t.Errorf("chatLink without user = %q", got)
	}
}

func TestNotFoundAndStatic(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound || decode[apiResponse](t, rec).Error != "route not found" {
		t.Errorf("GET /nope: %d %s", rec.Code, rec.Body)
	}
	if rec := f.do(http.MethodDelete, "/health", ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE /health: %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/generate-pairing-code") {
		t.Errorf("index: %d", rec.Code)
	}
}

func TestRecovererHidesPanic(t *testing.T) {
	f := newFixture(t, Options{})
	h := f.srv.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	body := decode[apiResponse](t, rec)
	if rec.Code != http.StatusInternalServerError || body.Details != "" || body.Success {
		t.Errorf("status %d body %+v", rec.Code, body)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := gateway.NewClientLimiter(60, 1)
	defer rl.Stop()
	f := newFixture(t, Options{Limiter: rl})

	if rec := f.do(http.MethodGet, "/bot-status", ""); rec.Code != http.StatusOK {
		t.Fatalf("first: %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/bot-status", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second: %d, want 429", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health limited: %d", rec.Code)
	}
}

func TestEventStreamDeliversBusEvents(t *testing.T) {
	b := bus.New()
	f := newFixture(t, Options{Bus: b})
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	// Wait for the subscription before publishing.
	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "ready") {
		t.Fatalf("first chunk %q", buf[:n])
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				b.Broadcast(bus.Event{Name: "session.state", Payload: map[string]string{"phase": "open"}})
			}
		}
	}()

	var got strings.Builder
	for !strings.Contains(got.String(), `"phase":"open"`) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got.String(), "event: session.state") || !strings.Contains(got.String(), `"phase":"open"`) {
		t.Errorf("stream = %q", got.String())
	}
}

func TestEventStreamOutlivesWriteTimeout(t *testing.T) {
	b := bus.New()
	f := newFixture(t, Options{Bus: b})
	ts := httptest.NewUnstartedServer(f.h)
	ts.Config.WriteTimeout = 300 * time.Millisecond
	ts.Start()
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	if n, _ := resp.Body.Read(buf); !strings.Contains(string(buf[:n]), "ready") {
		t.Fatalf("first chunk %q", buf[:n])
	}

	// Publish only once the server's write deadline has passed.
	time.Sleep(3 * ts.Config.WriteTimeout)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				b.Broadcast(bus.Event{Name: "session.state", Payload: map[string]string{"phase": "closed"}})
			}
		}
	}()

	var got strings.Builder
	var readErr error
	for !strings.Contains(got.String(), `"phase":"closed"`) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			readErr = err
			break
		}
	}
	if !strings.Contains(got.String(), `"phase":"closed"`) {
		t.Errorf("stream ended after write timeout: %v, got %q", readErr, got.String())
	}
}

func TestIndexCarriesReferralLink(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/?ref=KzI0MzkwMDAwMDAwMA==", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := rec.Body.String()
	for _, want := range []string{`id="refBtn"`, `id="refCopy"`, `"?ref="`, `get("ref")`} {
		if !strings.Contains(page, want) {
			t.Errorf("index missing %s", want)
		}
	}
}
