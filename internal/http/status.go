package http

import (
	"net/http"
	"runtime"
	"time"
)

type botInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type botStatusResponse struct {
	Connected  bool     `json:"connected"`
	Connecting bool     `json:"connecting"`
	BotInfo    *botInfo `json:"botInfo"`
	Phase      string   `json:"phase"`
	Uptime     float64  `json:"uptime"`
	Timestamp  string   `json:"timestamp"`
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Pairing.Status()
	resp := botStatusResponse{
		Connected:  st.Connected,
		Connecting: st.Connecting,
		Phase:      string(st.Phase),
		Uptime:     s.uptime().Seconds(),
		Timestamp:  s.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if st.Connected && st.Identity != nil {
		name := st.Identity.Name
		if name == "" {
			name = s.opts.BotName
		}
		resp.BotInfo = &botInfo{ID: st.Identity.ID, Name: name}
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status       string  `json:"status"`
	Timestamp    string  `json:"timestamp"`
	Uptime       float64 `json:"uptime"`
	BotConnected bool    `json:"botConnected"`
	IsConnecting bool    `json:"isConnecting"`
	Environment  string  `json:"environment"`
	Version      string  `json:"version,omitempty"`
	GoVersion    string  `json:"goVersion"`
	CacheSize    int     `json:"cacheSize"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Pairing.Status()
	env := s.opts.Environment
	if env == "" {
		env = "development"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "OK",
		Timestamp:    s.clock.Now().UTC().Format(time.RFC3339Nano),
		Uptime:       s.uptime().Seconds(),
		BotConnected: st.Connected,
		IsConnecting: st.Connecting,
		Environment:  env,
		Version:      s.opts.Version,
		GoVersion:    runtime.Version(),
		CacheSize:    s.opts.Cache.Len(r.Context()),
	})
}
