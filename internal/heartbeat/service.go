// Package heartbeat runs a probe at a fixed interval while a connection is
// open, so a socket that died without a close event gets reconnected.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/clock"
)

const defaultInterval = 30 * time.Second

// DefaultInterval returns the default probe interval (30s).
func DefaultInterval() time.Duration { return defaultInterval }

// Probe checks liveness and repairs it if it can.
type Probe func(ctx context.Context) error

// Config holds runtime config for the heartbeat service.
type Config struct {
	Name     string
	Interval time.Duration
	Clock    clock.Clock
}

// Service manages the periodic probe loop.
type Service struct {
	cfg   Config
	probe Probe

	mu       sync.Mutex
	running  bool
	timer    clock.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	ticks    int
	failures int // consecutive
}

// NewService creates a heartbeat service. It does nothing until Start.
func NewService(cfg Config, probe Probe) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Name == "" {
		cfg.Name = "heartbeat"
	}
	cfg.Clock = clock.Or(cfg.Clock)
	return &Service{cfg: cfg, probe: probe}
}

// Start schedules the first probe one interval from now.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.scheduleLocked()
	slog.Debug("heartbeat started", "name", s.cfg.Name, "interval", s.cfg.Interval)
}

// Stop halts the loop. A probe already running finishes but is not rescheduled.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	slog.Debug("heartbeat stopped", "name", s.cfg.Name, "ticks", s.ticks)
}

// IsRunning returns whether the loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Ticks returns how many probes have run.
func (s *Service) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func (s *Service) scheduleLocked() {
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.Interval, s.tick)
}

func (s *Service) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.ticks++
	s.mu.Unlock()

	err := s.probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		slog.Warn("heartbeat probe failed", "name", s.cfg.Name, "error", err, "consecutive", s.failures)
	} else if s.failures > 0 {
		slog.Info("heartbeat probe recovered", "name", s.cfg.Name, "after", s.failures)
		s.failures = 0
	}
	if s.running {
		s.scheduleLocked()
	}
}
