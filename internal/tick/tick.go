// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tick provides the Intelligence Plane's monotonic logical
// clock.
//
// # Description
//
// The clock runs in one of two modes: wall-clock (a background
// goroutine advances it by one every configured interval) or manual
// (it only advances when Advance is called explicitly, e.g. from a
// test). Subscribers are invoked synchronously, in registration order,
// once per integer advance.
//
// # Thread Safety
//
// Service is safe for concurrent use. Subscriber callbacks are invoked
// holding no internal lock. Each increment of the counter is made under
// the service's mutex, but concurrent Advance calls are not serialized
// as a whole: their increments and subscriber callbacks may interleave.
package tick

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Mode selects how the clock advances.
type Mode string

const (
	// ModeWallClock advances the clock by one every Interval, driven by
	// a background goroutine started by Start.
	ModeWallClock Mode = "wall_clock"

	// ModeManual only advances via an explicit Advance call.
	ModeManual Mode = "manual"
)

// Subscriber receives the new tick value on every advance.
type Subscriber func(newTick int64)

// Config configures a Service.
type Config struct {
	Mode     Mode
	Interval time.Duration // only used in ModeWallClock
}

// DefaultConfig returns the spec's defaults: wall-clock mode, 1s
// interval.
func DefaultConfig() Config {
	return Config{Mode: ModeWallClock, Interval: time.Second}
}

// currentTickGauge tracks the service's tick counter for operators;
// registered lazily so multiple Service instances in tests don't
// collide with a package-level MustRegister panic.
var (
	currentTickGaugeOnce sync.Once
	currentTickGauge     prometheus.Gauge
)

func tickGauge() prometheus.Gauge {
	currentTickGaugeOnce.Do(func() {
		currentTickGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intelplane_tick_current",
			Help: "Current value of the Intelligence Plane's logical clock.",
		})
		prometheus.MustRegister(currentTickGauge)
	})
	return currentTickGauge
}

// Service is the monotonic logical clock.
type Service struct {
	mu          sync.Mutex
	cfg         Config
	current     int64
	subscribers []Subscriber
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New constructs a Service in the given configuration. The clock starts
// at 0 and is not running until Start is called.
func New(cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Service{cfg: cfg}
}

// Current returns the current tick value.
func (s *Service) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers a callback invoked on every advance, in
// registration order relative to other subscribers.
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Start begins wall-clock advancement. It is idempotent: calling Start
// on an already-running service, or on a manual-mode service, is a
// no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.cfg.Mode != ModeWallClock || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	interval := s.cfg.Interval
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.advance(1)
			}
		}
	}()
}

// Stop halts wall-clock advancement but preserves the counter. Safe to
// call even if the clock was never started.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Advance advances the clock by n integer ticks, invoking every
// subscriber once per tick, in registration order. It fails (no-op)
// when the service is in wall-clock mode; callers drive wall-clock
// services via Start/Stop only. n must be >= 1.
func (s *Service) Advance(n int64) bool {
	s.mu.Lock()
	if s.cfg.Mode == ModeWallClock {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.advance(n)
}

// advance is the internal implementation shared by the wall-clock
// goroutine (which is always permitted to advance by 1) and manual
// Advance (after the mode check above).
func (s *Service) advance(n int64) bool {
	if n < 1 {
		return false
	}
	s.mu.Lock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for i := int64(0); i < n; i++ {
		s.mu.Lock()
		s.current++
		newTick := s.current
		s.mu.Unlock()
		tickGauge().Set(float64(newTick))
		for _, sub := range subs {
			sub(newTick)
		}
	}
	return true
}
