// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eventbus provides a typed, in-process publish/subscribe bus
// with per-subscriber backpressure.
//
// # Description
//
// Delivery is at-least-once and in-process only. Each subscriber owns a
// bounded queue; when that queue is full the bus skips that subscriber
// for the publication (never blocking the publisher) and increments an
// overflow counter. A global cap bounds the number of events buffered
// across all subscribers combined; publications beyond that cap fail
// fast with errs.ErrOverloaded.
//
// # Thread Safety
//
// Bus is safe for concurrent Publish/Subscribe/Unsubscribe calls.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelplane-dev/intelplane/internal/errs"
)

// Topic identifies an event stream. The Intelligence Plane publishes
// artifact, decision, resolution, coherence, and context-injection
// events, but the bus itself is generic.
type Topic string

const (
	TopicArtifactEvents  Topic = "artifact_events"
	TopicDecisionEvents  Topic = "decision_events"
	TopicResolutions     Topic = "decision_resolutions"
	TopicCoherenceEvents Topic = "coherence_events"
	TopicContextMessages Topic = "context_messages"
)

// DefaultSubscriberQueueSize is the default bound on a subscriber's
// inbound queue.
const DefaultSubscriberQueueSize = 500

// DefaultGlobalCap bounds the total number of events buffered across
// all subscribers at once.
const DefaultGlobalCap = 10000

// Handler receives delivered events. Handlers run on a per-subscriber
// goroutine and must not block indefinitely; a slow handler only ever
// harms its own subscriber's delivery (via backpressure), never the
// publisher or other subscribers.
type Handler func(topic Topic, event any)

type subscriber struct {
	id       int64
	topic    Topic
	queue    chan any
	overflow uint64 // atomic
	handler  Handler
	done     chan struct{}
}

// Bus is the event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	globalCap   int64
	queueSize   int
	buffered    int64 // atomic, total events currently queued across all subscribers

	overflowCounter *prometheus.CounterVec
	bufferedGauge   prometheus.Gauge
}

// Config configures a Bus.
type Config struct {
	SubscriberQueueSize int
	GlobalCap           int64
}

// DefaultConfig returns the spec's defaults (500 per-subscriber, 10000
// global).
func DefaultConfig() Config {
	return Config{SubscriberQueueSize: DefaultSubscriberQueueSize, GlobalCap: DefaultGlobalCap}
}

// New constructs a Bus and registers its metrics with the default
// Prometheus registry; production code normally constructs exactly one
// Bus.
func New(cfg Config) *Bus {
	if cfg.SubscriberQueueSize <= 0 {
		cfg.SubscriberQueueSize = DefaultSubscriberQueueSize
	}
	if cfg.GlobalCap <= 0 {
		cfg.GlobalCap = DefaultGlobalCap
	}
	b := &Bus{
		subscribers: make(map[int64]*subscriber),
		globalCap:   cfg.GlobalCap,
		queueSize:   cfg.SubscriberQueueSize,
	}
	b.overflowCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intelplane_eventbus_overflow_total",
		Help: "Events dropped because a subscriber's queue was full.",
	}, []string{"topic"})
	b.bufferedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intelplane_eventbus_buffered",
		Help: "Events currently buffered across all subscribers.",
	})
	// Registration can fail if called twice in the same process (e.g.
	// many Bus instances in a test binary); that's expected and safe
	// to ignore since the metric values themselves are advisory.
	_ = prometheus.Register(b.overflowCounter)
	_ = prometheus.Register(b.bufferedGauge)
	return b
}

// Subscribe registers a handler for a topic and returns a subscription
// id usable with Unsubscribe. The handler runs on a dedicated goroutine
// reading from the subscriber's bounded queue, preserving publication
// order for that subscriber.
func (b *Bus) Subscribe(topic Topic, handler Handler) int64 {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{
		id:      id,
		topic:   topic,
		queue:   make(chan any, b.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case event, ok := <-sub.queue:
				if !ok {
					return
				}
				atomic.AddInt64(&b.buffered, -1)
				b.bufferedGauge.Set(float64(atomic.LoadInt64(&b.buffered)))
				sub.handler(topic, event)
			}
		}
	}()

	return id
}

// Unsubscribe removes a subscription. Safe to call concurrently with
// Publish; any event already queued for this subscriber is dropped.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish delivers event to every subscriber of topic. Per-subscriber
// backpressure skips a subscriber whose queue is full rather than
// blocking; the publisher only fails if the bus-wide buffered-event
// cap has been reached.
func (b *Bus) Publish(topic Topic, event any) error {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.topic == topic {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if atomic.LoadInt64(&b.buffered) >= b.globalCap {
			return errs.New(errs.Overload, "eventbus.Publish", errs.ErrOverloaded).
				WithField("topic", topic)
		}
		select {
		case sub.queue <- event:
			atomic.AddInt64(&b.buffered, 1)
			b.bufferedGauge.Set(float64(atomic.LoadInt64(&b.buffered)))
		default:
			atomic.AddUint64(&sub.overflow, 1)
			b.overflowCounter.WithLabelValues(string(topic)).Inc()
		}
	}
	return nil
}

// SubscriberOverflow returns the number of events dropped for a given
// subscription due to its queue being full.
func (b *Bus) SubscriberOverflow(id int64) uint64 {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&sub.overflow)
}

// Buffered returns the current total number of events queued across all
// subscribers.
func (b *Bus) Buffered() int64 {
	return atomic.LoadInt64(&b.buffered)
}
