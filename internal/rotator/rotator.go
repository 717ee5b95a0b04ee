// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Periodic TLS session-ticket key rotation.

package rotator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hexinfra/shrpx/internal/logger"
	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// Interval is the fixed period between rotations, per spec §4.2.
const Interval = time.Hour

// Publisher receives newly rotated ticket-key sets. WorkerPool implements it.
type Publisher interface {
	PublishTicketKeys(set *ticketkey.Set)
}

// Metrics receives rotation outcome counts.
type Metrics interface {
	ObserveTicketRotation(ok bool)
}

// Rotator generates a new ticket-key set every Interval, and once
// synchronously at startup. It retains up to H = tls_session_timeout
// (whole hours, minimum 1) keys.
type Rotator struct {
	gen            *ticketkey.Generator
	sessionTimeout time.Duration
	publisher      Publisher
	metrics        Metrics
	log            *logger.Logger
	clock          clock.Clock

	mu      sync.Mutex
	current *ticketkey.Set
}

// New builds a Rotator. clk may be a real clock.New() or a fake clock in
// tests (github.com/benbjohnson/clock), matching how
// oneee-playground-network-stack tests its own timer-driven code.
func New(gen *ticketkey.Generator, sessionTimeout time.Duration, publisher Publisher, metrics Metrics, log *logger.Logger, clk clock.Clock) *Rotator {
	if clk == nil {
		clk = clock.New()
	}
	return &Rotator{
		gen:            gen,
		sessionTimeout: sessionTimeout,
		publisher:      publisher,
		metrics:        metrics,
		log:            log,
		clock:          clk,
	}
}

// retentionWindow returns H, the number of hours of tickets to keep
// decryptable, floored to whole hours and clamped to at least 1 per the
// Open Question resolved in DESIGN.md.
func (r *Rotator) retentionWindow() int {
	h := int(r.sessionTimeout / time.Hour)
	if h < 1 {
		h = 1
	}
	return h
}

// CurrentSet returns the most recently published set, or nil if none has
// been published yet (e.g. every generation attempt has failed so far).
func (r *Rotator) CurrentSet() *ticketkey.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run performs one synchronous rotation, then rotates every Interval until
// ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) {
	r.tick()

	ticker := r.clock.Ticker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick performs a single rotation, implementing spec §4.2 and law 2 of
// §8: |new| = min(H, |old|+1), new[i] = old[i-1] for 1 <= i < |new|.
func (r *Rotator) tick() {
	newKey, err := r.gen.Generate()
	if err != nil {
		r.log.Logf("ticketkey rotation: generation failed: %s\n", err.Error())
		r.mu.Lock()
		r.current = nil // clear current set to empty-reference; next tick retries
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.ObserveTicketRotation(false)
		}
		return
	}

	r.mu.Lock()
	old := r.current
	var newSet *ticketkey.Set
	if old == nil {
		newSet = ticketkey.NewSet(newKey)
	} else {
		h := r.retentionWindow()
		newSize := old.Len() + 1
		if newSize > h {
			newSize = h
		}
		keys := make([]*ticketkey.Key, newSize)
		keys[0] = newKey
		for i := 1; i < newSize; i++ {
			keys[i] = old.At(i - 1)
		}
		newSet = ticketkey.NewSet(keys...)
	}
	r.current = newSet
	r.mu.Unlock()

	r.log.Logf("ticketkey rotation: size=%d\n", newSet.Len())
	if r.metrics != nil {
		r.metrics.ObserveTicketRotation(true)
	}
	r.publisher.PublishTicketKeys(newSet)
}
