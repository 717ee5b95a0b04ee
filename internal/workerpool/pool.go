// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Worker fan-out: either the control loop itself acts as the sole worker,
// or N independent worker goroutines each own a share of the connections.

package workerpool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// ConnHandler serves one accepted connection using the ticket-key set that
// was current at hand-off time. Per-connection HTTP/2 framing, stream
// multiplexing, and request routing are out of scope for this module
// (spec §1); ConnHandler is the seam a full reverse proxy would plug into.
type ConnHandler interface {
	Handle(ctx context.Context, conn net.Conn, keys *ticketkey.Set)
}

// Metrics receives per-worker connection gauges and accept counts.
type Metrics interface {
	SetConnections(workerID int, n int)
	ObserveAccepted()
}

// Pool is C6, the WorkerPool. numWorkers == 1 is the single-worker mode of
// spec §4.5; numWorkers > 1 is the multi-worker mode.
type Pool struct {
	workers []*worker
	handler ConnHandler
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc

	rrCounter atomic.Uint64
	joinOnce  sync.Once
}

// New builds a Pool with numWorkers workers, all initially holding no
// ticket-key set (PublishTicketKeys must be called at least once before
// TLS handshakes are expected to succeed).
func New(numWorkers int, handler ConnHandler, metrics Metrics) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{handler: handler, metrics: metrics, ctx: ctx, cancel: cancel}
	for i := 0; i < numWorkers; i++ {
		p.workers = append(p.workers, newWorker(i, handler, metrics))
	}
	return p
}

// IsMultiWorker reports whether this pool has more than one worker thread.
func (p *Pool) IsMultiWorker() bool { return len(p.workers) > 1 }

// SetIdleChecker wires a callback invoked whenever a worker's connection
// count transitions to zero. In single-worker mode this drives
// lifecycle.Controller.CheckWorkersIdle.
func (p *Pool) SetIdleChecker(fn func()) {
	for _, w := range p.workers {
		w.idleChecker = fn
	}
}

// Start launches every worker's event loop goroutine.
func (p *Pool) Start() {
	for _, w := range p.workers {
		go w.run(p.ctx)
	}
}

// Dispatch implements accept.HandOff: it round-robins conn to a worker.
// acceptorID is accepted for interface compatibility but unused by the
// round-robin policy; a hash policy keyed on the client address would read
// it instead.
func (p *Pool) Dispatch(conn net.Conn, acceptorID int) {
	if p.metrics != nil {
		p.metrics.ObserveAccepted()
	}
	idx := (p.rrCounter.Add(1) - 1) % uint64(len(p.workers))
	p.workers[idx].inbox <- conn
}

// PublishTicketKeys atomically swaps every worker's ticket-key reference.
// The next TLS handshake on that worker observes the new set (invariant 3).
func (p *Pool) PublishTicketKeys(set *ticketkey.Set) {
	for _, w := range p.workers {
		w.keys.Store(set)
	}
}

// GracefulShutdownAll sends a drain signal to every worker. In
// single-worker mode it returns immediately; the caller polls idleness via
// SetIdleChecker/AggregateNumConnections. In multi-worker mode it blocks
// until every worker has finished its in-flight connections and joined
// (spec §4.8).
func (p *Pool) GracefulShutdownAll() {
	for _, w := range p.workers {
		w.drain()
	}
	if p.IsMultiWorker() {
		p.JoinAll()
	}
}

// JoinAll blocks until every worker goroutine has returned. Safe to call
// more than once.
func (p *Pool) JoinAll() {
	p.joinOnce.Do(func() {
		var g errgroup.Group
		for _, w := range p.workers {
			w := w
			g.Go(func() error {
				<-w.done
				return nil
			})
		}
		g.Wait()
	})
}

// Shutdown forcibly cancels every worker's context, dropping in-flight
// connections. WorkerProcess.Run calls it once its loop has ended; it has
// effect on the fatal ipc_closed path and on a cancelled context, where
// there is no graceful drain.
func (p *Pool) Shutdown() { p.cancel() }

// AggregateNumConnections sums num_connections across every worker.
func (p *Pool) AggregateNumConnections() int {
	total := 0
	for _, w := range p.workers {
		total += int(w.numConnections.Load())
	}
	return total
}
