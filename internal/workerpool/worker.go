// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package workerpool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hexinfra/shrpx/internal/ticketkey"
)

const inboxSize = 128

// worker owns an independent event loop and a share of the connections
// handed to it by Pool.Dispatch's round-robin policy.
type worker struct {
	id      int
	handler ConnHandler
	metrics Metrics

	keys atomic.Pointer[ticketkey.Set]

	inbox chan net.Conn

	numConnections atomic.Int64
	draining       atomic.Bool
	idleChecker    func()

	finishOnce sync.Once
	finishCh   chan struct{}
	done       chan struct{}
}

func newWorker(id int, handler ConnHandler, metrics Metrics) *worker {
	return &worker{
		id:       id,
		handler:  handler,
		metrics:  metrics,
		inbox:    make(chan net.Conn, inboxSize),
		finishCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run is the worker's independent event loop: it waits for accept
// hand-offs until told to drain and finish, or forcibly cancelled.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case conn, ok := <-w.inbox:
			if !ok {
				return
			}
			w.serve(ctx, conn)
		case <-w.finishCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// serve registers conn against the worker's then-current ticket-key
// snapshot synchronously, before returning control to run() to process the
// next hand-off — spec §5's ordering guarantee that "an accepted connection
// is fully registered ... before the next hand-off is processed". The
// actual connection lifetime runs in its own goroutine so a slow
// connection cannot stall the accept hand-off queue.
func (w *worker) serve(ctx context.Context, conn net.Conn) {
	keys := w.keys.Load()
	w.numConnections.Add(1)
	w.reportConnections()

	go func() {
		defer func() {
			w.numConnections.Add(-1)
			w.reportConnections()
			w.maybeFinish()
		}()
		w.handler.Handle(ctx, conn, keys)
	}()
}

func (w *worker) reportConnections() {
	if w.metrics != nil {
		w.metrics.SetConnections(w.id, int(w.numConnections.Load()))
	}
}

// drain marks the worker as refusing to linger once idle. New hand-offs
// already in flight (e.g. from AcceptorSet.DrainBacklog) are still served.
func (w *worker) drain() {
	w.draining.Store(true)
	w.maybeFinish()
}

func (w *worker) maybeFinish() {
	if w.draining.Load() && w.numConnections.Load() == 0 {
		w.finishOnce.Do(func() { close(w.finishCh) })
	}
	if w.idleChecker != nil && w.numConnections.Load() == 0 {
		w.idleChecker()
	}
}
