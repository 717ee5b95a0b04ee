// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Graceful-shutdown and log-reopen state machine.

package lifecycle

import (
	"sync"

	"github.com/hexinfra/shrpx/internal/logger"
)

// State is one of Running, Draining, Terminated (spec §3).
type State int

const (
	Running State = iota
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Acceptors is the subset of accept.Set the controller drives.
type Acceptors interface {
	Disable()
	DrainBacklog()
}

// Workers is the subset of workerpool.Pool the controller drives.
type Workers interface {
	GracefulShutdownAll()
	AggregateNumConnections() int
}

// Logs is the subset of logger.Logger the controller drives on REOPEN_LOG.
type Logs interface {
	Reopen() error
}

// Metrics receives lifecycle transition counts.
type Metrics interface {
	ObserveLifecycleTransition(to string)
}

// Controller is the central state machine described in spec §4.8. It
// implements ipc.Handler.
type Controller struct {
	acceptors   Acceptors
	workers     Workers
	logs        Logs
	metrics     Metrics
	multiWorker bool
	log         *logger.Logger

	mu    sync.Mutex
	state State

	breakOnce sync.Once
	breakCh   chan struct{}
}

func New(acceptors Acceptors, workers Workers, logs Logs, metrics Metrics, multiWorker bool, log *logger.Logger) *Controller {
	return &Controller{
		acceptors:   acceptors,
		workers:     workers,
		logs:        logs,
		metrics:     metrics,
		multiWorker: multiWorker,
		log:         log,
		state:       Running,
		breakCh:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed exactly once, when the event loop should break.
func (c *Controller) Done() <-chan struct{} { return c.breakCh }

// OnGraceful implements the Running/Draining -> Draining transitions of
// spec §4.8. It is idempotent once Draining.
func (c *Controller) OnGraceful() {
	c.mu.Lock()
	switch c.state {
	case Terminated:
		c.mu.Unlock()
		return
	case Draining:
		c.mu.Unlock()
		return // no-op, idempotent
	}
	c.state = Draining
	c.mu.Unlock()

	c.log.Logf("lifecycle: graceful shutdown requested\n")
	c.observe("draining")

	c.acceptors.Disable()
	c.acceptors.DrainBacklog()

	if c.multiWorker {
		// GracefulShutdownAll blocks until every worker thread has joined
		// (spec §4.8: "break is triggered from graceful_shutdown_all()
		// returning, because C6 joins internally").
		c.workers.GracefulShutdownAll()
		c.terminate()
		return
	}

	c.workers.GracefulShutdownAll()
	c.CheckWorkersIdle()
}

// CheckWorkersIdle polls AggregateNumConnections() in single-worker mode
// and transitions Draining -> Terminated if it is zero. The worker pool
// calls this whenever its connection count reaches zero while draining
// (spec §4.8's "workers_idle()" event, and scenario S2's "after external
// release ... the next C8 check breaks the loop"). It is a no-op outside
// Draining or in multi-worker mode, where idleness is instead observed via
// GracefulShutdownAll's return.
func (c *Controller) CheckWorkersIdle() {
	c.mu.Lock()
	if c.state != Draining || c.multiWorker {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.workers.AggregateNumConnections() == 0 {
		c.terminate()
	}
}

// OnReopenLog implements the Running/Draining -> same-state transition
// that reopens log files.
func (c *Controller) OnReopenLog() {
	if c.State() == Terminated {
		return
	}
	c.log.Logf("lifecycle: reopening log files\n")
	if err := c.logs.Reopen(); err != nil {
		c.log.Logf("lifecycle: reopen failed: %s\n", err.Error())
	}
	// Unlike the original's per-thread access/error logs, this module's
	// worker goroutines never open a log file of their own (access logging
	// is out of scope); the shared Logs.Reopen() above is the whole of the
	// REOPEN_LOG transition regardless of multiWorker.
}

// OnClosed implements the fatal ipc_closed transition from either Running
// or Draining to Terminated.
func (c *Controller) OnClosed() {
	c.log.Logf("lifecycle: ipc channel closed, terminating\n")
	c.terminate()
}

func (c *Controller) terminate() {
	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return
	}
	c.state = Terminated
	c.mu.Unlock()

	c.observe("terminated")
	c.breakOnce.Do(func() { close(c.breakCh) })
}

func (c *Controller) observe(to string) {
	if c.metrics != nil {
		c.metrics.ObserveLifecycleTransition(to)
	}
}
