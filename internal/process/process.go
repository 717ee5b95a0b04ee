// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// The worker process top-level orchestrator (C9): wires together every
// other component in the order spec §4 and §9 require, runs the event
// loop, and unwinds on either graceful drain or a fatal setup error.
package process

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hexinfra/shrpx/internal/accept"
	"github.com/hexinfra/shrpx/internal/config"
	"github.com/hexinfra/shrpx/internal/ipc"
	"github.com/hexinfra/shrpx/internal/keyfile"
	"github.com/hexinfra/shrpx/internal/lifecycle"
	"github.com/hexinfra/shrpx/internal/logger"
	"github.com/hexinfra/shrpx/internal/metrics"
	"github.com/hexinfra/shrpx/internal/privilege"
	"github.com/hexinfra/shrpx/internal/remotekey"
	"github.com/hexinfra/shrpx/internal/remotekey/redisdispatcher"
	"github.com/hexinfra/shrpx/internal/rotator"
	"github.com/hexinfra/shrpx/internal/ticketkey"
	"github.com/hexinfra/shrpx/internal/workerpool"
)

// ErrSetup wraps any failure during construction (spec §9's SetupError):
// the caller is expected to log it and exit non-zero rather than attempt
// to run degraded.
var ErrSetup = errors.New("process: setup failed")

// WorkerProcess owns every long-lived component of one worker process and
// drives its full lifetime from construction to termination.
type WorkerProcess struct {
	cfg *config.WorkerProcessConfig

	log     *logger.Logger
	metrics *metrics.Registry

	acceptors *accept.Set
	pool      *workerpool.Pool
	ipcCh     *ipc.Channel
	lifecyc   *lifecycle.Controller

	keySource keySource
}

// keySource is whichever of C3, C4, or the static keyfile loader is active;
// New selects exactly one per spec §6's mutual exclusion.
type keySource interface {
	Run(ctx context.Context)
}

// ConnHandler is re-exported so callers assembling a WorkerProcess don't
// need to import workerpool directly.
type ConnHandler = workerpool.ConnHandler

// New builds every component but starts nothing. handler serves accepted
// connections; the HTTP/2 framing and routing behind it are out of scope
// for this module (spec §1).
func New(cfg *config.WorkerProcessConfig, handler ConnHandler, reg prometheus.Registerer) (*WorkerProcess, error) {
	ignoreLifecycleSignals()

	log, err := logger.New(cfg.LogFile)
	if err != nil {
		return nil, errors.Wrap(ErrSetup, err.Error())
	}

	instanceID := uuid.New().String()
	log.Logf("worker instance %s starting, num_worker=%d\n", instanceID, cfg.NumWorker)
	m := metrics.New(reg, instanceID)

	pool := workerpool.New(cfg.NumWorker, handler, m)

	acceptors, err := accept.New(cfg.ServerFD, cfg.ServerFD6, pool.Dispatch)
	if err != nil {
		return nil, errors.Wrap(ErrSetup, err.Error())
	}

	wp := &WorkerProcess{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		acceptors: acceptors,
		pool:      pool,
	}

	// Ticket keys are meaningless when the upstream-facing acceptors never
	// perform a TLS handshake; the original skips this entire block under
	// upstream_no_tls rather than standing up a live Redis client or a
	// rotation timer nobody will ever read.
	if cfg.UpstreamNoTLS {
		wp.keySource = noopKeySource{}
	} else if err := wp.wireKeySource(); err != nil {
		return nil, errors.Wrap(ErrSetup, err.Error())
	}

	lc := lifecycle.New(acceptors, pool, log, m, pool.IsMultiWorker(), log)
	pool.SetIdleChecker(lc.CheckWorkersIdle)
	wp.lifecyc = lc

	wp.ipcCh = ipc.New(cfg.IPCFD, lc, m, log)

	return wp, nil
}

// ignoreLifecycleSignals sets the default-ignore disposition (spec §4.9) on
// the signals a leader process would otherwise use to drive graceful
// shutdown, log reopen, and exec-binary-equivalent control — the same three
// roles original_source/src/shrpx_worker_process.cc assigns to
// GRACEFUL_SHUTDOWN_SIGNAL, REOPEN_LOG_SIGNAL, and EXEC_BINARY_SIGNAL via
// sigaction(..., SIG_IGN). A broadcast "killall" aimed at the whole process
// tree must not terminate a worker directly; workers learn of these events
// only through the IPC channel.
func ignoreLifecycleSignals() {
	signal.Ignore(syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2)
}

// wireKeySource selects and constructs exactly one ticket-key source, per
// the mutual exclusion spec §6 places on tls_ticket_key_files and
// tls_ticket_key_memcached_host: the remote fetcher wins whenever it is
// configured, only falling into the file-loading branch in its else arm,
// and falling back further to local rotation when neither is set — the
// same precedence as the original's worker_process_event_loop.
func (wp *WorkerProcess) wireKeySource() error {
	cfg := wp.cfg

	if cfg.UsesRemoteKeyFetcher() {
		client := redis.NewClient(&redis.Options{Addr: cfg.TicketKeyRedisHost})
		dispatcher := redisdispatcher.New(client)
		wp.keySource = remotekey.New(dispatcher, cfg.TicketKeyCipher, remotekey.DefaultInterval, sizeReportingPublisher{wp.pool, wp.metrics}, wp.metrics, wp.log, nil)
		return nil
	}

	if cfg.UsesTicketKeyFiles() {
		set, err := keyfile.Load(cfg.TicketKeyFiles)
		if err != nil {
			// A bad or unreadable key file is not fatal: fall back to the
			// internal generator exactly as the original does ("Use
			// internal session ticket key generator").
			wp.log.Logf("process: failed to load tls_ticket_key_files (%s), using internal session ticket key generator\n", err.Error())
			gen := ticketkey.NewGenerator(cfg.TicketKeyCipher)
			wp.keySource = rotator.New(gen, cfg.TLSSessionTimeout, sizeReportingPublisher{wp.pool, wp.metrics}, wp.metrics, wp.log, nil)
			return nil
		}
		wp.pool.PublishTicketKeys(set)
		wp.metrics.SetTicketKeySetSize(set.Len())
		wp.keySource = keyfileWatcherAdapter{
			watcher: keyfile.NewWatcher(cfg.TicketKeyFiles, wp.pool, wp.metrics, wp.log),
		}
		return nil
	}

	gen := ticketkey.NewGenerator(cfg.TicketKeyCipher)
	wp.keySource = rotator.New(gen, cfg.TLSSessionTimeout, sizeReportingPublisher{wp.pool, wp.metrics}, wp.metrics, wp.log, nil)
	return nil
}

// noopKeySource is wired in place of a real ticket-key source when
// upstream_no_tls is set: there is no TLS handshake to arm keys for, so no
// rotator, remote fetcher, or keyfile watcher is started.
type noopKeySource struct{}

func (noopKeySource) Run(ctx context.Context) { <-ctx.Done() }

// sizeReportingPublisher forwards to workerpool.Pool while also updating
// the ticket_key_set_size gauge, since neither rotator nor remotekey know
// about metrics.Registry's extra gauge method.
type sizeReportingPublisher struct {
	pool *workerpool.Pool
	m    *metrics.Registry
}

func (p sizeReportingPublisher) PublishTicketKeys(set *ticketkey.Set) {
	p.pool.PublishTicketKeys(set)
	p.m.SetTicketKeySetSize(set.Len())
}

type keyfileWatcherAdapter struct {
	watcher *keyfile.Watcher
}

func (a keyfileWatcherAdapter) Run(ctx context.Context) { a.watcher.Run(ctx) }

// Run drops privileges, then starts every component's event loop and
// blocks until the lifecycle controller reaches Terminated. Privilege drop
// happens after socket setup (accept.New already ran in New) and before
// the IPC reader is armed, per invariant 5 and spec §4.7.
func (wp *WorkerProcess) Run(ctx context.Context) error {
	if err := privilege.Drop(privilege.Config{UID: wp.cfg.UID, GID: wp.cfg.GID, User: wp.cfg.User}); err != nil {
		return errors.Wrap(ErrSetup, err.Error())
	}

	keySourceCtx, cancelKeySource := context.WithCancel(ctx)
	defer cancelKeySource()
	go wp.keySource.Run(keySourceCtx)

	ipcCtx, cancelIPC := context.WithCancel(ctx)
	defer cancelIPC()

	wp.pool.Start()
	wp.acceptors.Start()
	go wp.ipcCh.Run(ipcCtx)

	select {
	case <-wp.lifecyc.Done():
	case <-ctx.Done():
	}

	// After a graceful drain the acceptors are already disabled and the
	// workers idle, so both calls below are no-ops; after ipc_closed or a
	// cancelled ctx they stop the accept loops and drop in-flight
	// connections so that Wait and JoinAll below can return.
	wp.acceptors.Disable()
	wp.pool.Shutdown()

	// cancelIPC first so Run() observes ctx.Done() on the read error Close
	// below forces, instead of looping on "use of closed file" forever.
	cancelIPC()
	wp.ipcCh.Close()
	wp.acceptors.Wait()
	wp.pool.JoinAll()
	return wp.log.Close()
}
