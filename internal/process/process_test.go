// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package process

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hexinfra/shrpx/internal/config"
	"github.com/hexinfra/shrpx/internal/remotekey"
	"github.com/hexinfra/shrpx/internal/rotator"
	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// TestIgnoreLifecycleSignals confirms that the signals a leader would use
// for graceful-shutdown/reopen-log/exec-binary control are set to
// default-ignore (spec §4.9). SIGQUIT's un-ignored Go disposition (exit with
// a stack dump) would otherwise kill this very test process, so observing
// the process still running afterward is the proof for SIGQUIT. The Go
// runtime takes no action on an un-notified SIGUSR1 or SIGUSR2, so for
// those two the test only shows that delivery does not kill the process.
func TestIgnoreLifecycleSignals(t *testing.T) {
	ignoreLifecycleSignals()

	for _, sig := range []syscall.Signal{syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2} {
		require.NoError(t, syscall.Kill(syscall.Getpid(), sig))
	}
	time.Sleep(50 * time.Millisecond)
}

// TestWireKeySourceFallsBackOnUnreadableKeyFiles mirrors
// original_source/src/shrpx_worker_process.cc:401-411: a missing or
// malformed tls_ticket_key_files entry falls back to the internal
// generator rather than aborting the worker.
func TestWireKeySourceFallsBackOnUnreadableKeyFiles(t *testing.T) {
	fd, _ := listenerFD(t)
	ipcRead, ipcWrite, err := os.Pipe()
	require.NoError(t, err)
	defer ipcWrite.Close()

	cfg := &config.WorkerProcessConfig{
		NumWorker:         1,
		TicketKeyCipher:   ticketkey.AES128CBC,
		TicketKeyFiles:    []string{filepath.Join(t.TempDir(), "does-not-exist.key")},
		TLSSessionTimeout: time.Hour,
		ServerFD:          fd,
		ServerFD6:         config.AbsentFD,
		IPCFD:             int(ipcRead.Fd()),
	}

	wp, err := New(cfg, &echoHandler{served: make(chan struct{}, 1)}, prometheus.NewRegistry())
	require.NoError(t, err)
	require.IsType(t, &rotator.Rotator{}, wp.keySource)
}

// TestWireKeySourcePrefersRemoteFetcherOverFiles mirrors
// original_source/src/shrpx_worker_process.cc's worker_process_event_loop:
// tls_ticket_key_memcached_host (the remote fetcher here) is checked first
// and wins whenever both it and tls_ticket_key_files are configured.
func TestWireKeySourcePrefersRemoteFetcherOverFiles(t *testing.T) {
	fd, _ := listenerFD(t)
	ipcRead, ipcWrite, err := os.Pipe()
	require.NoError(t, err)
	defer ipcWrite.Close()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "1.key")
	gen := ticketkey.NewGenerator(ticketkey.AES128CBC)
	k, err := gen.Generate()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, k.Pack(), 0o600))

	cfg := &config.WorkerProcessConfig{
		NumWorker:          1,
		TicketKeyCipher:    ticketkey.AES128CBC,
		TicketKeyFiles:     []string{keyPath},
		TicketKeyRedisHost: "127.0.0.1:6379",
		TLSSessionTimeout:  time.Hour,
		ServerFD:           fd,
		ServerFD6:          config.AbsentFD,
		IPCFD:              int(ipcRead.Fd()),
	}

	wp, err := New(cfg, &echoHandler{served: make(chan struct{}, 1)}, prometheus.NewRegistry())
	require.NoError(t, err)
	require.IsType(t, &remotekey.Fetcher{}, wp.keySource)
}

// TestWireKeySourceSkippedUnderUpstreamNoTLS confirms no ticket-key source
// is started when the upstream-facing acceptors never perform a TLS
// handshake, matching the original's `if (!upstream_no_tls) { ... }` guard.
func TestWireKeySourceSkippedUnderUpstreamNoTLS(t *testing.T) {
	fd, _ := listenerFD(t)
	ipcRead, ipcWrite, err := os.Pipe()
	require.NoError(t, err)
	defer ipcWrite.Close()

	cfg := &config.WorkerProcessConfig{
		NumWorker:          1,
		UpstreamNoTLS:      true,
		TicketKeyCipher:    ticketkey.AES128CBC,
		TicketKeyRedisHost: "127.0.0.1:6379",
		TLSSessionTimeout:  time.Hour,
		ServerFD:           fd,
		ServerFD6:          config.AbsentFD,
		IPCFD:              int(ipcRead.Fd()),
	}

	wp, err := New(cfg, &echoHandler{served: make(chan struct{}, 1)}, prometheus.NewRegistry())
	require.NoError(t, err)
	require.IsType(t, noopKeySource{}, wp.keySource)
}

type echoHandler struct{ served chan struct{} }

func (h *echoHandler) Handle(ctx context.Context, conn net.Conn, keys *ticketkey.Set) {
	defer conn.Close()
	h.served <- struct{}{}
}

func listenerFD(t *testing.T) (int, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tl := ln.(*net.TCPListener)
	f, err := tl.File()
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return int(f.Fd()), ln.Addr().String()
}

func TestWorkerProcessAcceptsAndGracefullyShutsDown(t *testing.T) {
	fd, addr := listenerFD(t)

	ipcRead, ipcWrite, err := os.Pipe()
	require.NoError(t, err)
	defer ipcWrite.Close()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "1.key")
	gen := ticketkey.NewGenerator(ticketkey.AES128CBC)
	k, err := gen.Generate()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, k.Pack(), 0o600))

	cfg := &config.WorkerProcessConfig{
		NumWorker:         1,
		TicketKeyCipher:   ticketkey.AES128CBC,
		TicketKeyFiles:    []string{keyPath},
		TLSSessionTimeout: time.Hour,
		ServerFD:          fd,
		ServerFD6:         config.AbsentFD,
		IPCFD:             int(ipcRead.Fd()),
	}

	handler := &echoHandler{served: make(chan struct{}, 1)}
	wp, err := New(cfg, handler, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- wp.Run(ctx) }()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	select {
	case <-handler.served:
	case <-time.After(time.Second):
		t.Fatal("connection was never handed off to the handler")
	}

	_, err = ipcWrite.Write([]byte{0x01}) // GracefulShutdown
	require.NoError(t, err)

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker process did not terminate after graceful shutdown")
	}
}
