// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// IPC channel: translates parent-supplied opcode bytes into lifecycle events.

package ipc

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/hexinfra/shrpx/internal/logger"
)

// Opcode is a single byte opcode read from the parent's write end of the
// pipe. Unknown bytes are ignored (forward-compat).
type Opcode byte

const (
	GracefulShutdown Opcode = 0x01
	ReopenLog        Opcode = 0x02
)

const readBufferSize = 1024

// readErrorBackoff bounds how fast Run retries after a non-EOF read error.
// The original only reaches the analogous path from a readiness callback
// that fires at most once per event-loop iteration; without an equivalent
// readiness wait here, retrying unthrottled against a persistently broken
// descriptor (e.g. EBADF) would busy-spin at 100% CPU.
const readErrorBackoff = 10 * time.Millisecond

// Handler receives translated lifecycle events. LifecycleController
// implements it.
type Handler interface {
	OnGraceful()
	OnReopenLog()
	OnClosed()
}

// Metrics receives per-opcode event counts.
type Metrics interface {
	ObserveIPCEvent(name string)
}

// Channel owns the read side of the parent-supplied IPC descriptor.
type Channel struct {
	reader  io.Reader
	closer  io.Closer
	handler Handler
	metrics Metrics
	log     *logger.Logger
}

// New wraps an inherited file descriptor as a Channel.
func New(fd int, handler Handler, metrics Metrics, log *logger.Logger) *Channel {
	file := os.NewFile(uintptr(fd), "ipc")
	return NewFromReader(file, file, handler, metrics, log)
}

// NewFromReader builds a Channel over an arbitrary reader, used directly in
// tests against an io.Pipe or net.Pipe instead of a real descriptor.
func NewFromReader(reader io.Reader, closer io.Closer, handler Handler, metrics Metrics, log *logger.Logger) *Channel {
	return &Channel{reader: reader, closer: closer, handler: handler, metrics: metrics, log: log}
}

// Run reads opcodes until ctx is cancelled or the channel is fatally
// closed by the far end. EINTR-equivalent transient errors are retried
// transparently by Go's os.File.Read (see the analogous ignoringEINTRIO
// helper in the teacher's own system library); Run only distinguishes
// io.EOF (read == 0, fatal) from any other error (logged, non-fatal).
func (c *Channel) Run(ctx context.Context) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := c.reader.Read(buf)
		if n > 0 {
			c.dispatch(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				c.log.Logf("ipc channel closed\n")
				c.observe("closed")
				c.handler.OnClosed()
				return
			}
			c.log.Logf("ipc read error: %s\n", err.Error())
			c.observe("read_error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorBackoff):
			}
		}
	}
}

// Close releases the underlying descriptor, if any.
func (c *Channel) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// dispatch translates each byte of b to a lifecycle event, strictly in
// receive order (spec §5, "IPC bytes are consumed strictly in receive
// order"; law 3 of §8).
func (c *Channel) dispatch(b []byte) {
	for _, raw := range b {
		switch Opcode(raw) {
		case GracefulShutdown:
			c.observe("graceful_shutdown")
			c.handler.OnGraceful()
		case ReopenLog:
			c.observe("reopen_log")
			c.handler.OnReopenLog()
		default:
			c.observe("unknown")
		}
	}
}

func (c *Channel) observe(name string) {
	if c.metrics != nil {
		c.metrics.ObserveIPCEvent(name)
	}
}
