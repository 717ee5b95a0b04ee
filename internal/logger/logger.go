// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Buffered, reopenable file logger for the worker process.

package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger is an asynchronous, double-buffered file logger. Writers append to
// whichever queue is current; a background saver goroutine periodically
// swaps queues and flushes the dirty one to disk. Reopen closes and
// reopens the underlying file, so it composes with external logrotate(8)
// as well as the worker's own REOPEN_LOG IPC opcode.
type Logger struct {
	path   string
	osFile *os.File

	mutex    sync.Mutex // protects qCurrent and osFile
	qCurrent *queue
	queueOne *queue
	queueTwo *queue
	closed   bool

	done chan struct{}
}

const timeFormat = "2006-01-02 15:04:05.000"

// New opens (or creates) the log file at path and starts the background
// saver. An empty path routes log lines to stderr, useful for tests and
// for the leader's own bootstrap log before a config is available.
func New(path string) (*Logger, error) {
	l := &Logger{
		path:     path,
		queueOne: newQueue(),
		queueTwo: newQueue(),
		done:     make(chan struct{}),
	}
	l.qCurrent = l.queueOne
	if path != "" {
		if err := l.openFile(); err != nil {
			return nil, err
		}
	}
	go l.saver()
	return l, nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	l.osFile = f
	return nil
}

// Reopen closes the current file descriptor and reopens path, picking up
// e.g. a logrotate(8) rename. It is the action bound to the worker
// process's REOPEN_LOG lifecycle transition.
func (l *Logger) Reopen() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.path == "" {
		return nil
	}
	if l.osFile != nil {
		l.osFile.Close()
		l.osFile = nil
	}
	return l.openFile()
}

func (l *Logger) Logf(format string, args ...any) {
	l.logln(fmt.Sprintf(format, args...))
}

func (l *Logger) logln(s string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed {
		return
	}
	l.qCurrent.push(time.Now().Format(timeFormat) + " " + s)
}

func (l *Logger) saver() {
	ticker := time.NewTicker(97 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		l.mutex.Lock()
		if l.closed {
			l.mutex.Unlock()
			close(l.done)
			return
		}
		var dirty *queue
		if l.qCurrent == l.queueOne {
			dirty = l.queueOne
			l.qCurrent = l.queueTwo
		} else {
			dirty = l.queueTwo
			l.qCurrent = l.queueOne
		}
		file := l.osFile
		l.mutex.Unlock()

		if file != nil {
			dirty.flushTo(file)
		} else {
			dirty.flushTo(os.Stderr)
		}
	}
}

// Close stops the saver and closes the underlying file.
func (l *Logger) Close() error {
	l.mutex.Lock()
	l.closed = true
	final := l.qCurrent
	file := l.osFile
	l.mutex.Unlock()

	<-l.done
	if file != nil {
		final.flushTo(file)
		return file.Close()
	}
	final.flushTo(os.Stderr)
	return nil
}

// queue is a simple line buffer; unlike the teacher's block-chained queue
// this worker's log volume is IPC/lifecycle events, not per-request access
// logs, so a plain slice-of-strings buffer under the same mutex is enough.
type queue struct {
	lines []string
}

func newQueue() *queue { return &queue{} }

func (q *queue) push(line string) { q.lines = append(q.lines, line) }

func (q *queue) flushTo(w interface{ Write([]byte) (int, error) }) {
	if len(q.lines) == 0 {
		return
	}
	for _, line := range q.lines {
		w.Write([]byte(line))
		w.Write([]byte("\n"))
	}
	q.lines = q.lines[:0]
}
