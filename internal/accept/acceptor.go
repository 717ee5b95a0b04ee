// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Acceptors over inherited listening descriptors.

package accept

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// AbsentFD is the sole sentinel meaning "no descriptor was inherited for
// this acceptor". Per the Open Question in spec §9, this module treats -1
// uniformly for both server_fd and server_fd6; the original C++ source's
// server_fd == 1 special case is not reproduced.
const AbsentFD = -1

// HandOff receives a freshly accepted connection and the id of the
// acceptor (0 for the first configured descriptor, 1 for the second) that
// produced it, so WorkerPool can apply its round-robin or hash policy.
type HandOff func(conn net.Conn, acceptorID int)

type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// acceptor owns one inherited listening descriptor.
type acceptor struct {
	id       int
	listener net.Listener
	enabled  atomic.Bool
}

func newAcceptor(id int, fd int) (*acceptor, error) {
	if fd == AbsentFD {
		return nil, nil
	}
	file := os.NewFile(uintptr(fd), fmt.Sprintf("acceptor-%d", id))
	listener, err := net.FileListener(file)
	if err != nil {
		return nil, errors.Wrap(err, "accept: wrap inherited descriptor")
	}
	file.Close() // FileListener dup'd the fd; the dup owns the socket now
	a := &acceptor{id: id, listener: listener}
	a.enabled.Store(true)
	return a, nil
}

// run accepts connections until disabled. It never returns to an enabled
// state once disabled, matching invariant 4 of the data model.
func (a *acceptor) run(handOff HandOff) {
	for a.enabled.Load() {
		conn, err := a.listener.Accept()
		if err != nil {
			if !a.enabled.Load() {
				return
			}
			continue
		}
		handOff(conn, a.id)
	}
}

// disable removes a from the readiness set without closing its descriptor.
// It unblocks a goroutine parked in Accept by forcing an immediate
// deadline; closing is deferred to process exit.
func (a *acceptor) disable() {
	a.enabled.Store(false)
	if dl, ok := a.listener.(deadlineListener); ok {
		dl.SetDeadline(time.Now())
	}
}

// drainBacklog performs a final non-blocking accept burst until the kernel
// reports no pending connection.
func (a *acceptor) drainBacklog(handOff HandOff) {
	dl, ok := a.listener.(deadlineListener)
	if !ok {
		return
	}
	for {
		dl.SetDeadline(time.Now().Add(time.Millisecond))
		conn, err := a.listener.Accept()
		if err != nil {
			return
		}
		handOff(conn, a.id)
	}
}

// Set owns the v4 and/or v6 inherited listening descriptors.
type Set struct {
	acceptors []*acceptor
	handOff   HandOff
	wg        sync.WaitGroup
}

// New builds a Set from the two inherited descriptors (server_fd,
// server_fd6). Either may be AbsentFD.
func New(fd4, fd6 int, handOff HandOff) (*Set, error) {
	s := &Set{handOff: handOff}
	for id, fd := range [2]int{fd4, fd6} {
		a, err := newAcceptor(id, fd)
		if err != nil {
			return nil, err
		}
		if a != nil {
			s.acceptors = append(s.acceptors, a)
		}
	}
	return s, nil
}

// Start launches one accept goroutine per configured descriptor.
func (s *Set) Start() {
	for _, a := range s.acceptors {
		s.wg.Add(1)
		go func(a *acceptor) {
			defer s.wg.Done()
			a.run(s.handOff)
		}(a)
	}
}

// Disable removes all descriptors from the readiness set. Per invariant 4,
// no acceptor is ever re-enabled after this call.
func (s *Set) Disable() {
	for _, a := range s.acceptors {
		a.disable()
	}
}

// DrainBacklog performs one final non-blocking accept burst on every
// descriptor.
func (s *Set) DrainBacklog() {
	for _, a := range s.acceptors {
		a.drainBacklog(s.handOff)
	}
}

// Wait blocks until every accept goroutine has returned (i.e. every
// acceptor has been disabled and unblocked).
func (s *Set) Wait() {
	s.wg.Wait()
}

// Len reports how many descriptors were actually inherited (0, 1, or 2).
func (s *Set) Len() int { return len(s.acceptors) }
