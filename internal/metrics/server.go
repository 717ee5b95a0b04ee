// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics on a loopback-only debug listener (SPEC_FULL.md
// §6), separate from the upstream-facing acceptors.
// It is deliberately not part of accept.Set: it never participates in
// round-robin hand-off, and its listener is closed on shutdown rather than
// left open until process exit.
type Server struct {
	listener net.Listener
	http     *http.Server
}

// NewServer binds addr (expected to be loopback, e.g. "127.0.0.1:0") and
// wires promhttp.HandlerFor(gatherer) at /metrics.
func NewServer(addr string, gatherer prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		listener: ln,
		http:     &http.Server{Handler: mux},
	}, nil
}

// Addr returns the bound address, useful when addr was given with a ":0"
// port.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve blocks accepting metrics scrape requests until Close is called.
// http.ErrServerClosed is swallowed, matching net/http.Server convention.
func (s *Server) Serve() error {
	err := s.http.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops accepting scrapes and waits for in-flight ones to finish,
// or for ctx to be done, whichever comes first (http.Server.Shutdown).
func (s *Server) Close(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
