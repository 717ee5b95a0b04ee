// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// A minimal workerpool.ConnHandler. Per-connection HTTP/2 framing, stream
// multiplexing, and backend request routing are explicitly out of scope
// for this module (spec §1); Handler is the seam a full reverse proxy
// wires its own connection handling into, in place of this stand-in.
package passthrough

import (
	"context"
	"net"

	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// Handler closes every connection immediately after hand-off. It exists so
// cmd/worker has something concrete to pass to process.New without
// depending on a full HTTP/2 stack.
type Handler struct {
	upstreamNoTLS bool
}

// NewHandler builds a Handler. upstreamNoTLS mirrors config's
// upstream_no_tls flag so a real implementation dropped in here knows
// whether the accepted net.Conn still needs a TLS server handshake using
// keys.Active()/keys.FindByName.
func NewHandler(upstreamNoTLS bool) *Handler {
	return &Handler{upstreamNoTLS: upstreamNoTLS}
}

func (h *Handler) Handle(ctx context.Context, conn net.Conn, keys *ticketkey.Set) {
	conn.Close()
}
