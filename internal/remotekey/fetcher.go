// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Remote fetch of TLS session-ticket keys from an external cache, as an
// alternative to local rotation.

package remotekey

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/hexinfra/shrpx/internal/logger"
	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// CacheKey is the logical GET key issued against the remote cache.
const CacheKey = "nghttpx:tls-ticket-key"

// DefaultInterval is the fetch cadence used after a successful GET, unless
// overridden by config.
const DefaultInterval = time.Hour

// ErrNotFound is returned by a Dispatcher when the remote cache has no
// value for CacheKey. It is distinct from a network error and is recorded
// as a separate outcome; Fetcher retries both at the same interval.
var ErrNotFound = errors.New("remotekey: not found")

// Dispatcher issues a logical GET against a remote key/value cache. The
// production implementation (redisdispatcher.Dispatcher) wraps
// github.com/go-redis/redis/v8; tests use an in-memory map.
type Dispatcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Publisher receives newly fetched ticket-key sets. WorkerPool implements it.
type Publisher interface {
	PublishTicketKeys(set *ticketkey.Set)
}

// Metrics receives fetch outcome counts: "ok", "not_found", "network_error".
type Metrics interface {
	ObserveTicketFetch(outcome string)
}

// Fetcher polls Dispatcher on a timer and publishes well-formed responses.
type Fetcher struct {
	dispatcher Dispatcher
	cipher     ticketkey.Cipher
	interval   time.Duration
	publisher  Publisher
	metrics    Metrics
	log        *logger.Logger
	clock      clock.Clock
}

func New(dispatcher Dispatcher, cipher ticketkey.Cipher, interval time.Duration, publisher Publisher, metrics Metrics, log *logger.Logger, clk clock.Clock) *Fetcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Fetcher{
		dispatcher: dispatcher,
		cipher:     cipher,
		interval:   interval,
		publisher:  publisher,
		metrics:    metrics,
		log:        log,
		clock:      clk,
	}
}

// Run issues one fetch immediately, then re-fetches every f.interval until
// ctx is cancelled. A successful get-success schedules the next fetch at
// the configured cadence (spec §4.3); network and not-found outcomes reuse
// the same timer rather than an ad-hoc backoff, leaving cadence policy to
// the caller-configured interval.
func (f *Fetcher) Run(ctx context.Context) {
	f.tick(ctx)
	ticker := f.clock.Ticker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *Fetcher) tick(ctx context.Context) {
	payload, err := f.dispatcher.Get(ctx, CacheKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			f.recordNotFound()
			return
		}
		f.log.Logf("ticketkey fetch: network error: %s\n", err.Error())
		if f.metrics != nil {
			f.metrics.ObserveTicketFetch("network_error")
		}
		return
	}

	set, ok := ParsePayload(payload, f.cipher)
	if !ok {
		f.recordNotFound()
		return
	}

	f.log.Logf("ticketkey fetch: get-success size=%d\n", set.Len())
	if f.metrics != nil {
		f.metrics.ObserveTicketFetch("ok")
	}
	f.publisher.PublishTicketKeys(set)
}

func (f *Fetcher) recordNotFound() {
	f.log.Logf("ticketkey fetch: not-found\n")
	if f.metrics != nil {
		f.metrics.ObserveTicketFetch("not_found")
	}
}

// ParsePayload decodes the bit-exact remote-cache response format:
//
//	version: u32 (big-endian)
//	repeated { len: u16 (big-endian); key_blob: len bytes }
//
// Only version 1 is supported. Any structural error (short header, short
// payload, a key_blob whose len does not match cipher's packed length, an
// unsupported version, or a response with zero keys) yields ok=false and
// no Set — the caller reports this as a not-found outcome without
// altering existing state.
func ParsePayload(payload []byte, cipher ticketkey.Cipher) (set *ticketkey.Set, ok bool) {
	if len(payload) < 4 {
		return nil, false
	}
	version := binary.BigEndian.Uint32(payload[:4])
	if version != 1 {
		return nil, false
	}
	expectedLen := cipher.PackedLen()

	rest := payload[4:]
	var keys []*ticketkey.Key
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, false
		}
		blobLen := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if blobLen != expectedLen {
			return nil, false
		}
		if len(rest) < blobLen {
			return nil, false
		}
		key, ok := ticketkey.Unpack(rest[:blobLen])
		if !ok {
			return nil, false
		}
		rest = rest[blobLen:]
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, false
	}
	return ticketkey.NewSet(keys...), true
}

// EncodePayload is the inverse of ParsePayload, used by tests to build
// fixtures and by the round-trip property in spec §8.
func EncodePayload(set *ticketkey.Set) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 1)
	for _, k := range set.Keys() {
		blob := k.Pack()
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(blob)))
		buf = append(buf, lenBuf...)
		buf = append(buf, blob...)
	}
	return buf
}
