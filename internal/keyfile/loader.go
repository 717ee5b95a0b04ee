// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// File-based ticket-key loading: tls_ticket_key_files names one file per
// key, in active-to-oldest order, each holding the raw name||enc_key||
// hmac_key blob (spec §6, §4.3). This is the third and simplest source of
// ticket-key material, mutually exclusive with C3 (Rotator) and C4
// (RemoteKeyFetcher).
package keyfile

import (
	"os"

	"github.com/pkg/errors"

	"github.com/hexinfra/shrpx/internal/ticketkey"
)

// Load reads paths in order and returns the Set they encode, position 0
// (paths[0]) as the active key. Every file's length must match a
// supported cipher's PackedLen. Load itself never falls back to anything;
// internal/process is the caller that decides whether a failure here
// should fall back to the internal generator (it does, mirroring the
// original's "Use internal session ticket key generator" behavior) or
// abort, since that choice belongs to the orchestrator, not the loader.
func Load(paths []string) (*ticketkey.Set, error) {
	if len(paths) == 0 {
		return nil, errors.New("keyfile: no ticket key files given")
	}
	keys := make([]*ticketkey.Key, 0, len(paths))
	for _, p := range paths {
		blob, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "keyfile: read %s", p)
		}
		key, ok := ticketkey.Unpack(blob)
		if !ok {
			return nil, errors.Errorf("keyfile: %s has unrecognized length %d", p, len(blob))
		}
		keys = append(keys, key)
	}
	return ticketkey.NewSet(keys...), nil
}
