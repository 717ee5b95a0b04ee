// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Redis-backed remote-cache dispatcher, standing in for the memcached
// dispatcher the specification places out of scope.

package redisdispatcher

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/hexinfra/shrpx/internal/remotekey"
)

// Dispatcher wraps a *redis.Client as a remotekey.Dispatcher.
type Dispatcher struct {
	client *redis.Client
}

func New(client *redis.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Get issues a logical GET. redis.Nil (key absent) is reported as
// remotekey.ErrNotFound; every other client error is a network error.
func (d *Dispatcher) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := d.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, remotekey.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}
