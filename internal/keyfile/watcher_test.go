// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package keyfile

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hexinfra/shrpx/internal/logger"
	"github.com/hexinfra/shrpx/internal/ticketkey"
)

type fakePublisher struct {
	sets chan *ticketkey.Set
}

func (p *fakePublisher) PublishTicketKeys(s *ticketkey.Set) { p.sets <- s }

type fakeMetrics struct {
	outcomes chan bool
}

func (m *fakeMetrics) ObserveKeyFileReload(ok bool) { m.outcomes <- ok }

func TestWatcherReloadsOnFileRewrite(t *testing.T) {
	dir := t.TempDir()
	gen := ticketkey.NewGenerator(ticketkey.AES128CBC)
	k1, err := gen.Generate()
	require.NoError(t, err)
	path := writeKeyFile(t, dir, "1.key", k1)

	log, _ := logger.New("")
	defer log.Close()
	pub := &fakePublisher{sets: make(chan *ticketkey.Set, 2)}
	metrics := &fakeMetrics{outcomes: make(chan bool, 2)}
	w := NewWatcher([]string{path}, pub, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	k2, err := gen.Generate()
	require.NoError(t, err)
	// give the watcher goroutine time to register with fsnotify before the
	// rewrite, mirroring the setup delay any fsnotify-based test needs.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, k2.Pack(), 0o600))

	select {
	case set := <-pub.sets:
		require.Equal(t, k2.Name(), set.Active().Name())
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not republish after rewrite")
	}
	require.True(t, <-metrics.outcomes)
}
