// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package rotator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/hexinfra/shrpx/internal/logger"
	"github.com/hexinfra/shrpx/internal/ticketkey"
)

type fakePublisher struct {
	sets []*ticketkey.Set
}

func (p *fakePublisher) PublishTicketKeys(s *ticketkey.Set) { p.sets = append(p.sets, s) }

// TestRotationSizeSequence is scenario S3 from spec §8: H=3, four ticks,
// expected sizes 1, 2, 3, 3; each position-1 of tick k equals position-0 of
// tick k-1.
func TestRotationSizeSequence(t *testing.T) {
	log, err := logger.New("")
	require.NoError(t, err)
	defer log.Close()

	fc := clock.NewMock()
	pub := &fakePublisher{}
	r := New(ticketkey.NewGenerator(ticketkey.AES128CBC), 3*time.Hour, pub, nil, log, fc)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// initial synchronous tick happens inside Run before the ticker is
	// even created; give the goroutine a moment to execute it.
	require.Eventually(t, func() bool { return len(pub.sets) == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		fc.Add(Interval)
		require.Eventually(t, func() bool { return len(pub.sets) == i+2 }, time.Second, time.Millisecond)
	}

	cancel()
	<-done

	wantSizes := []int{1, 2, 3, 3}
	for i, set := range pub.sets {
		require.Equal(t, wantSizes[i], set.Len(), "tick %d", i)
	}
	for k := 1; k < len(pub.sets); k++ {
		require.Equal(t, pub.sets[k-1].Active().Name(), pub.sets[k].At(1).Name(), "position-1 of tick %d must equal position-0 of tick %d", k, k-1)
		require.NotEqual(t, pub.sets[k-1].Active().Name(), pub.sets[k].Active().Name(), "each new position-0 must be distinct")
	}
}

func TestRetentionWindowClampedToOne(t *testing.T) {
	log, _ := logger.New("")
	defer log.Close()
	r := New(ticketkey.NewGenerator(ticketkey.AES128CBC), 30*time.Minute, &fakePublisher{}, nil, log, clock.NewMock())
	require.Equal(t, 1, r.retentionWindow())
}
