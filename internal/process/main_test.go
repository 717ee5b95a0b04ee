// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package process

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies a full WorkerProcess.Run leaves no goroutine behind
// (acceptor loops, worker loops, the IPC reader, and whichever ticket-key
// source was wired) once it returns.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
