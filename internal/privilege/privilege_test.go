// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package privilege

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func withFakes(t *testing.T, euid int, setuidErrs []error) {
	t.Helper()
	origEuid, origSetgid, origSetuid, origGroups, origSetgroups := geteuid, setgid, setuid, groupIDs, setgroups
	t.Cleanup(func() {
		geteuid, setgid, setuid, groupIDs, setgroups = origEuid, origSetgid, origSetuid, origGroups, origSetgroups
	})

	geteuid = func() int { return euid }
	groupIDs = func(string) ([]int, error) { return []int{100}, nil }
	setgroups = func([]int) error { return nil }
	setgid = func(int) error { return nil }

	call := 0
	setuid = func(int) error {
		var err error
		if call < len(setuidErrs) {
			err = setuidErrs[call]
		}
		call++
		return err
	}
}

func TestDropNoopWhenNotRoot(t *testing.T) {
	withFakes(t, 1000, nil)
	require.NoError(t, Drop(Config{UID: 500, GID: 500, User: "nobody"}))
}

func TestDropNoopWhenConfiguredUIDIsZero(t *testing.T) {
	withFakes(t, 0, nil)
	require.NoError(t, Drop(Config{UID: 0, GID: 0, User: "root"}))
}

func TestDropSucceeds(t *testing.T) {
	// first setuid(uid) succeeds (nil), second setuid(0) must fail.
	withFakes(t, 0, []error{nil, errors.New("operation not permitted")})
	require.NoError(t, Drop(Config{UID: 500, GID: 500, User: "nobody"}))
}

func TestDropDetectsRetainedPrivilege(t *testing.T) {
	// second setuid(0) unexpectedly succeeds.
	withFakes(t, 0, []error{nil, nil})
	err := Drop(Config{UID: 500, GID: 500, User: "nobody"})
	require.ErrorIs(t, err, ErrStillPrivileged)
}

func TestDropFailsOnSetuid(t *testing.T) {
	withFakes(t, 0, []error{errors.New("no such user")})
	err := Drop(Config{UID: 500, GID: 500, User: "nobody"})
	require.Error(t, err)
}
