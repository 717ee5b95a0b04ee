// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Privilege drop, performed exactly once after socket setup and before the
// IPC reader is armed (spec §4.7).
//
// There is no third-party library anywhere in the example pack for
// dropping OS privileges (gopsutil, the closest OS-facing dependency in
// the corpus, only reads process state); this is squarely
// syscall/os-standard-library territory on every platform Go targets, so
// it is implemented directly against syscall and os/user rather than
// invented as a bespoke package.
package privilege

import (
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// ErrStillPrivileged is returned when a post-drop setuid(0) unexpectedly
// succeeds, meaning the process retained root capability.
var ErrStillPrivileged = errors.New("privilege: setuid(0) succeeded after drop, still have root privileges")

// Config carries the fields of spec §6 relevant to privilege dropping.
type Config struct {
	UID  int
	GID  int
	User string
}

// indirection points for tests; production code always uses the real
// syscalls.
var (
	geteuid  = os.Geteuid
	setgid   = syscall.Setgid
	setuid   = syscall.Setuid
	groupIDs = func(username string) ([]int, error) {
		u, err := user.Lookup(username)
		if err != nil {
			return nil, err
		}
		raw, err := u.GroupIds()
		if err != nil {
			return nil, err
		}
		gids := make([]int, 0, len(raw))
		for _, g := range raw {
			n, err := strconv.Atoi(g)
			if err != nil {
				continue
			}
			gids = append(gids, n)
		}
		return gids, nil
	}
	setgroups = syscall.Setgroups
)

// Drop performs the sequence: initgroups, setgid, setuid, then verifies a
// subsequent setuid(0) fails. It is a no-op unless the effective UID is 0
// and cfg.UID is non-zero. Any individual failure aborts the sequence and
// returns a wrapped error; per spec §4.7 and §9, the caller is expected to
// treat this as a fatal SetupError and exit the process non-zero rather
// than attempt to unwind.
func Drop(cfg Config) error {
	if geteuid() != 0 || cfg.UID == 0 {
		return nil
	}

	gids, err := groupIDs(cfg.User)
	if err != nil {
		return errors.Wrap(err, "privilege: resolve supplementary groups")
	}
	if err := setgroups(gids); err != nil {
		return errors.Wrap(err, "privilege: initgroups")
	}
	if err := setgid(cfg.GID); err != nil {
		return errors.Wrap(err, "privilege: setgid")
	}
	if err := setuid(cfg.UID); err != nil {
		return errors.Wrap(err, "privilege: setuid")
	}
	if err := setuid(0); err == nil {
		return ErrStillPrivileged
	}
	return nil
}
