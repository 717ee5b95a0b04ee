// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package keyfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hexinfra/shrpx/internal/ticketkey"
)

func writeKeyFile(t *testing.T, dir, name string, key *ticketkey.Key) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, key.Pack(), 0o600))
	return p
}

func TestLoadOrdersPathsActiveFirst(t *testing.T) {
	dir := t.TempDir()
	gen := ticketkey.NewGenerator(ticketkey.AES128CBC)
	k1, err := gen.Generate()
	require.NoError(t, err)
	k2, err := gen.Generate()
	require.NoError(t, err)

	p1 := writeKeyFile(t, dir, "1.key", k1)
	p2 := writeKeyFile(t, dir, "2.key", k2)

	set, err := Load([]string{p1, p2})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	require.Equal(t, k1.Name(), set.Active().Name())
	require.Equal(t, k2.Name(), set.At(1).Name())
}

func TestLoadRejectsBadLength(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.key")
	require.NoError(t, os.WriteFile(p, []byte{0x01, 0x02, 0x03}, 0o600))

	_, err := Load([]string{p})
	require.Error(t, err)
}

func TestLoadRejectsEmptyPathList(t *testing.T) {
	_, err := Load(nil)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load([]string{"/nonexistent/path/to/a.key"})
	require.Error(t, err)
}
