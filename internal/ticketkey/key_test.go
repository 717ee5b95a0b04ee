// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package ticketkey

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		cipher Cipher
	}{
		{"aes128", AES128CBC},
		{"aes256", AES256CBC},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gen := NewGenerator(c.cipher)
			key, err := gen.Generate()
			require.NoError(t, err)

			blob := key.Pack()
			require.Equal(t, c.cipher.PackedLen(), len(blob))

			got, ok := Unpack(blob)
			require.True(t, ok)
			require.Equal(t, key.Name(), got.Name())
			require.True(t, bytes.Equal(key.EncKey(), got.EncKey()))
			require.True(t, bytes.Equal(key.HMACKey(), got.HMACKey()))
			require.Equal(t, key.Cipher(), got.Cipher())

			require.True(t, bytes.Equal(blob, got.Pack()))
		})
	}
}

func TestUnpackRejectsUnknownLength(t *testing.T) {
	_, ok := Unpack(make([]byte, 47))
	require.False(t, ok)
}

func TestSetInvariants(t *testing.T) {
	gen := NewGenerator(AES128CBC)
	k1, _ := gen.Generate()
	set := NewSet(k1)
	require.Equal(t, 1, set.Len())
	require.Equal(t, k1, set.Active())

	k2, _ := gen.Generate()
	set2 := NewSet(k2, k1)
	require.Equal(t, 2, set2.Len())
	require.Equal(t, k2, set2.Active())
	require.Equal(t, k1, set2.At(1))

	found, ok := set2.FindByName(k1.Name())
	require.True(t, ok)
	require.Equal(t, k1, found)
}

func TestNewSetPanicsOnEmpty(t *testing.T) {
	defer func() {
		require.NotNil(t, recover())
	}()
	NewSet()
}
