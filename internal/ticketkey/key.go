// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// TLS session-ticket key material.

package ticketkey

import (
	"crypto/sha256"
	"fmt"
)

const NameSize = 16

// Cipher identifies the symmetric cipher a Key's enc_key is sized for.
type Cipher uint8

const (
	AES128CBC Cipher = iota
	AES256CBC
)

func (c Cipher) String() string {
	switch c {
	case AES128CBC:
		return "aes-128-cbc"
	case AES256CBC:
		return "aes-256-cbc"
	default:
		return "unknown"
	}
}

// EncKeyLen returns the encryption key length in bytes for c.
func (c Cipher) EncKeyLen() int {
	switch c {
	case AES128CBC:
		return 16
	case AES256CBC:
		return 32
	default:
		return 0
	}
}

// HMACKeyLen is fixed to the digest output length. This module only
// supports SHA-256, so it is always 32.
const HMACKeyLen = sha256.Size

// PackedLen is the on-wire length of a single key blob for c, as used by
// the remote-cache payload format (name + enc_key + hmac_key).
func (c Cipher) PackedLen() int {
	if n := c.EncKeyLen(); n > 0 {
		return NameSize + n + HMACKeyLen
	}
	return 0
}

// CipherFromPackedLen recovers the cipher implied by a remote-cache key
// blob length. Returns false if len does not match a supported cipher.
func CipherFromPackedLen(n int) (Cipher, bool) {
	switch n {
	case AES128CBC.PackedLen():
		return AES128CBC, true
	case AES256CBC.PackedLen():
		return AES256CBC, true
	default:
		return 0, false
	}
}

// Key is one immutable TLS session-ticket key. It is never mutated after
// construction; a Key is safe to share by reference across goroutines.
type Key struct {
	name    [NameSize]byte
	encKey  []byte // len == cipher.EncKeyLen()
	hmacKey []byte // len == HMACKeyLen
	cipher  Cipher
}

// New builds a Key from raw material. It panics if encKey or hmacKey are
// not sized for cipher — this is a construction-time invariant, not a
// runtime error a caller can recover from meaningfully.
func New(name [NameSize]byte, encKey, hmacKey []byte, cipher Cipher) *Key {
	if len(encKey) != cipher.EncKeyLen() {
		panic(fmt.Sprintf("ticketkey: enc key length %d does not fit cipher %s", len(encKey), cipher))
	}
	if len(hmacKey) != HMACKeyLen {
		panic(fmt.Sprintf("ticketkey: hmac key length %d, want %d", len(hmacKey), HMACKeyLen))
	}
	k := &Key{cipher: cipher}
	copy(k.name[:], name[:])
	k.encKey = append([]byte(nil), encKey...)
	k.hmacKey = append([]byte(nil), hmacKey...)
	return k
}

func (k *Key) Name() [NameSize]byte { return k.name }
func (k *Key) EncKey() []byte       { return k.encKey }
func (k *Key) HMACKey() []byte      { return k.hmacKey }
func (k *Key) Cipher() Cipher       { return k.cipher }

// Pack re-encodes k as the remote-cache wire blob: name || enc_key || hmac_key.
func (k *Key) Pack() []byte {
	buf := make([]byte, 0, NameSize+len(k.encKey)+len(k.hmacKey))
	buf = append(buf, k.name[:]...)
	buf = append(buf, k.encKey...)
	buf = append(buf, k.hmacKey...)
	return buf
}

// Unpack parses a remote-cache wire blob into a Key using the cipher implied
// by the blob length. Returns false if the length matches no known cipher.
func Unpack(blob []byte) (*Key, bool) {
	cipher, ok := CipherFromPackedLen(len(blob))
	if !ok {
		return nil, false
	}
	var name [NameSize]byte
	copy(name[:], blob[:NameSize])
	rest := blob[NameSize:]
	encKey := rest[:cipher.EncKeyLen()]
	hmacKey := rest[cipher.EncKeyLen():]
	return New(name, encKey, hmacKey, cipher), true
}
