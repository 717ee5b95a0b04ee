// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package ticketkey

// Set is an ordered, non-empty, immutable sequence of Keys. Position 0 is
// the active encryption key; positions 1..N-1 are decryption-only.
// Position len(Set)-1, when there is more than one key, previews the next
// active key (see the rotator package). A Set is never mutated in place —
// rotations and fetches produce a new Set and publish it by reference.
type Set struct {
	keys []*Key
}

// NewSet builds a Set from keys, position 0 first. keys must be non-empty;
// NewSet panics otherwise, matching invariant 1 of the data model (a Set is
// never constructed empty — callers that have nothing to publish simply
// don't publish).
func NewSet(keys ...*Key) *Set {
	if len(keys) == 0 {
		panic("ticketkey: a Set must contain at least one key")
	}
	return &Set{keys: append([]*Key(nil), keys...)}
}

// Len returns the number of keys in s.
func (s *Set) Len() int { return len(s.keys) }

// Active returns the position-0 encryption key.
func (s *Set) Active() *Key { return s.keys[0] }

// At returns the key at position i (0 <= i < Len()).
func (s *Set) At(i int) *Key { return s.keys[i] }

// Keys returns the ordered keys of s. The returned slice must not be
// mutated by the caller; it aliases s's internal storage.
func (s *Set) Keys() []*Key { return s.keys }

// FindByName returns the key whose name matches, used when decrypting a
// session ticket to pick the right decryption-only key.
func (s *Set) FindByName(name [NameSize]byte) (*Key, bool) {
	for _, k := range s.keys {
		if k.name == name {
			return k, true
		}
	}
	return nil, false
}
