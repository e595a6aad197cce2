// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash provides stable digests for coverage bitmaps, bug signatures
// and seed payloads. Digests key scheduler buckets, so they must be
// deterministic across runs and independent of map iteration order.
package hash

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

type Sig [sha1.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

func String(pieces ...[]byte) string {
	sig := Hash(pieces...)
	return sig.String()
}

func (sig *Sig) String() string {
	return hex.EncodeToString((*sig)[:])
}

// Short returns the first 16 hex chars of the digest, enough to key buckets.
func (sig *Sig) Short() string {
	return hex.EncodeToString((*sig)[:8])
}

// Ints digests an integer sequence (e.g. a coverage bitmap).
func Ints(vals []int) Sig {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return Hash(buf)
}

// Object digests an arbitrary value via canonical JSON (map keys sorted).
// Used for structured bug signatures.
func Object(obj any) Sig {
	data, err := json.Marshal(canonicalize(obj))
	if err != nil {
		// Signatures come from JSON-decoded worker messages,
		// so marshalling back cannot fail.
		panic(fmt.Sprintf("failed to marshal %#v: %v", obj, err))
	}
	return Hash(data)
}

func canonicalize(obj any) any {
	m, ok := obj.(map[string]any)
	if !ok {
		return obj
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, canonicalize(m[k]))
	}
	return out
}

func FromString(str string) (Sig, error) {
	bin, err := hex.DecodeString(str)
	if err != nil {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': %w", str, err)
	}
	if len(bin) != len(Sig{}) {
		return Sig{}, fmt.Errorf("failed to decode sig '%v': bad len", str)
	}
	var sig Sig
	copy(sig[:], bin)
	return sig, nil
}
