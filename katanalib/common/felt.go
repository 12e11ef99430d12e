// Copyright 2024 The Katana Authors
// This file is part of Katana.
//
// Katana is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Katana is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Katana. If not, see <http://www.gnu.org/licenses/>.

// Package common holds the primitive value types shared across the whole
// repository: field elements and the address/hash newtypes derived from them.
package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// FeltBytes is the canonical 32-byte big-endian serialisation length of a
// field element modulo the Stark prime.
const FeltBytes = 32

// FieldPrime is the modulus of the Starknet scalar field:
// 2^251 + 17*2^192 + 1.
var FieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	t := new(big.Int).Lsh(big.NewInt(17), 192)
	p.Add(p, t)
	p.Add(p, big.NewInt(1))
	return p
}()

// Felt is an unsigned integer modulo FieldPrime, canonically serialised as
// 32 bytes big-endian. The zero value is the field element 0.
type Felt struct {
	b [FeltBytes]byte
}

// FeltFromBig reduces x modulo FieldPrime and returns the corresponding Felt.
func FeltFromBig(x *big.Int) Felt {
	var r big.Int
	r.Mod(x, FieldPrime)
	var f Felt
	r.FillBytes(f.b[:])
	return f
}

// FeltFromUint64 returns the Felt representing the given uint64.
func FeltFromUint64(v uint64) Felt {
	var f Felt
	for i := 0; i < 8; i++ {
		f.b[FeltBytes-1-i] = byte(v >> (8 * i))
	}
	return f
}

// FeltFromBytes interprets b as a big-endian integer, reducing modulo
// FieldPrime if it is out of range. b may be shorter than 32 bytes.
func FeltFromBytes(b []byte) Felt {
	x := new(big.Int).SetBytes(b)
	return FeltFromBig(x)
}

// MustFeltFromHex parses a "0x..." hex string into a Felt, panicking on
// malformed input. Intended for constants and tests.
func MustFeltFromHex(s string) Felt {
	f, err := FeltFromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FeltFromHex parses a "0x..." (or bare hex) string into a Felt.
func FeltFromHex(s string) (Felt, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Felt{}, fmt.Errorf("invalid felt hex %q: %w", s, err)
	}
	if len(b) > FeltBytes {
		return Felt{}, errors.New("felt hex value exceeds 32 bytes")
	}
	var f Felt
	copy(f.b[FeltBytes-len(b):], b)
	return f, nil
}

// Bytes returns the canonical 32-byte big-endian encoding.
func (f Felt) Bytes() [FeltBytes]byte { return f.b }

// Slice returns the canonical encoding as a freshly allocated slice.
func (f Felt) Slice() []byte {
	out := make([]byte, FeltBytes)
	copy(out, f.b[:])
	return out
}

// Big returns the big.Int value of f.
func (f Felt) Big() *big.Int { return new(big.Int).SetBytes(f.b[:]) }

// IsZero reports whether f is the additive identity.
func (f Felt) IsZero() bool { return f == Felt{} }

// Cmp compares two field elements as unsigned big-endian integers.
func (f Felt) Cmp(o Felt) int {
	for i := 0; i < FeltBytes; i++ {
		if f.b[i] != o.b[i] {
			if f.b[i] < o.b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Add returns f+o mod FieldPrime.
func (f Felt) Add(o Felt) Felt {
	return FeltFromBig(new(big.Int).Add(f.Big(), o.Big()))
}

// Mul returns f*o mod FieldPrime.
func (f Felt) Mul(o Felt) Felt {
	return FeltFromBig(new(big.Int).Mul(f.Big(), o.Big()))
}

// String renders f as a 0x-prefixed hex string, trimmed of leading zeros.
func (f Felt) String() string {
	return "0x" + f.Big().Text(16)
}

// MarshalText implements encoding.TextMarshaler for JSON-RPC responses.
func (f Felt) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler for JSON-RPC requests.
func (f *Felt) UnmarshalText(text []byte) error {
	v, err := FeltFromHex(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
