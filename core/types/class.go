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

package types

import "github.com/katana-sequencer/katana/katanalib/common"

// ClassKind tags a ContractClass as Cairo 0 ("Legacy") or Cairo 1 ("Sierra"),
// modeled as a tagged variant per spec.md §9 rather than an interface
// hierarchy.
type ClassKind uint8

const (
	ClassLegacy ClassKind = iota
	ClassSierra
)

// EntryPoint binds a selector to an offset into the class's bytecode (or,
// for Sierra, an index into the Sierra program's function table).
type EntryPoint struct {
	Selector common.Selector
	Offset   uint64
}

// EntryPoints groups a class's entry points by kind.
type EntryPoints struct {
	Constructor []EntryPoint
	External    []EntryPoint
	L1Handler   []EntryPoint
}

// ContractClass is a tagged Legacy/Sierra class definition.
type ContractClass struct {
	Kind ClassKind

	// Legacy (Cairo 0).
	Program []byte // serialized Cairo 0 JSON program

	// Sierra (Cairo 1).
	SierraProgram []common.Felt
	ABI           string
	ContractClassVersion string

	EntryPoints EntryPoints
}

// Hash is the deterministic class hash: Poseidon over the entry-point
// table, program, and ABI, per spec.md §3.
func (c ContractClass) Hash() common.ClassHash {
	entryPointFelts := func(eps []EntryPoint) common.Felt {
		elems := make([]common.Felt, 0, len(eps)*2)
		for _, ep := range eps {
			elems = append(elems, ep.Selector.Felt, common.FeltFromUint64(ep.Offset))
		}
		return common.PedersenArray(elems...)
	}

	switch c.Kind {
	case ClassLegacy:
		f := common.Poseidon(
			common.FeltFromUint64(uint64(ClassLegacy)),
			entryPointFelts(c.EntryPoints.Constructor),
			entryPointFelts(c.EntryPoints.External),
			entryPointFelts(c.EntryPoints.L1Handler),
			common.PedersenArray(common.FeltFromBytes(c.Program)),
		)
		return common.ClassHashFromFelt(f)
	case ClassSierra:
		f := common.Poseidon(
			common.FeltFromUint64(uint64(ClassSierra)),
			entryPointFelts(c.EntryPoints.Constructor),
			entryPointFelts(c.EntryPoints.External),
			entryPointFelts(c.EntryPoints.L1Handler),
			common.PedersenArray(c.SierraProgram...),
			common.FeltFromBytes([]byte(c.ABI)),
		)
		return common.ClassHashFromFelt(f)
	default:
		panic("unknown class kind")
	}
}

// CasmClass is the compiled artifact a Sierra class compiles to, addressed
// by its own compiled class hash.
type CasmClass struct {
	Bytecode        []common.Felt
	EntryPoints     EntryPoints
	CompilerVersion string
}

// Hash is the compiled class hash: Poseidon over the compiler version
// followed by the CASM bytecode.
func (c CasmClass) Hash() common.CompiledClassHash {
	f := common.Poseidon(append([]common.Felt{common.FeltFromBytes([]byte(c.CompilerVersion))}, c.Bytecode...)...)
	return common.CompiledClassHashFromFelt(f)
}
