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

// Package trie implements the Bonsai-style sparse Merkle tries (contracts,
// storage, classes) that sit on top of the C1 key-value store: a 251-level
// binary patricia trie with edge-node path compression, per spec.md §3/§4.2.
// Parent back-references are avoided the way spec.md §9 directs: every node
// refers to its children by an integer NodeID, an index into the owning
// trie's node table, never by a long-lived pointer.
package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/katana-sequencer/katana/katanalib/common"
)

// Height is the maximum path length, matching the reference Starknet trie
// height: pathBits reads the low 251 bits of a key. FieldPrime is slightly
// above 2^251, so a key at or above 2^251 shares its path with the same key
// with bit 251 cleared.
const Height = 251

// NodeID indexes a node within one trie's node table. The zero value,
// NilNode, marks an absent child.
type NodeID uint64

const NilNode NodeID = 0

type nodeKind uint8

const (
	kindBinary nodeKind = iota
	kindEdge
	kindLeaf
)

// node is the arena-of-indices representation persisted into the
// TrieNodes* tables: children are NodeIDs, never pointers or node hashes,
// so a node can be read without reading its children.
type node struct {
	kind nodeKind

	// kindBinary
	left, right NodeID

	// kindEdge
	edgePath   []bool // path bits, most-significant first
	edgeChild  NodeID

	// kindLeaf
	leafValue common.Felt
}

// encode renders a node as a length-prefixed binary record for storage.
func (n node) encode() []byte {
	buf := []byte{byte(n.kind)}
	switch n.kind {
	case kindBinary:
		buf = appendU64(buf, uint64(n.left))
		buf = appendU64(buf, uint64(n.right))
	case kindEdge:
		buf = appendU64(buf, uint64(len(n.edgePath)))
		for i := 0; i < len(n.edgePath); i += 8 {
			var b byte
			for j := 0; j < 8 && i+j < len(n.edgePath); j++ {
				if n.edgePath[i+j] {
					b |= 1 << uint(7-j)
				}
			}
			buf = append(buf, b)
		}
		buf = appendU64(buf, uint64(n.edgeChild))
	case kindLeaf:
		v := n.leafValue.Bytes()
		buf = append(buf, v[:]...)
	default:
		panic(fmt.Sprintf("unknown node kind %d", n.kind))
	}
	return buf
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func decodeNode(b []byte) (node, error) {
	if len(b) == 0 {
		return node{}, fmt.Errorf("empty node record")
	}
	n := node{kind: nodeKind(b[0])}
	b = b[1:]
	readU64 := func() (uint64, error) {
		if len(b) < 8 {
			return 0, fmt.Errorf("truncated node record")
		}
		v := binary.BigEndian.Uint64(b[:8])
		b = b[8:]
		return v, nil
	}
	switch n.kind {
	case kindBinary:
		l, err := readU64()
		if err != nil {
			return n, err
		}
		r, err := readU64()
		if err != nil {
			return n, err
		}
		n.left, n.right = NodeID(l), NodeID(r)
	case kindEdge:
		length, err := readU64()
		if err != nil {
			return n, err
		}
		nBytes := int((length + 7) / 8)
		if len(b) < nBytes {
			return n, fmt.Errorf("truncated edge path")
		}
		path := make([]bool, length)
		for i := uint64(0); i < length; i++ {
			byteIdx := i / 8
			bitIdx := 7 - (i % 8)
			path[i] = b[byteIdx]&(1<<bitIdx) != 0
		}
		b = b[nBytes:]
		n.edgePath = path
		child, err := readU64()
		if err != nil {
			return n, err
		}
		n.edgeChild = NodeID(child)
	case kindLeaf:
		if len(b) < common.FeltBytes {
			return n, fmt.Errorf("truncated leaf value")
		}
		n.leafValue = common.FeltFromBytes(b[:common.FeltBytes])
	default:
		return n, fmt.Errorf("unknown node kind %d", n.kind)
	}
	return n, nil
}

// nodeKey is the TrieNodes* table key for node id within a trie identified
// by trieID and, for a per-contract storage trie, sub (the contract
// address). Every per-contract storage trie shares one TrieNodesStorage
// table and allocates NodeIDs from the same counter, so sub must be part
// of the key: without it, two contracts' storage tries open against the
// same uncommitted RwTx allocate colliding NodeIDs and the second
// CommitTries call overwrites the first contract's nodes out from under
// it. The singleton contracts/classes tries pass a nil sub and keep the
// same one-byte-tag-plus-id key as before.
func nodeKey(trieID byte, sub []byte, id NodeID) []byte {
	k := make([]byte, 0, 1+len(sub)+8)
	k = append(k, trieID)
	k = append(k, sub...)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(id))
	return append(k, idBuf[:]...)
}

// rootKey is the key under which a trie's per-block root is recorded:
// trieID tag + sub (the contract address for a per-contract storage trie,
// empty for the singleton contracts/classes tries) + big-endian block
// number.
func rootKey(trieID byte, sub []byte, blockNumber uint64) []byte {
	k := make([]byte, 0, 1+len(sub)+8)
	k = append(k, trieID)
	k = append(k, sub...)
	var bn [8]byte
	binary.BigEndian.PutUint64(bn[:], blockNumber)
	return append(k, bn[:]...)
}

// pathBits returns the Height most-significant bits of f's big-endian
// value, root-first.
func pathBits(f common.Felt) []bool {
	b := f.Big()
	bits := make([]bool, Height)
	for i := 0; i < Height; i++ {
		// bit (Height-1-i) from the top
		bits[i] = b.Bit(Height-1-i) == 1
	}
	return bits
}
