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

package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
)

// HashFunc folds two child hashes into a parent hash; Pedersen for the
// contracts/storage tries, Poseidon for the classes trie, per spec.md §3.
type HashFunc func(a, b common.Felt) common.Felt

// PedersenHash and PoseidonHash are the two HashFunc instances the three
// tries are built with (contracts/storage use Pedersen, classes uses
// Poseidon).
func PedersenHash(a, b common.Felt) common.Felt { return common.Pedersen(a, b) }
func PoseidonHash(a, b common.Felt) common.Felt { return common.Poseidon(a, b) }

// Trie is one revision-aware sparse Merkle trie instance bound to an RwTx.
// Every Commit allocates fresh node ids for the path it touches and leaves
// every previously-committed node untouched, so a root captured at block
// n remains walkable forever (spec.md §3 invariant 5).
type Trie struct {
	id     byte
	sub    []byte // contract address for a per-contract storage trie, nil otherwise
	table  string
	hash   HashFunc
	tx     kv.Tx // only Commit needs tx to also be a kv.RwTx
	nextID NodeID

	root    NodeID
	rootSet bool

	dirty map[NodeID]node // newly allocated nodes pending flush, keyed post-allocation
}

// Trie id tags, used as the first byte of every node/root key so the three
// tries can, if ever colocated, never collide.
const (
	TrieContracts byte = 1
	TrieStorage   byte = 2
	TrieClasses   byte = 3
)

// Open loads the singleton contracts or classes trie bound to table,
// starting from the root committed at block startBlock (or an empty trie
// if startBlock is nil). tx only needs read access (kv.Tx); Commit requires
// it to additionally be a kv.RwTx.
func Open(tx kv.Tx, id byte, table string, hash HashFunc, startBlock *uint64) (*Trie, error) {
	return OpenSub(tx, id, table, hash, nil, startBlock)
}

// OpenSub loads the per-contract storage trie for contract address sub.
// Every contract's storage trie shares the TrieNodesStorage node arena
// (node ids are unique across the whole table) but has its own root
// pointer series, keyed by sub, so each contract's history is independent.
func OpenSub(tx kv.Tx, id byte, table string, hash HashFunc, sub []byte, startBlock *uint64) (*Trie, error) {
	t := &Trie{id: id, sub: sub, table: table, hash: hash, tx: tx, dirty: make(map[NodeID]node)}

	seq, err := tx.Get(kv.Sequence, []byte(table))
	if err != nil {
		return nil, err
	}
	if len(seq) == 8 {
		t.nextID = NodeID(binary.BigEndian.Uint64(seq)) + 1
	} else {
		t.nextID = 1
	}

	if startBlock != nil {
		rk := rootKey(id, sub, *startBlock)
		v, err := tx.Get(table, rk)
		if err != nil {
			return nil, err
		}
		if len(v) == 8 {
			t.root = NodeID(binary.BigEndian.Uint64(v))
			t.rootSet = true
		}
	}
	return t, nil
}

func (t *Trie) alloc(n node) NodeID {
	id := t.nextID
	t.nextID++
	t.dirty[id] = n
	return id
}

func (t *Trie) getNode(id NodeID) (node, error) {
	if n, ok := t.dirty[id]; ok {
		return n, nil
	}
	v, err := t.tx.Get(t.table, nodeKey(t.id, t.sub, id))
	if err != nil {
		return node{}, err
	}
	if v == nil {
		return node{}, fmt.Errorf("trie: dangling node reference %d", id)
	}
	return decodeNode(v)
}

// Insert sets key's value at the current uncommitted revision.
func (t *Trie) Insert(key common.Felt, value common.Felt) error {
	path := pathBits(key)
	newRoot, err := t.insert(t.root, t.rootSet, path, value)
	if err != nil {
		return err
	}
	t.root = newRoot
	t.rootSet = true
	return nil
}

func (t *Trie) insert(id NodeID, exists bool, path []bool, value common.Felt) (NodeID, error) {
	if !exists {
		// Empty subtree: a single edge spanning the whole remaining path,
		// terminating in a leaf.
		leaf := t.alloc(node{kind: kindLeaf, leafValue: value})
		if len(path) == 0 {
			return leaf, nil
		}
		return t.alloc(node{kind: kindEdge, edgePath: append([]bool(nil), path...), edgeChild: leaf}), nil
	}

	n, err := t.getNode(id)
	if err != nil {
		return NilNode, err
	}

	switch n.kind {
	case kindLeaf:
		// Remaining path must be empty: we've consumed every bit to reach
		// this unique key.
		return t.alloc(node{kind: kindLeaf, leafValue: value}), nil

	case kindBinary:
		if len(path) == 0 {
			return NilNode, fmt.Errorf("trie: path exhausted at binary node")
		}
		bit, rest := path[0], path[1:]
		left, right := n.left, n.right
		if bit {
			newRight, err := t.insert(right, right != NilNode, rest, value)
			if err != nil {
				return NilNode, err
			}
			right = newRight
		} else {
			newLeft, err := t.insert(left, left != NilNode, rest, value)
			if err != nil {
				return NilNode, err
			}
			left = newLeft
		}
		return t.alloc(node{kind: kindBinary, left: left, right: right}), nil

	case kindEdge:
		common_ := commonPrefixLen(n.edgePath, path)
		switch {
		case common_ == len(n.edgePath) && common_ == len(path):
			// Exact match: path fully consumed by this edge, re-point to a
			// fresh leaf.
			leaf := t.alloc(node{kind: kindLeaf, leafValue: value})
			return t.alloc(node{kind: kindEdge, edgePath: append([]bool(nil), n.edgePath...), edgeChild: leaf}), nil

		case common_ == len(n.edgePath):
			// This edge's whole path is a prefix of the new path; descend
			// into its child with the remaining suffix.
			newChild, err := t.insert(n.edgeChild, true, path[common_:], value)
			if err != nil {
				return NilNode, err
			}
			return t.alloc(node{kind: kindEdge, edgePath: append([]bool(nil), n.edgePath...), edgeChild: newChild}), nil

		default:
			// Diverges partway through the edge: split into [common prefix
			// edge] -> binary(old remainder, new remainder).
			oldRest := n.edgePath[common_+1:]
			oldBranchBit := n.edgePath[common_]
			oldSubtree := n.edgeChild
			if len(oldRest) > 0 {
				oldSubtree = t.alloc(node{kind: kindEdge, edgePath: append([]bool(nil), oldRest...), edgeChild: n.edgeChild})
			}

			newRestPath := path[common_:]
			newRest := newRestPath[1:]
			newLeaf := t.alloc(node{kind: kindLeaf, leafValue: value})
			var newSubtree NodeID
			if len(newRest) > 0 {
				newSubtree = t.alloc(node{kind: kindEdge, edgePath: append([]bool(nil), newRest...), edgeChild: newLeaf})
			} else {
				newSubtree = newLeaf
			}

			var branch node
			if oldBranchBit {
				branch = node{kind: kindBinary, left: newSubtree, right: oldSubtree}
			} else {
				branch = node{kind: kindBinary, left: oldSubtree, right: newSubtree}
			}
			// oldBranchBit selects which side the *old* subtree is on; if
			// oldBranchBit is true the old path bit was 1 (right), so the
			// new path (bit 0) must go left -- the branch above is built
			// from the bit actually observed on the old edge.
			branchID := t.alloc(branch)
			if common_ == 0 {
				return branchID, nil
			}
			return t.alloc(node{kind: kindEdge, edgePath: append([]bool(nil), n.edgePath[:common_]...), edgeChild: branchID}), nil
		}

	default:
		return NilNode, fmt.Errorf("trie: unknown node kind %d", n.kind)
	}
}

func commonPrefixLen(a, b []bool) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// hashOf computes a node's commitment. Leaf hash is the value itself;
// binary hash folds children with the trie's HashFunc; edge hash folds the
// child hash with the path (as a felt) and adds the path length, per the
// canonical Starknet binary-trie node-hashing scheme.
func (t *Trie) hashOf(id NodeID) (common.Felt, error) {
	if id == NilNode {
		return common.Felt{}, nil
	}
	n, err := t.getNode(id)
	if err != nil {
		return common.Felt{}, err
	}
	switch n.kind {
	case kindLeaf:
		return n.leafValue, nil
	case kindBinary:
		l, err := t.hashOf(n.left)
		if err != nil {
			return common.Felt{}, err
		}
		r, err := t.hashOf(n.right)
		if err != nil {
			return common.Felt{}, err
		}
		return t.hash(l, r), nil
	case kindEdge:
		childHash, err := t.hashOf(n.edgeChild)
		if err != nil {
			return common.Felt{}, err
		}
		pathFelt := bitsToFelt(n.edgePath)
		folded := t.hash(childHash, pathFelt)
		return folded.Add(common.FeltFromUint64(uint64(len(n.edgePath)))), nil
	default:
		return common.Felt{}, fmt.Errorf("trie: unknown node kind %d", n.kind)
	}
}

func bitsToFelt(bits []bool) common.Felt {
	if len(bits) == 0 {
		return common.Felt{}
	}
	acc := common.FeltFromUint64(0)
	two := common.FeltFromUint64(2)
	for _, b := range bits {
		acc = acc.Mul(two)
		if b {
			acc = acc.Add(common.FeltFromUint64(1))
		}
	}
	return acc
}

// Root returns the current uncommitted revision's root hash.
func (t *Trie) Root() (common.Felt, error) {
	return t.hashOf(t.root)
}

// Get returns the value stored at key in this trie's current revision
// (whatever root Open loaded), or the zero felt if key was never inserted.
// Unlike Insert it never allocates nodes, so it is safe to call against a
// trie opened at a historical block purely to read it back.
func (t *Trie) Get(key common.Felt) (common.Felt, error) {
	return t.get(t.root, t.rootSet, pathBits(key))
}

func (t *Trie) get(id NodeID, exists bool, path []bool) (common.Felt, error) {
	if !exists {
		return common.Felt{}, nil
	}
	n, err := t.getNode(id)
	if err != nil {
		return common.Felt{}, err
	}
	switch n.kind {
	case kindLeaf:
		return n.leafValue, nil
	case kindBinary:
		if len(path) == 0 {
			return common.Felt{}, fmt.Errorf("trie: path exhausted at binary node")
		}
		bit, rest := path[0], path[1:]
		if bit {
			return t.get(n.right, n.right != NilNode, rest)
		}
		return t.get(n.left, n.left != NilNode, rest)
	case kindEdge:
		if len(path) < len(n.edgePath) || commonPrefixLen(n.edgePath, path) != len(n.edgePath) {
			return common.Felt{}, nil
		}
		return t.get(n.edgeChild, true, path[len(n.edgePath):])
	default:
		return common.Felt{}, fmt.Errorf("trie: unknown node kind %d", n.kind)
	}
}

// Commit flushes every node allocated since Open (or the previous Commit)
// and stamps the new root under blockNumber. It never rewrites an
// existing node: historical proofs fetched before this Commit stay valid.
func (t *Trie) Commit(blockNumber uint64) (common.Felt, error) {
	rw, ok := t.tx.(kv.RwTx)
	if !ok {
		return common.Felt{}, fmt.Errorf("trie: Commit requires a writable transaction")
	}

	for id, n := range t.dirty {
		if err := rw.Put(t.table, nodeKey(t.id, t.sub, id), n.encode()); err != nil {
			return common.Felt{}, err
		}
	}
	t.dirty = make(map[NodeID]node)

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(t.nextID-1))
	if err := rw.Put(kv.Sequence, []byte(t.table), seq[:]); err != nil {
		return common.Felt{}, err
	}

	root, err := t.hashOf(t.root)
	if err != nil {
		return common.Felt{}, err
	}

	var rootBuf [8]byte
	binary.BigEndian.PutUint64(rootBuf[:], uint64(t.root))
	if err := rw.Put(t.table, rootKey(t.id, t.sub, blockNumber), rootBuf[:]); err != nil {
		return common.Felt{}, err
	}
	return root, nil
}
