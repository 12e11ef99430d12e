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

import "github.com/katana-sequencer/katana/katanalib/common"

// ProofNode is one node on a proof path, carrying enough of the node's
// shape to let a verifier recompute hashes without access to the trie
// itself.
type ProofNode struct {
	Kind      nodeKind
	LeafValue common.Felt
	EdgePath  []bool
	// Sibling is the pre-computed hash of the node NOT walked into (the
	// other binary child, or nothing for an edge/leaf node).
	Sibling *common.Felt
}

// MultiProof is a (proof_nodes, root) bundle sufficient to verify every
// requested key's leaf against root, per spec.md §4.2.
type MultiProof struct {
	Root  common.Felt
	Nodes map[common.Felt][]ProofNode // keyed by the felt key proven
}

// Prove walks from the trie's current root to each key in keys, recording
// the path of nodes (and, for binary nodes, the untaken sibling's hash) so
// a verifier can recompute the root from only the proof and the claimed
// leaf value.
func (t *Trie) Prove(keys []common.Felt) (MultiProof, error) {
	root, err := t.hashOf(t.root)
	if err != nil {
		return MultiProof{}, err
	}
	mp := MultiProof{Root: root, Nodes: make(map[common.Felt][]ProofNode, len(keys))}
	for _, key := range keys {
		path, err := t.provePath(t.root, pathBits(key))
		if err != nil {
			return MultiProof{}, err
		}
		mp.Nodes[key] = path
	}
	return mp, nil
}

func (t *Trie) provePath(id NodeID, path []bool) ([]ProofNode, error) {
	if id == NilNode {
		return []ProofNode{{Kind: kindLeaf, LeafValue: common.Felt{}}}, nil
	}
	n, err := t.getNode(id)
	if err != nil {
		return nil, err
	}
	switch n.kind {
	case kindLeaf:
		return []ProofNode{{Kind: kindLeaf, LeafValue: n.leafValue}}, nil
	case kindEdge:
		rest := path
		if len(n.edgePath) <= len(path) {
			rest = path[len(n.edgePath):]
		}
		tail, err := t.provePath(n.edgeChild, rest)
		if err != nil {
			return nil, err
		}
		self := ProofNode{Kind: kindEdge, EdgePath: append([]bool(nil), n.edgePath...)}
		return append([]ProofNode{self}, tail...), nil
	case kindBinary:
		if len(path) == 0 {
			return nil, errEmptyPathAtBinary
		}
		bit, rest := path[0], path[1:]
		var takenID, siblingID NodeID
		if bit {
			takenID, siblingID = n.right, n.left
		} else {
			takenID, siblingID = n.left, n.right
		}
		siblingHash, err := t.hashOf(siblingID)
		if err != nil {
			return nil, err
		}
		self := ProofNode{Kind: kindBinary, Sibling: &siblingHash}
		tail, err := t.provePath(takenID, rest)
		if err != nil {
			return nil, err
		}
		return append([]ProofNode{self}, tail...), nil
	default:
		return nil, errUnknownNodeKind
	}
}

// VerifyMultiProof recomputes the root implied by proof for key with the
// claimed leaf value, and reports whether it matches proof.Root.
func VerifyMultiProof(hash HashFunc, proof MultiProof, key common.Felt, claimedValue common.Felt) (bool, error) {
	path, ok := proof.Nodes[key]
	if !ok {
		return false, errKeyNotInProof
	}
	if len(path) == 0 || path[len(path)-1].Kind != kindLeaf {
		return false, errMalformedProof
	}
	acc := claimedValue
	bits := pathBits(key)
	bitPos := len(bits)
	for i := len(path) - 2; i >= 0; i-- {
		step := path[i]
		switch step.Kind {
		case kindEdge:
			acc = hash(acc, bitsToFelt(step.EdgePath)).Add(common.FeltFromUint64(uint64(len(step.EdgePath))))
			bitPos -= len(step.EdgePath)
		case kindBinary:
			bitPos--
			if bits[bitPos] {
				acc = hash(*step.Sibling, acc)
			} else {
				acc = hash(acc, *step.Sibling)
			}
		default:
			return false, errMalformedProof
		}
	}
	return acc == proof.Root, nil
}

var (
	errEmptyPathAtBinary = fmtError("trie: path exhausted at binary node during proof")
	errUnknownNodeKind   = fmtError("trie: unknown node kind during proof")
	errKeyNotInProof     = fmtError("trie: key not present in proof bundle")
	errEmptyProof        = fmtError("trie: empty proof path")
	errMalformedProof    = fmtError("trie: malformed proof path")
)

type simpleError string

func (e simpleError) Error() string { return string(e) }

func fmtError(s string) error { return simpleError(s) }
