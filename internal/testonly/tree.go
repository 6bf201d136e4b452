// Copyright 2024 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testonly contains code and data that should only be used by tests.
package testonly

import (
	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/merkletree"
)

// Tree is an in-memory Merkle tree built by the same rules as the log
// server: the tree is padded to a power of two and absent nodes hash to
// all zeroes. Interior hashes are updated along the leaf's path on every
// append. For testing.
type Tree struct {
	leaves [][]byte
	nodes  map[merkletree.TreeIntermediatePos]ct.Hash
}

// NewTree returns a new empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[merkletree.TreeIntermediatePos]ct.Hash)}
}

// Size returns the current number of leaves in the tree.
func (t *Tree) Size() uint64 {
	return uint64(len(t.leaves))
}

// Leaf returns the serialized leaf at index. Requires index < Size().
func (t *Tree) Leaf(index uint64) []byte {
	return t.leaves[index]
}

// Append adds the serialized leaf and returns its index.
func (t *Tree) Append(leaf []byte) uint64 {
	index := t.Size()
	t.leaves = append(t.leaves, append([]byte(nil), leaf...))

	hash := merkletree.HashLeaf(leaf)
	pos := merkletree.LeafPos(index)
	for !pos.IsRoot(index) {
		sibling := t.nodeHash(pos.Sibling())
		if pos.IsLeftChild() {
			hash = merkletree.HashChildren(hash, sibling)
		} else {
			hash = merkletree.HashChildren(sibling, hash)
		}
		pos = pos.Parent()
		t.nodes[pos] = hash
	}
	return index
}

// AppendData appends each leaf in turn.
func (t *Tree) AppendData(leaves ...[]byte) {
	for _, l := range leaves {
		t.Append(l)
	}
}

func (t *Tree) nodeHash(pos merkletree.TreeIntermediatePos) ct.Hash {
	if pos.Width() == 1 {
		if pos.Left >= t.Size() {
			return ct.Hash{}
		}
		return merkletree.HashLeaf(t.leaves[pos.Left])
	}
	return t.nodes[pos]
}

// Root returns the current root hash.
func (t *Tree) Root() ct.Hash {
	return t.nodeHash(merkletree.RootPos(t.Size()))
}

// AuditPath returns the sibling hashes from the leaf at index up to the
// current root. Requires index < Size().
func (t *Tree) AuditPath(index uint64) []ct.Hash {
	var path []ct.Hash
	pos := merkletree.LeafPos(index)
	for !pos.IsRoot(t.Size()) {
		path = append(path, t.nodeHash(pos.Sibling()))
		pos = pos.Parent()
	}
	return path
}

// Proof returns an inclusion proof for the leaf at index against the
// current tree. The head is unsigned and has a zero timestamp.
func (t *Tree) Proof(index uint64) *ct.TreeLeafProof {
	return &ct.TreeLeafProof{
		Head:   ct.SignedTreeHead{Size: t.Size(), Hash: t.Root()},
		Index:  index,
		Leaf:   t.leaves[index],
		Hashes: t.AuditPath(index),
	}
}

// NaiveRoot computes the root of a tree over leaves from scratch, by
// recursion over node positions.
func NaiveRoot(leaves [][]byte) ct.Hash {
	return naiveHash(leaves, merkletree.RootPos(uint64(len(leaves))))
}

func naiveHash(leaves [][]byte, pos merkletree.TreeIntermediatePos) ct.Hash {
	switch {
	case pos.Left >= uint64(len(leaves)):
		return ct.Hash{}
	case pos.Width() == 1:
		return merkletree.HashLeaf(leaves[pos.Left])
	}
	mid := pos.Left + pos.Width()/2
	left := naiveHash(leaves, merkletree.TreeIntermediatePos{Left: pos.Left, Right: mid})
	right := naiveHash(leaves, merkletree.TreeIntermediatePos{Left: mid, Right: pos.Right})
	return merkletree.HashChildren(left, right)
}
