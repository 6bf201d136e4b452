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

// Package merkletree holds the position arithmetic of the log's Merkle tree
// and the verification of its inclusion proofs.
package merkletree

import (
	ct "github.com/saarsec/certified-transparency"
	"github.com/transparency-dev/merkle"
)

// TreeHasher performs the hashing operations of the log's tree: SHA3-256
// without domain separation between leaves and interior nodes. Nodes that
// do not exist yet hash to all zeroes.
type TreeHasher struct{}

var _ merkle.LogHasher = TreeHasher{}

// DefaultHasher is the hasher used by the log.
var DefaultHasher = TreeHasher{}

// EmptyRoot returns the hash of an empty tree, which is also the value used
// for absent nodes.
func (TreeHasher) EmptyRoot() []byte {
	return make([]byte, ct.HashLength)
}

// HashLeaf returns the hash of the serialized leaf.
func (TreeHasher) HashLeaf(leaf []byte) []byte {
	h := HashLeaf(leaf)
	return h[:]
}

// HashChildren returns the hash of the concatenation of the two children.
func (TreeHasher) HashChildren(l, r []byte) []byte {
	buf := make([]byte, 0, len(l)+len(r))
	buf = append(append(buf, l...), r...)
	h := ct.Sum(buf)
	return h[:]
}

// Size returns the number of bytes in a node hash.
func (TreeHasher) Size() int {
	return ct.HashLength
}

// HashLeaf returns the node hash of a serialized leaf.
func HashLeaf(leaf []byte) ct.Hash {
	return ct.Sum(leaf)
}

// HashChildren returns the node hash of an interior node.
func HashChildren(left, right ct.Hash) ct.Hash {
	var buf [2 * ct.HashLength]byte
	copy(buf[:], left[:])
	copy(buf[ct.HashLength:], right[:])
	return ct.Sum(buf[:])
}
