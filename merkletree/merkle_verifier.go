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

package merkletree

import (
	"fmt"

	ct "github.com/saarsec/certified-transparency"
)

// RootMismatchError occurs when an inclusion proof does not lead to the root
// hash of its tree head.
type RootMismatchError struct {
	ExpectedRoot   ct.Hash
	CalculatedRoot ct.Hash
}

func (e RootMismatchError) Error() string {
	return fmt.Sprintf("calculated root %v does not match expected root %v", e.CalculatedRoot, e.ExpectedRoot)
}

// PathTooLongError occurs when an audit path has hashes left over after the
// walk reached the root of the tree head.
type PathTooLongError struct {
	Pos    TreeIntermediatePos
	Unused int
}

func (e PathTooLongError) Error() string {
	return fmt.Sprintf("audit path has %d hashes beyond root %v", e.Unused, e.Pos)
}

// RootFromLeafProof folds the audit path of p onto the hash of its leaf and
// returns the calculated root together with the position it belongs to.
// Starting at the leaf, each step combines the current hash with the next
// path element, current hash first if the current position is a left
// child, and moves to the parent.
func RootFromLeafProof(p *ct.TreeLeafProof) (ct.Hash, TreeIntermediatePos, error) {
	hash := HashLeaf(p.Leaf)
	pos := LeafPos(p.Index)
	for i, sibling := range p.Hashes {
		if pos.IsRoot(p.Head.Size) {
			return ct.Hash{}, pos, PathTooLongError{Pos: pos, Unused: len(p.Hashes) - i}
		}
		if pos.IsLeftChild() {
			hash = HashChildren(hash, sibling)
		} else {
			hash = HashChildren(sibling, hash)
		}
		pos = pos.Parent()
	}
	return hash, pos, nil
}

// VerifyLeafProof checks that p proves its leaf to be part of the tree
// described by p.Head. The signature on p.Head is not checked.
//
// The walk must end at a position that IsRoot for a tree of p.Index leaves,
// and the calculated root must equal the head hash.
func VerifyLeafProof(p *ct.TreeLeafProof) error {
	root, pos, err := RootFromLeafProof(p)
	if err != nil {
		return &ct.CryptographicError{What: "leaf proof", Err: err}
	}
	if !pos.IsRoot(p.Index) {
		return &ct.CryptographicError{What: "leaf proof", Err: fmt.Errorf("audit path for leaf %d ends at %v", p.Index, pos)}
	}
	if root != p.Head.Hash {
		return &ct.CryptographicError{What: "leaf proof", Err: RootMismatchError{ExpectedRoot: p.Head.Hash, CalculatedRoot: root}}
	}
	return nil
}

// ValidateLeafProof reports whether VerifyLeafProof accepts p.
func ValidateLeafProof(p *ct.TreeLeafProof) bool {
	return VerifyLeafProof(p) == nil
}
