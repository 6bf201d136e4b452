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

import "fmt"

// TreeIntermediatePos identifies a node of the tree by the half-open range
// [Left, Right) of leaf indices below it. Valid positions have a power of
// two width and Left aligned to that width.
type TreeIntermediatePos struct {
	Left  uint64
	Right uint64
}

// LeafPos returns the position of the leaf with the given index.
func LeafPos(index uint64) TreeIntermediatePos {
	return TreeIntermediatePos{Left: index, Right: index + 1}
}

// RootPos returns the root position of a tree with size leaves. The tree
// is padded to the next power of two.
func RootPos(size uint64) TreeIntermediatePos {
	pos := TreeIntermediatePos{Left: 0, Right: 1}
	for pos.Right < size {
		pos.Right *= 2
	}
	return pos
}

// Width returns the number of leaf slots below the node.
func (pos TreeIntermediatePos) Width() uint64 {
	return pos.Right - pos.Left
}

// IsRoot reports whether pos covers a whole tree of the given size.
func (pos TreeIntermediatePos) IsRoot(size uint64) bool {
	return pos.Left == 0 && pos.Right >= size
}

// IsLeftChild reports whether pos is the left child of its parent.
func (pos TreeIntermediatePos) IsLeftChild() bool {
	return pos.Left&pos.Width() == 0
}

// Parent returns the position of the node one level up.
func (pos TreeIntermediatePos) Parent() TreeIntermediatePos {
	w := pos.Width()
	if pos.IsLeftChild() {
		return TreeIntermediatePos{Left: pos.Left, Right: pos.Right + w}
	}
	return TreeIntermediatePos{Left: pos.Left - w, Right: pos.Right}
}

// Sibling returns the other child of pos's parent.
func (pos TreeIntermediatePos) Sibling() TreeIntermediatePos {
	w := pos.Width()
	if pos.IsLeftChild() {
		return TreeIntermediatePos{Left: pos.Right, Right: pos.Right + w}
	}
	return TreeIntermediatePos{Left: pos.Left - w, Right: pos.Left}
}

func (pos TreeIntermediatePos) String() string {
	return fmt.Sprintf("[%d, %d)", pos.Left, pos.Right)
}
