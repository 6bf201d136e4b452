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

package ct

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// All integers on the wire are big-endian. Variable size fields carry a
// length prefix of the following byte lengths.
const (
	NameLengthBytes   = 1
	BlockLengthBytes  = 2
	MaxNameLength     = (1 << 8) - 1
	MaxBlockLength    = (1 << 16) - 1
	MaxAuditPathCount = (1 << 16) - 1
)

var (
	errTruncated    = errors.New("data truncated")
	errTrailingData = errors.New("trailing data")
)

// sotDomain prefixes the signature input of a SOT.
const sotDomain = "ownership"

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func addOwnership(b *cryptobyte.Builder, contentHash Hash, name string) {
	b.AddBytes(contentHash[:])
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(name))
	})
}

func readOwnership(s *cryptobyte.String, contentHash *Hash, name *string) bool {
	var n cryptobyte.String
	if !s.CopyBytes(contentHash[:]) || !s.ReadUint8LengthPrefixed(&n) {
		return false
	}
	*name = string(n)
	return true
}

func addSignature(b *cryptobyte.Builder, sig []byte) {
	if len(sig) != SignatureLength {
		b.SetError(fmt.Errorf("signature is %d bytes, want %d", len(sig), SignatureLength))
		return
	}
	b.AddBytes(sig)
}

func readSignature(s cryptobyte.String) ([]byte, error) {
	if len(s) < SignatureLength {
		return nil, errTruncated
	}
	if len(s) > SignatureLength {
		return nil, errTrailingData
	}
	return cloneBytes(s), nil
}

func addBlock(b *cryptobyte.Builder, data []byte) {
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(data)
	})
}

// Serialize encodes the tree head as
// uint64 size | 15B timestamp | 32B hash | 64B signature.
// It panics if the signature is not a complete Ed25519 signature.
func (sth SignedTreeHead) Serialize() []byte {
	b := cryptobyte.NewBuilder(make([]byte, 0, 8+TimestampLength+HashLength+SignatureLength))
	b.AddUint64(sth.Size)
	b.AddBytes(sth.Timestamp[:])
	b.AddBytes(sth.Hash[:])
	addSignature(b, sth.Signature)
	return b.BytesOrPanic()
}

// ParseSignedTreeHead decodes a tree head. Everything after the hash is the
// signature.
func ParseSignedTreeHead(data []byte) (*SignedTreeHead, error) {
	s := cryptobyte.String(data)
	var sth SignedTreeHead
	if !s.ReadUint64(&sth.Size) || !s.CopyBytes(sth.Timestamp[:]) || !s.CopyBytes(sth.Hash[:]) {
		return nil, &DeserializationError{Structure: StructureSTH, Err: errTruncated}
	}
	sig, err := readSignature(s)
	if err != nil {
		return nil, &DeserializationError{Structure: StructureSTH, Err: fmt.Errorf("signature: %w", err)}
	}
	sth.Signature = sig
	return &sth, nil
}

// Serialize encodes the statement as
// 15B timestamp | 32B content hash | u8 name length | name | 64B signature.
// It panics if the name is longer than 255 bytes or the signature is not a
// complete Ed25519 signature.
func (sot StatementOfTransfer) Serialize() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddBytes(sot.Timestamp[:])
	addOwnership(b, sot.ContentHash, sot.Name)
	addSignature(b, sot.Signature)
	return b.BytesOrPanic()
}

// ParseStatementOfTransfer decodes a SOT. The signature is taken from the
// last 64 bytes first; what lies between timestamp and signature must be
// exactly the content hash and the length-prefixed name.
func ParseStatementOfTransfer(data []byte) (*StatementOfTransfer, error) {
	if len(data) < TimestampLength+SignatureLength {
		return nil, &DeserializationError{Structure: StructureSOT, Err: errTruncated}
	}
	var sot StatementOfTransfer
	copy(sot.Timestamp[:], data)
	owner := cryptobyte.String(data[TimestampLength : len(data)-SignatureLength])
	if !readOwnership(&owner, &sot.ContentHash, &sot.Name) {
		return nil, &DeserializationError{Structure: StructureSOT, Err: fmt.Errorf("ownership: %w", errTruncated)}
	}
	if !owner.Empty() {
		return nil, &DeserializationError{Structure: StructureSOT, Err: fmt.Errorf("ownership: %w", errTrailingData)}
	}
	sot.Signature = cloneBytes(data[len(data)-SignatureLength:])
	return &sot, nil
}

// SerializeSOTSignatureInput returns the bytes whose digest the log signs
// when issuing a SOT: "ownership" | timestamp | content hash | u8 name
// length | name.
func SerializeSOTSignatureInput(sot StatementOfTransfer) []byte {
	b := cryptobyte.NewBuilder([]byte(sotDomain))
	b.AddBytes(sot.Timestamp[:])
	addOwnership(b, sot.ContentHash, sot.Name)
	return b.BytesOrPanic()
}

// Checksum returns the digest covered by the SOT signature.
func (sot StatementOfTransfer) Checksum() Hash {
	return Sum(SerializeSOTSignatureInput(sot))
}

// Serialize encodes the leaf as
// 15B created | u16 block(32B content hash | u8 name length | name) |
// u16 block(pubkey) | u16 block(private data) | u16 block(public data).
// It panics if the name or any block exceeds its length prefix.
func (leaf TreeLeaf) Serialize() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddBytes(leaf.Created[:])
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		addOwnership(b, leaf.ContentHash, leaf.Name)
	})
	addBlock(b, leaf.PubKey)
	addBlock(b, leaf.DataForPrivateClaims)
	addBlock(b, leaf.DataForPublicClaims)
	return b.BytesOrPanic()
}

// ParseTreeLeaf decodes a leaf. The ownership block must hold exactly the
// content hash and name, and no bytes may follow the public data block.
func ParseTreeLeaf(data []byte) (*TreeLeaf, error) {
	s := cryptobyte.String(data)
	var leaf TreeLeaf
	var owner, pubKey, private, public cryptobyte.String
	if !s.CopyBytes(leaf.Created[:]) ||
		!s.ReadUint16LengthPrefixed(&owner) ||
		!s.ReadUint16LengthPrefixed(&pubKey) ||
		!s.ReadUint16LengthPrefixed(&private) ||
		!s.ReadUint16LengthPrefixed(&public) {
		return nil, &DeserializationError{Structure: StructureTreeLeaf, Err: errTruncated}
	}
	if !s.Empty() {
		return nil, &DeserializationError{Structure: StructureTreeLeaf, Err: errTrailingData}
	}
	if !readOwnership(&owner, &leaf.ContentHash, &leaf.Name) {
		return nil, &DeserializationError{Structure: StructureTreeLeaf, Err: fmt.Errorf("ownership: %w", errTruncated)}
	}
	if !owner.Empty() {
		return nil, &DeserializationError{Structure: StructureTreeLeaf, Err: fmt.Errorf("ownership: %w", errTrailingData)}
	}
	leaf.PubKey = cloneBytes(pubKey)
	leaf.DataForPrivateClaims = cloneBytes(private)
	leaf.DataForPublicClaims = cloneBytes(public)
	return &leaf, nil
}

// Serialize encodes the proof as
// u16 block(STH) | uint64 index | u16 block(leaf) | uint16 count | count x 32B.
// It panics if the head signature is incomplete or any block or the audit
// path exceeds its length prefix.
func (p TreeLeafProof) Serialize() []byte {
	b := cryptobyte.NewBuilder(nil)
	addBlock(b, p.Head.Serialize())
	b.AddUint64(p.Index)
	addBlock(b, p.Leaf)
	if len(p.Hashes) > MaxAuditPathCount {
		b.SetError(fmt.Errorf("audit path has %d hashes, max %d", len(p.Hashes), MaxAuditPathCount))
	}
	b.AddUint16(uint16(len(p.Hashes)))
	for _, h := range p.Hashes {
		b.AddBytes(h[:])
	}
	return b.BytesOrPanic()
}

// ParseTreeLeafProof decodes an inclusion proof. The leaf is kept as raw
// bytes; use DecodeLeaf to parse it.
func ParseTreeLeafProof(data []byte) (*TreeLeafProof, error) {
	s := cryptobyte.String(data)
	var p TreeLeafProof
	var head, leaf cryptobyte.String
	var count uint16
	if !s.ReadUint16LengthPrefixed(&head) ||
		!s.ReadUint64(&p.Index) ||
		!s.ReadUint16LengthPrefixed(&leaf) ||
		!s.ReadUint16(&count) {
		return nil, &DeserializationError{Structure: StructureTreeLeafProof, Err: errTruncated}
	}
	sth, err := ParseSignedTreeHead(head)
	if err != nil {
		return nil, &DeserializationError{Structure: StructureTreeLeafProof, Err: fmt.Errorf("head: %w", err)}
	}
	p.Head = *sth
	p.Leaf = cloneBytes(leaf)

	switch want := int(count) * HashLength; {
	case len(s) < want:
		return nil, &DeserializationError{Structure: StructureTreeLeafProof, Err: fmt.Errorf("audit path: %w", errTruncated)}
	case len(s) > want:
		return nil, &DeserializationError{Structure: StructureTreeLeafProof, Err: errTrailingData}
	}
	if count > 0 {
		p.Hashes = make([]Hash, count)
		for i := range p.Hashes {
			s.CopyBytes(p.Hashes[i][:])
		}
	}
	return &p, nil
}
