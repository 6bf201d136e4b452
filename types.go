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

// Package ct holds core types and utilities for the certified-transparency
// ownership log: the binary structures exchanged with the log and monitor
// servers, their codec, and the signature checks performed on them.
package ct

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"
)

// Fixed sizes of wire fields.
const (
	HashLength      = 32
	TimestampLength = 15
	SignatureLength = ed25519.SignatureSize
	PublicKeyLength = ed25519.PublicKeySize
)

// Hash is a SHA3-256 digest.
type Hash [HashLength]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashFromBytes converts b to a Hash, failing if it has the wrong length.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("hash is %d bytes, want %d", len(b), HashLength)
	}
	copy(h[:], b)
	return h, nil
}

// Timestamp is the opaque 15 byte timestamp produced by the log server. Its
// content is the binary marshaling of a Go time.Time (encoding version 1);
// the codec only ever copies it around.
type Timestamp [TimestampLength]byte

// TimestampFromTime encodes t in the server's timestamp format. Times whose
// zone offset is not a whole number of minutes cannot be represented.
func TimestampFromTime(t time.Time) (Timestamp, error) {
	var ts Timestamp
	data, err := t.MarshalBinary()
	if err != nil {
		return ts, err
	}
	if len(data) != TimestampLength {
		return ts, fmt.Errorf("time %v encodes to %d bytes, want %d", t, len(data), TimestampLength)
	}
	copy(ts[:], data)
	return ts, nil
}

// Time decodes the timestamp.
func (ts Timestamp) Time() (time.Time, error) {
	var t time.Time
	err := t.UnmarshalBinary(ts[:])
	return t, err
}

// String formats the timestamp for humans, falling back to hex for
// timestamps that do not decode.
func (ts Timestamp) String() string {
	t, err := ts.Time()
	if err != nil {
		return hex.EncodeToString(ts[:])
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// SignedTreeHead is the log's signed statement about the current tree. The
// signature covers Hash only.
type SignedTreeHead struct {
	Size      uint64    // Number of leaves in the tree
	Timestamp Timestamp // Time the head was produced
	Hash      Hash      // Root hash of the tree
	Signature []byte    // Ed25519 signature over Hash
}

func (sth SignedTreeHead) String() string {
	return fmt.Sprintf("{Size:%d Timestamp:%v Hash:%v Signature:%x}", sth.Size, sth.Timestamp, sth.Hash, sth.Signature)
}

// StatementOfTransfer (SOT) is the log's signed promise that a content hash
// was registered under a name at a given time, issued before the content is
// published in the tree.
type StatementOfTransfer struct {
	Timestamp   Timestamp
	ContentHash Hash
	Name        string // at most 255 bytes
	Signature   []byte // Ed25519 signature over Checksum()
}

// TreeLeaf is an entry of the log. The two data fields are opaque byte
// blobs, the server stores them encrypted.
type TreeLeaf struct {
	Created              Timestamp
	ContentHash          Hash
	Name                 string // at most 255 bytes
	PubKey               []byte // the claimer's Ed25519 key
	DataForPrivateClaims []byte
	DataForPublicClaims  []byte
}

// TreeLeafProof is an inclusion proof for one leaf. The leaf is kept as the
// exact bytes the server sent, since the leaf hash is computed over them.
type TreeLeafProof struct {
	Head   SignedTreeHead
	Index  uint64
	Leaf   []byte
	Hashes []Hash // audit path, leaf level first
}

// DecodeLeaf parses the proven leaf.
func (p *TreeLeafProof) DecodeLeaf() (*TreeLeaf, error) {
	return ParseTreeLeaf(p.Leaf)
}

// URI paths for the log server endpoints.
const (
	GetSTHPath           = "/api/v1/get-sth"
	GetPubKeyPath        = "/api/v1/get-pubkey"
	GetEntriesPath       = "/api/v1/get-entries"
	GetEntryAndProofPath = "/api/v1/get-entry-and-proof"
	AddEntryPath         = "/api/v1/add-entry"
	SignEntryPath        = "/api/v1/sign-entry"
)

// URI paths for the monitor endpoints. The monitor also serves GetPubKeyPath.
const (
	ClaimPrivatePath = "/api/v1/claim-private"
	ClaimPublicPath  = "/api/v1/claim-public"
	WatchPath        = "/api/v1/watch"
)

// MaxEntriesPerRequest is the largest range the log server returns from a
// single get-entries call.
const MaxEntriesPerRequest = 16

///////////////////////////////////////////////////////////////////////////////
// JSON structures follow.
// Response fields are pointers so that a field missing from the server's
// answer can be told apart from a zero value. Binary fields are base64 in
// both directions.
///////////////////////////////////////////////////////////////////////////////

// GetPubKeyResponse is returned by the get-pubkey method of both servers.
type GetPubKeyResponse struct {
	PubKey *string `json:"pubkey"`
}

// GetSTHResponse is returned by get-sth.
type GetSTHResponse struct {
	STH *string `json:"sth"`
}

// GetEntriesResponse is returned by get-entries.
type GetEntriesResponse struct {
	Leaves *[]string `json:"leaves"`
}

// GetEntryAndProofResponse is returned by get-entry-and-proof.
type GetEntryAndProofResponse struct {
	Proof *string `json:"proof"`
}

// AddEntryRequest is the body of an add-entry call.
type AddEntryRequest struct {
	ContentHash []byte `json:"content_hash"`
	Name        string `json:"name"`
	PubKey      []byte `json:"pubkey"`
	DataPrivate string `json:"data_private"`
	DataPublic  string `json:"data_public"`
}

// AddEntryResponse is returned by add-entry.
type AddEntryResponse struct {
	Index *uint64 `json:"index"`
}

// SignEntryRequest is the body of a sign-entry call.
type SignEntryRequest struct {
	ContentHash []byte `json:"content_hash"`
	Name        string `json:"name"`
}

// SignEntryResponse is returned by sign-entry.
type SignEntryResponse struct {
	SOT *string `json:"sot"`
}

// ClaimPrivateRequest asks the monitor to release the private data of a
// leaf to the holder of an earlier SOT for the same content.
type ClaimPrivateRequest struct {
	SOT         []byte `json:"sot"`
	ClaimedLeaf []byte `json:"claimed_leaf"`
}

// ClaimPublicRequest asks the monitor to release the public data of a leaf
// to the owner of an earlier leaf for the same content.
type ClaimPublicRequest struct {
	ClaimingLeaf          []byte `json:"claiming_leaf"`
	ClaimedLeaf           []byte `json:"claimed_leaf"`
	ClaimingLeafSignature []byte `json:"claiming_leaf_signature"`
}

// ClaimResponse is returned by both claim methods.
type ClaimResponse struct {
	Granted *bool   `json:"granted"`
	Data    *string `json:"data"`
}

// NewLeafMessage is a single notification on the watch stream.
type NewLeafMessage struct {
	Index *uint64 `json:"index"`
	Leaf  *string `json:"leaf"`
}
