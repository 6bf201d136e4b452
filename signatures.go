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
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Sum returns the SHA3-256 digest of data.
func Sum(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// SignatureVerifier checks signatures made by a server's Ed25519 key.
type SignatureVerifier struct {
	PubKey ed25519.PublicKey
}

// NewSignatureVerifier creates a new SignatureVerifier using the passed in
// raw Ed25519 public key.
func NewSignatureVerifier(pubKey []byte) (*SignatureVerifier, error) {
	if len(pubKey) != PublicKeyLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPubKey, len(pubKey), PublicKeyLength)
	}
	return &SignatureVerifier{PubKey: ed25519.PublicKey(cloneBytes(pubKey))}, nil
}

func verify(pubKey ed25519.PublicKey, msg, sig []byte, what string) error {
	if len(sig) != SignatureLength {
		return &CryptographicError{What: what, Err: fmt.Errorf("signature is %d bytes, want %d", len(sig), SignatureLength)}
	}
	if !ed25519.Verify(pubKey, msg, sig) {
		return &CryptographicError{What: what}
	}
	return nil
}

// VerifySTHSignature checks the tree head signature, which covers the raw
// 32 byte root hash.
func (s SignatureVerifier) VerifySTHSignature(sth SignedTreeHead) error {
	return verify(s.PubKey, sth.Hash[:], sth.Signature, "STH signature")
}

// VerifySOTSignature checks the signature of a statement of transfer, which
// covers its checksum.
func (s SignatureVerifier) VerifySOTSignature(sot StatementOfTransfer) error {
	sum := sot.Checksum()
	return verify(s.PubKey, sum[:], sot.Signature, "SOT signature")
}

// VerifyLeafSignature checks a proof-of-possession signature made with the
// private key matching pubKey over the digest of the serialized leaf.
func VerifyLeafSignature(pubKey []byte, leaf []byte, sig []byte) error {
	if len(pubKey) != PublicKeyLength {
		return &CryptographicError{What: "leaf signature", Err: ErrInvalidPubKey}
	}
	sum := Sum(leaf)
	return verify(ed25519.PublicKey(pubKey), sum[:], sig, "leaf signature")
}

// SignLeaf proves possession of key for the serialized leaf, as the monitor
// requires for public claims.
func SignLeaf(key ed25519.PrivateKey, leaf []byte) []byte {
	sum := Sum(leaf)
	return ed25519.Sign(key, sum[:])
}

// SignSTH sets the signature of sth as the log server does.
func SignSTH(key ed25519.PrivateKey, sth *SignedTreeHead) {
	sth.Signature = ed25519.Sign(key, sth.Hash[:])
}

// SignSOT sets the signature of sot as the log server does.
func SignSOT(key ed25519.PrivateKey, sot *StatementOfTransfer) {
	sum := sot.Checksum()
	sot.Signature = ed25519.Sign(key, sum[:])
}
