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
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"
)

func testKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
}

func TestNewSignatureVerifier(t *testing.T) {
	key := testKey(1)
	for _, test := range []struct {
		desc    string
		pubKey  []byte
		wantErr bool
	}{
		{desc: "valid", pubKey: key.Public().(ed25519.PublicKey)},
		{desc: "short", pubKey: key.Public().(ed25519.PublicKey)[:31], wantErr: true},
		{desc: "long", pubKey: append(append([]byte(nil), key.Public().(ed25519.PublicKey)...), 0), wantErr: true},
		{desc: "empty", pubKey: nil, wantErr: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			_, err := NewSignatureVerifier(test.pubKey)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("NewSignatureVerifier()=_,%v; want err? %v", err, test.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPubKey) {
				t.Errorf("NewSignatureVerifier()=_,%v; want ErrInvalidPubKey", err)
			}
		})
	}
}

func TestVerifySTHSignature(t *testing.T) {
	key := testKey(1)
	v, err := NewSignatureVerifier(key.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("NewSignatureVerifier()=_,%v; want _,nil", err)
	}
	sth := testSTH(t)
	SignSTH(key, &sth)
	if err := v.VerifySTHSignature(sth); err != nil {
		t.Errorf("VerifySTHSignature()=%v; want nil", err)
	}

	// Size and timestamp are not signed.
	unsigned := sth
	unsigned.Size++
	unsigned.Timestamp[0] ^= 0xff
	if err := v.VerifySTHSignature(unsigned); err != nil {
		t.Errorf("VerifySTHSignature(modified size)=%v; want nil", err)
	}

	modified := sth
	modified.Hash[0] ^= 0x01
	var cerr *CryptographicError
	if err := v.VerifySTHSignature(modified); !errors.As(err, &cerr) {
		t.Errorf("VerifySTHSignature(modified hash)=%v; want CryptographicError", err)
	}

	other, _ := NewSignatureVerifier(testKey(2).Public().(ed25519.PublicKey))
	if err := other.VerifySTHSignature(sth); !errors.As(err, &cerr) {
		t.Errorf("VerifySTHSignature(other key)=%v; want CryptographicError", err)
	}
}

func TestVerifySOTSignature(t *testing.T) {
	key := testKey(3)
	v, _ := NewSignatureVerifier(key.Public().(ed25519.PublicKey))
	sot := testSOT(t)
	SignSOT(key, &sot)
	if err := v.VerifySOTSignature(sot); err != nil {
		t.Errorf("VerifySOTSignature()=%v; want nil", err)
	}
	sum := sot.Checksum()
	if !ed25519.Verify(v.PubKey, sum[:], sot.Signature) {
		t.Error("SOT signature does not cover Checksum()")
	}

	for _, mod := range []func(*StatementOfTransfer){
		func(s *StatementOfTransfer) { s.Name = "mallory" },
		func(s *StatementOfTransfer) { s.ContentHash[31] ^= 0x80 },
		func(s *StatementOfTransfer) { s.Timestamp[14] ^= 0x01 },
		func(s *StatementOfTransfer) { s.Signature = s.Signature[:10] },
	} {
		bad := sot
		bad.Signature = append([]byte(nil), sot.Signature...)
		mod(&bad)
		var cerr *CryptographicError
		if err := v.VerifySOTSignature(bad); !errors.As(err, &cerr) {
			t.Errorf("VerifySOTSignature(%+v)=%v; want CryptographicError", bad, err)
		}
	}
}

func TestLeafSignature(t *testing.T) {
	key := testKey(4)
	pub := key.Public().(ed25519.PublicKey)
	leaf := testLeaf(t)
	leaf.PubKey = pub
	data := leaf.Serialize()

	sig := SignLeaf(key, data)
	if err := VerifyLeafSignature(pub, data, sig); err != nil {
		t.Errorf("VerifyLeafSignature()=%v; want nil", err)
	}
	sum := Sum(data)
	if !ed25519.Verify(pub, sum[:], sig) {
		t.Error("leaf signature does not cover the leaf digest")
	}

	var cerr *CryptographicError
	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-1] ^= 0x01
	if err := VerifyLeafSignature(pub, tampered, sig); !errors.As(err, &cerr) {
		t.Errorf("VerifyLeafSignature(tampered)=%v; want CryptographicError", err)
	}
	if err := VerifyLeafSignature(pub[:16], data, sig); !errors.As(err, &cerr) || !errors.Is(err, ErrInvalidPubKey) {
		t.Errorf("VerifyLeafSignature(short key)=%v; want CryptographicError wrapping ErrInvalidPubKey", err)
	}
}
