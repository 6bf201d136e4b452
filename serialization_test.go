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
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/crypto/sha3"
)

func dh(h string) []byte {
	r, err := hex.DecodeString(h)
	if err != nil {
		panic(err)
	}
	return r
}

func testTimestamp(t *testing.T, sec int) Timestamp {
	t.Helper()
	ts, err := TimestampFromTime(time.Date(2024, time.May, 1, 12, 0, sec, 0, time.UTC))
	if err != nil {
		t.Fatalf("TimestampFromTime()=_,%v; want _,nil", err)
	}
	return ts
}

func testHash(b byte) Hash {
	var h Hash
	for i := range h {
		h[i] = b + byte(i)
	}
	return h
}

func testSignature(b byte) []byte {
	return bytes.Repeat([]byte{b}, SignatureLength)
}

func testSTH(t *testing.T) SignedTreeHead {
	return SignedTreeHead{
		Size:      5,
		Timestamp: testTimestamp(t, 1),
		Hash:      testHash(0x10),
		Signature: testSignature(0xaa),
	}
}

func testSOT(t *testing.T) StatementOfTransfer {
	return StatementOfTransfer{
		Timestamp:   testTimestamp(t, 2),
		ContentHash: testHash(0x20),
		Name:        "alice",
		Signature:   testSignature(0xbb),
	}
}

func testLeaf(t *testing.T) TreeLeaf {
	return TreeLeaf{
		Created:              testTimestamp(t, 3),
		ContentHash:          testHash(0x30),
		Name:                 "bob",
		PubKey:               bytes.Repeat([]byte{0x01}, PublicKeyLength),
		DataForPrivateClaims: []byte("private"),
		DataForPublicClaims:  []byte("public"),
	}
}

func testProof(t *testing.T) TreeLeafProof {
	leaf := testLeaf(t)
	return TreeLeafProof{
		Head:   testSTH(t),
		Index:  3,
		Leaf:   leaf.Serialize(),
		Hashes: []Hash{testHash(0x40), testHash(0x50), testHash(0x60)},
	}
}

func TestTimestampFromTime(t *testing.T) {
	when := time.Date(2024, time.May, 1, 12, 0, 0, 123456789, time.FixedZone("CEST", 2*60*60))
	ts, err := TimestampFromTime(when)
	if err != nil {
		t.Fatalf("TimestampFromTime()=_,%v; want _,nil", err)
	}
	got, err := ts.Time()
	if err != nil {
		t.Fatalf("Time()=_,%v; want _,nil", err)
	}
	if !got.Equal(when) {
		t.Errorf("Time()=%v, want %v", got, when)
	}

	if _, err := TimestampFromTime(time.Date(2024, time.May, 1, 0, 0, 0, 0, time.FixedZone("odd", 30))); err == nil {
		t.Error("TimestampFromTime(sub-minute offset)=_,nil; want error")
	}
}

func TestSignedTreeHeadLayout(t *testing.T) {
	sth := testSTH(t)
	got := sth.Serialize()
	want := append(append(append(dh("0000000000000005"), sth.Timestamp[:]...), sth.Hash[:]...), sth.Signature...)
	if !bytes.Equal(got, want) {
		t.Errorf("Serialize()=%x, want %x", got, want)
	}
}

func TestStatementOfTransferLayout(t *testing.T) {
	sot := testSOT(t)
	got := sot.Serialize()
	var want []byte
	want = append(want, sot.Timestamp[:]...)
	want = append(want, sot.ContentHash[:]...)
	want = append(want, 5)
	want = append(want, "alice"...)
	want = append(want, sot.Signature...)
	if !bytes.Equal(got, want) {
		t.Errorf("Serialize()=%x, want %x", got, want)
	}
}

func TestTreeLeafLayout(t *testing.T) {
	leaf := TreeLeaf{
		Created:              testTimestamp(t, 3),
		ContentHash:          testHash(0x30),
		Name:                 "n",
		PubKey:               dh("0102"),
		DataForPrivateClaims: nil,
		DataForPublicClaims:  []byte("x"),
	}
	got := leaf.Serialize()
	var want []byte
	want = append(want, leaf.Created[:]...)
	want = append(want, 0x00, 0x22)
	want = append(want, leaf.ContentHash[:]...)
	want = append(want, 0x01, 'n')
	want = append(want, 0x00, 0x02, 0x01, 0x02)
	want = append(want, 0x00, 0x00)
	want = append(want, 0x00, 0x01, 'x')
	if !bytes.Equal(got, want) {
		t.Errorf("Serialize()=%x, want %x", got, want)
	}
}

func TestTreeLeafProofLayout(t *testing.T) {
	p := TreeLeafProof{
		Head:   testSTH(t),
		Index:  0x0102,
		Leaf:   dh("aabbcc"),
		Hashes: []Hash{testHash(1)},
	}
	head := p.Head.Serialize()
	got := p.Serialize()
	var want []byte
	want = append(want, 0x00, byte(len(head)))
	want = append(want, head...)
	want = append(want, dh("0000000000000102")...)
	want = append(want, dh("0003aabbcc")...)
	want = append(want, 0x00, 0x01)
	want = append(want, p.Hashes[0][:]...)
	if !bytes.Equal(got, want) {
		t.Errorf("Serialize()=%x, want %x", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	sth := testSTH(t)
	sot := testSOT(t)
	leaf := testLeaf(t)
	emptyLeaf := TreeLeaf{Created: testTimestamp(t, 4), ContentHash: testHash(0x70)}
	proof := testProof(t)
	pathless := TreeLeafProof{Head: testSTH(t), Index: 0, Leaf: emptyLeaf.Serialize()}

	for _, test := range []struct {
		desc  string
		in    interface{}
		data  []byte
		parse func([]byte) (interface{}, error)
	}{
		{desc: "sth", in: &sth, data: sth.Serialize(), parse: func(d []byte) (interface{}, error) { return ParseSignedTreeHead(d) }},
		{desc: "sot", in: &sot, data: sot.Serialize(), parse: func(d []byte) (interface{}, error) { return ParseStatementOfTransfer(d) }},
		{desc: "leaf", in: &leaf, data: leaf.Serialize(), parse: func(d []byte) (interface{}, error) { return ParseTreeLeaf(d) }},
		{desc: "empty-leaf", in: &emptyLeaf, data: emptyLeaf.Serialize(), parse: func(d []byte) (interface{}, error) { return ParseTreeLeaf(d) }},
		{desc: "proof", in: &proof, data: proof.Serialize(), parse: func(d []byte) (interface{}, error) { return ParseTreeLeafProof(d) }},
		{desc: "pathless-proof", in: &pathless, data: pathless.Serialize(), parse: func(d []byte) (interface{}, error) { return ParseTreeLeafProof(d) }},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got, err := test.parse(test.data)
			if err != nil {
				t.Fatalf("parse()=_,%v; want _,nil", err)
			}
			if diff := pretty.Compare(got, test.in); diff != "" {
				t.Errorf("parse(serialize(x)) diff: (-got +want)\n%s", diff)
			}
		})
	}
}

func TestParseDoesNotAlias(t *testing.T) {
	leaf := testLeaf(t)
	data := leaf.Serialize()
	got, err := ParseTreeLeaf(data)
	if err != nil {
		t.Fatalf("ParseTreeLeaf()=_,%v; want _,nil", err)
	}
	for i := range data {
		data[i] = 0
	}
	if diff := pretty.Compare(got, &leaf); diff != "" {
		t.Errorf("decoded leaf changed with input buffer: (-got +want)\n%s", diff)
	}
}

func TestTruncatedInputs(t *testing.T) {
	proof := testProof(t)
	for _, test := range []struct {
		structure string
		data      []byte
		parse     func([]byte) error
	}{
		{structure: StructureSTH, data: proof.Head.Serialize(), parse: func(d []byte) error { _, err := ParseSignedTreeHead(d); return err }},
		{structure: StructureSOT, data: testSOT(t).Serialize(), parse: func(d []byte) error { _, err := ParseStatementOfTransfer(d); return err }},
		{structure: StructureTreeLeaf, data: proof.Leaf, parse: func(d []byte) error { _, err := ParseTreeLeaf(d); return err }},
		{structure: StructureTreeLeafProof, data: proof.Serialize(), parse: func(d []byte) error { _, err := ParseTreeLeafProof(d); return err }},
	} {
		t.Run(test.structure, func(t *testing.T) {
			if err := test.parse(test.data); err != nil {
				t.Fatalf("parse(complete)=%v; want nil", err)
			}
			for i := 0; i < len(test.data); i++ {
				err := test.parse(test.data[:i])
				var derr *DeserializationError
				if !errors.As(err, &derr) {
					t.Fatalf("parse(data[:%d])=%v; want DeserializationError", i, err)
				}
				if derr.Structure != test.structure {
					t.Errorf("parse(data[:%d]).Structure=%q, want %q", i, derr.Structure, test.structure)
				}
			}
			trailing := append(append([]byte(nil), test.data...), 0x00)
			var derr *DeserializationError
			if err := test.parse(trailing); !errors.As(err, &derr) {
				t.Errorf("parse(data+1)=%v; want DeserializationError", err)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	sot := testSOT(t)
	sotData := sot.Serialize()
	// Name length claims one byte more than is present before the signature.
	longName := append([]byte(nil), sotData...)
	longName[TimestampLength+HashLength]++

	leaf := testLeaf(t)
	leafData := leaf.Serialize()
	// Ownership block one byte longer than hash and name: steal a byte from
	// the pubkey prefix so the total length stays consistent.
	badOwner := append([]byte(nil), leafData[:TimestampLength]...)
	badOwner = append(badOwner, 0x00, byte(HashLength+1+len(leaf.Name)+1))
	badOwner = append(badOwner, leaf.ContentHash[:]...)
	badOwner = append(badOwner, byte(len(leaf.Name)))
	badOwner = append(badOwner, leaf.Name...)
	badOwner = append(badOwner, 0xff)
	badOwner = append(badOwner, leafData[TimestampLength+2+HashLength+1+len(leaf.Name):]...)

	proof := testProof(t)
	proofData := proof.Serialize()
	// Audit path count one larger than the hashes present.
	moreHashes := append([]byte(nil), proofData...)
	moreHashes[len(proofData)-3*HashLength-1]++

	for _, test := range []struct {
		desc  string
		parse func() error
	}{
		{desc: "sot-name-overrun", parse: func() error { _, err := ParseStatementOfTransfer(longName); return err }},
		{desc: "leaf-ownership-trailing", parse: func() error { _, err := ParseTreeLeaf(badOwner); return err }},
		{desc: "proof-count-overrun", parse: func() error { _, err := ParseTreeLeafProof(moreHashes); return err }},
		{desc: "sth-nil", parse: func() error { _, err := ParseSignedTreeHead(nil); return err }},
		{desc: "sth-short-signature", parse: func() error {
			_, err := ParseSignedTreeHead(proof.Head.Serialize()[:8+TimestampLength+HashLength+10])
			return err
		}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			var derr *DeserializationError
			if err := test.parse(); !errors.As(err, &derr) {
				t.Errorf("parse()=%v; want DeserializationError", err)
			}
		})
	}
}

func TestSerializePreconditions(t *testing.T) {
	for _, test := range []struct {
		desc      string
		serialize func()
	}{
		{desc: "sot-long-name", serialize: func() {
			sot := testSOT(t)
			sot.Name = strings.Repeat("a", MaxNameLength+1)
			sot.Serialize()
		}},
		{desc: "sot-short-signature", serialize: func() {
			sot := testSOT(t)
			sot.Signature = sot.Signature[:SignatureLength-1]
			sot.Serialize()
		}},
		{desc: "sth-unsigned", serialize: func() {
			sth := testSTH(t)
			sth.Signature = nil
			sth.Serialize()
		}},
		{desc: "leaf-long-name", serialize: func() {
			leaf := testLeaf(t)
			leaf.Name = strings.Repeat("a", MaxNameLength+1)
			leaf.Serialize()
		}},
		{desc: "leaf-huge-data", serialize: func() {
			leaf := testLeaf(t)
			leaf.DataForPublicClaims = make([]byte, MaxBlockLength+1)
			leaf.Serialize()
		}},
		{desc: "proof-long-path", serialize: func() {
			p := testProof(t)
			p.Hashes = make([]Hash, MaxAuditPathCount+1)
			p.Serialize()
		}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Serialize() did not panic")
				}
			}()
			test.serialize()
		})
	}

	// The largest values that fit must still encode.
	sot := testSOT(t)
	sot.Name = strings.Repeat("a", MaxNameLength)
	if got, err := ParseStatementOfTransfer(sot.Serialize()); err != nil || got.Name != sot.Name {
		t.Errorf("ParseStatementOfTransfer(max name)=%v,%v; want name of %d bytes", got, err, MaxNameLength)
	}
}

func TestSOTChecksum(t *testing.T) {
	sot := testSOT(t)
	var input []byte
	input = append(input, "ownership"...)
	input = append(input, sot.Timestamp[:]...)
	input = append(input, sot.ContentHash[:]...)
	input = append(input, byte(len(sot.Name)))
	input = append(input, sot.Name...)
	want := sha3.Sum256(input)
	if got := sot.Checksum(); got != Hash(want) {
		t.Errorf("Checksum()=%v, want %x", got, want)
	}

	// The signature is not covered.
	other := sot
	other.Signature = testSignature(0x00)
	if other.Checksum() != sot.Checksum() {
		t.Error("Checksum() depends on the signature")
	}

	// Every covered byte matters.
	for i := range sot.Timestamp {
		mod := sot
		mod.Timestamp[i] ^= 0x01
		if mod.Checksum() == sot.Checksum() {
			t.Errorf("Checksum() unchanged after flipping timestamp byte %d", i)
		}
	}
	for i := range sot.ContentHash {
		mod := sot
		mod.ContentHash[i] ^= 0x01
		if mod.Checksum() == sot.Checksum() {
			t.Errorf("Checksum() unchanged after flipping hash byte %d", i)
		}
	}
	for i := range sot.Name {
		mod := sot
		name := []byte(sot.Name)
		name[i] ^= 0x01
		mod.Name = string(name)
		if mod.Checksum() == sot.Checksum() {
			t.Errorf("Checksum() unchanged after flipping name byte %d", i)
		}
	}
}

func TestDecodeLeaf(t *testing.T) {
	proof := testProof(t)
	got, err := proof.DecodeLeaf()
	if err != nil {
		t.Fatalf("DecodeLeaf()=_,%v; want _,nil", err)
	}
	want := testLeaf(t)
	if diff := pretty.Compare(got, &want); diff != "" {
		t.Errorf("DecodeLeaf() diff: (-got +want)\n%s", diff)
	}

	proof.Leaf = proof.Leaf[:len(proof.Leaf)-1]
	var derr *DeserializationError
	if _, err := proof.DecodeLeaf(); !errors.As(err, &derr) || derr.Structure != StructureTreeLeaf {
		t.Errorf("DecodeLeaf(truncated)=_,%v; want TreeLeaf DeserializationError", err)
	}
}
