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
	"strings"
	"time"
)

var (
	// ErrClaimNotGranted is wrapped by the ProtocolError returned when the
	// monitor answers a claim with granted=false.
	ErrClaimNotGranted = errors.New("claim not granted")
	// ErrInvalidPubKey indicates a public key that is not a raw Ed25519 key.
	ErrInvalidPubKey = errors.New("invalid Ed25519 public key")
)

// Names of the binary structures, as reported in DeserializationError.
const (
	StructureSTH           = "STH"
	StructureSOT           = "SOT"
	StructureTreeLeaf      = "TreeLeaf"
	StructureTreeLeafProof = "TreeLeafProof"
)

// DeserializationError indicates bytes that do not decode as the named
// structure.
type DeserializationError struct {
	Structure string
	Err       error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize %s: %v", e.Structure, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// ProtocolError indicates that a server answered, but not in the way the
// API requires: unexpected status or content type, undecodable JSON, a
// missing or malformed field, or a refused claim.
type ProtocolError struct {
	Endpoint   string
	StatusCode int    // HTTP status, 0 if not relevant
	Field      string // offending JSON field, empty if not relevant
	Body       []byte // (a prefix of) the response body, if any
	Err        error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: protocol error", e.Endpoint)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " in field %q", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CryptographicError indicates a signature or Merkle proof that does not
// verify.
type CryptographicError struct {
	What string // e.g. "STH signature"
	Err  error
}

func (e *CryptographicError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s", e.What)
	}
	return fmt.Sprintf("invalid %s: %v", e.What, e.Err)
}

func (e *CryptographicError) Unwrap() error { return e.Err }

// TransportError indicates that a server could not be reached, or that the
// connection failed or timed out before a complete answer arrived.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotificationTimeoutError indicates that the watch stream did not report
// an expected entry within the allowed time.
type NotificationTimeoutError struct {
	Index  uint64
	Waited time.Duration
}

func (e *NotificationTimeoutError) Error() string {
	return fmt.Sprintf("no notification for entry %d within %v", e.Index, e.Waited)
}
