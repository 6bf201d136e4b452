// Copyright 2014 Google Inc. All Rights Reserved.
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

// Package client is a certified-transparency client implementation. It
// talks to the log server and the monitor over their JSON APIs, and follows
// the monitor's websocket stream of new entries.
package client

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/jsonclient"
)

// LogClient represents a client for a given log server instance.
type LogClient struct {
	jsonclient.JSONClient
}

// New constructs a new LogClient instance.
// |uri| is the base URI of the log server to interact with, e.g.
// http://127.0.0.1:3000
// |hc| is the underlying client to be used for HTTP requests to the server.
// |opts| can be used to provide a custom user agent.
func New(uri string, hc *http.Client, opts jsonclient.Options) (*LogClient, error) {
	logClient, err := jsonclient.New(uri, hc, opts)
	if err != nil {
		return nil, err
	}
	return &LogClient{*logClient}, nil
}

// decodeB64 decodes a required base64 field of a response from endpoint.
func decodeB64(endpoint, field string, v *string) ([]byte, error) {
	if v == nil {
		return nil, &ct.ProtocolError{Endpoint: endpoint, Field: field, Err: fmt.Errorf("missing field")}
	}
	data, err := base64.StdEncoding.DecodeString(*v)
	if err != nil {
		return nil, &ct.ProtocolError{Endpoint: endpoint, Field: field, Err: err}
	}
	return data, nil
}

// getPubKey is shared by the log and monitor clients, both servers publish
// their key the same way.
func getPubKey(ctx context.Context, c *jsonclient.JSONClient) (ed25519.PublicKey, error) {
	var resp ct.GetPubKeyResponse
	if _, _, err := c.GetAndParse(ctx, ct.GetPubKeyPath, nil, &resp); err != nil {
		return nil, err
	}
	key, err := decodeB64(ct.GetPubKeyPath, "pubkey", resp.PubKey)
	if err != nil {
		return nil, err
	}
	if len(key) != ct.PublicKeyLength {
		return nil, &ct.ProtocolError{
			Endpoint: ct.GetPubKeyPath,
			Field:    "pubkey",
			Err:      fmt.Errorf("%w: got %d bytes", ct.ErrInvalidPubKey, len(key)),
		}
	}
	return ed25519.PublicKey(key), nil
}

// GetPubKey retrieves the log's public key.
func (c *LogClient) GetPubKey(ctx context.Context) (ed25519.PublicKey, error) {
	return getPubKey(ctx, &c.JSONClient)
}

// GetSTH retrieves the current STH from the log. The signature is not
// checked here; see ct.SignatureVerifier.
func (c *LogClient) GetSTH(ctx context.Context) (*ct.SignedTreeHead, error) {
	var resp ct.GetSTHResponse
	if _, _, err := c.GetAndParse(ctx, ct.GetSTHPath, nil, &resp); err != nil {
		return nil, err
	}
	data, err := decodeB64(ct.GetSTHPath, "sth", resp.STH)
	if err != nil {
		return nil, err
	}
	return ct.ParseSignedTreeHead(data)
}

// GetEntryAndProof retrieves the leaf at index together with its inclusion
// proof, returning both the parsed proof and the exact bytes the server
// sent. The proof is not verified.
func (c *LogClient) GetEntryAndProof(ctx context.Context, index uint64) (*ct.TreeLeafProof, []byte, error) {
	params := map[string]string{"leaf_index": strconv.FormatUint(index, 10)}
	var resp ct.GetEntryAndProofResponse
	if _, _, err := c.GetAndParse(ctx, ct.GetEntryAndProofPath, params, &resp); err != nil {
		return nil, nil, err
	}
	data, err := decodeB64(ct.GetEntryAndProofPath, "proof", resp.Proof)
	if err != nil {
		return nil, nil, err
	}
	proof, err := ct.ParseTreeLeafProof(data)
	if err != nil {
		return nil, nil, err
	}
	return proof, data, nil
}

// AddEntry appends a leaf to the log and returns its index.
func (c *LogClient) AddEntry(ctx context.Context, req ct.AddEntryRequest) (uint64, error) {
	var resp ct.AddEntryResponse
	if _, _, err := c.PostAndParse(ctx, ct.AddEntryPath, req, &resp); err != nil {
		return 0, err
	}
	if resp.Index == nil {
		return 0, &ct.ProtocolError{Endpoint: ct.AddEntryPath, Field: "index", Err: fmt.Errorf("missing field")}
	}
	return *resp.Index, nil
}

// SignEntry asks the log for a statement of transfer for contentHash under
// name. It returns the parsed SOT and the raw bytes, which are what a later
// private claim has to present. The signature is not checked here.
func (c *LogClient) SignEntry(ctx context.Context, contentHash ct.Hash, name string) (*ct.StatementOfTransfer, []byte, error) {
	req := ct.SignEntryRequest{ContentHash: contentHash[:], Name: name}
	var resp ct.SignEntryResponse
	if _, _, err := c.PostAndParse(ctx, ct.SignEntryPath, req, &resp); err != nil {
		return nil, nil, err
	}
	data, err := decodeB64(ct.SignEntryPath, "sot", resp.SOT)
	if err != nil {
		return nil, nil, err
	}
	sot, err := ct.ParseStatementOfTransfer(data)
	if err != nil {
		return nil, nil, err
	}
	return sot, data, nil
}
