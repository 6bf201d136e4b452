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

package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net/http"

	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/jsonclient"
)

// MonitorClient talks to the monitor, which hands out the data stored in
// leaves to parties that can prove an earlier claim on the same content.
type MonitorClient struct {
	jsonclient.JSONClient
	// Options for websocket connections opened by Watch.
	watchOpts WatchOptions
}

// NewMonitor constructs a client for the monitor at uri, e.g.
// http://127.0.0.1:3001.
func NewMonitor(uri string, hc *http.Client, opts jsonclient.Options) (*MonitorClient, error) {
	c, err := jsonclient.New(uri, hc, opts)
	if err != nil {
		return nil, err
	}
	return &MonitorClient{JSONClient: *c, watchOpts: DefaultWatchOptions()}, nil
}

// SetWatchOptions changes the keepalive settings used by later calls to
// Watch. Zero fields keep their defaults.
func (c *MonitorClient) SetWatchOptions(opts WatchOptions) {
	def := DefaultWatchOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	c.watchOpts = opts
}

// GetPubKey retrieves the monitor's public key, which is the log's key.
func (c *MonitorClient) GetPubKey(ctx context.Context) (ed25519.PublicKey, error) {
	return getPubKey(ctx, &c.JSONClient)
}

// ClaimPrivate presents an SOT, as returned by LogClient.SignEntry, and
// the proof of a later leaf for the same content. On success the monitor
// releases the leaf's private data.
func (c *MonitorClient) ClaimPrivate(ctx context.Context, sot, claimedLeafProof []byte) (string, error) {
	req := ct.ClaimPrivateRequest{SOT: sot, ClaimedLeaf: claimedLeafProof}
	return c.claim(ctx, ct.ClaimPrivatePath, req)
}

// ClaimPublic presents the proof of an earlier leaf together with a
// signature over that leaf by the key stored in it, and the proof of a
// later leaf for the same content. On success the monitor releases the
// later leaf's public data.
func (c *MonitorClient) ClaimPublic(ctx context.Context, claimingLeafProof, claimedLeafProof, claimingLeafSignature []byte) (string, error) {
	req := ct.ClaimPublicRequest{
		ClaimingLeaf:          claimingLeafProof,
		ClaimedLeaf:           claimedLeafProof,
		ClaimingLeafSignature: claimingLeafSignature,
	}
	return c.claim(ctx, ct.ClaimPublicPath, req)
}

func (c *MonitorClient) claim(ctx context.Context, path string, req interface{}) (string, error) {
	var resp ct.ClaimResponse
	if _, _, err := c.PostAndParse(ctx, path, req, &resp); err != nil {
		return "", err
	}
	if resp.Granted == nil {
		return "", &ct.ProtocolError{Endpoint: path, Field: "granted", Err: errors.New("missing field")}
	}
	if !*resp.Granted {
		return "", &ct.ProtocolError{Endpoint: path, Field: "granted", Err: ct.ErrClaimNotGranted}
	}
	if resp.Data == nil {
		return "", &ct.ProtocolError{Endpoint: path, Field: "data", Err: errors.New("missing field")}
	}
	return *resp.Data, nil
}
