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

// Package checker exercises a log and monitor pair end to end: it stores
// data in the log behind two kinds of claims, and later checks that both
// claims still release that data and that every proof involved verifies.
package checker

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/client"
	"github.com/saarsec/certified-transparency/merkletree"
	"github.com/saarsec/certified-transparency/storage"
	"k8s.io/klog/v2"
)

var (
	// ErrDataMissing indicates that a claim was granted but did not return
	// the data stored in that round.
	ErrDataMissing = errors.New("stored data missing")
	// ErrRoundNotStored indicates a Retrieve for a round without a
	// successful Store.
	ErrRoundNotStored = errors.New("round not stored")
)

// PayloadOwner is the name under which the data carrying entries are added.
const PayloadOwner = "Certified Transparency Checker"

// RoundStore persists what Store needs to hand over to Retrieve.
type RoundStore interface {
	SaveRound(ctx context.Context, r storage.Round) error
	Round(ctx context.Context, server string, round int64) (*storage.Round, error)
}

// Options configures a Checker.
type Options struct {
	// Jitter returns the pause taken between the steps of Store. Nil means
	// no pause.
	Jitter func() time.Duration
	// WatchTimeout bounds the wait for the notification of the stored
	// entry.
	WatchTimeout time.Duration
	// NameSource returns names for the SOT and the claiming entry. Random
	// UUIDs if nil.
	NameSource func() string
}

// Checker checks one log and monitor pair.
type Checker struct {
	log     *client.LogClient
	monitor *client.MonitorClient
	keys    *client.PubKeyCache
	rounds  RoundStore
	opts    Options
}

// New returns a Checker for the given servers. The key cache may be shared
// between checkers of different servers.
func New(log *client.LogClient, monitor *client.MonitorClient, keys *client.PubKeyCache, rounds RoundStore, opts Options) *Checker {
	if opts.WatchTimeout <= 0 {
		opts.WatchTimeout = 10 * time.Second
	}
	if opts.NameSource == nil {
		opts.NameSource = func() string { return uuid.NewString() }
	}
	return &Checker{log: log, monitor: monitor, keys: keys, rounds: rounds, opts: opts}
}

func (c *Checker) server() string {
	return c.log.BaseURI()
}

func (c *Checker) pause(ctx context.Context) error {
	if c.opts.Jitter == nil {
		return nil
	}
	t := time.NewTimer(c.opts.Jitter())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Checker) verifier(ctx context.Context) (*ct.SignatureVerifier, error) {
	key, err := c.keys.Get(ctx, c.log)
	if err != nil {
		return nil, err
	}
	return ct.NewSignatureVerifier(key)
}

// CheckIntegrity refreshes the log's public key and checks the signature on
// its current STH.
func (c *Checker) CheckIntegrity(ctx context.Context) error {
	c.keys.Invalidate(c.server())
	v, err := c.verifier(ctx)
	if err != nil {
		return err
	}
	sth, err := c.log.GetSTH(ctx)
	if err != nil {
		return err
	}
	if err := v.VerifySTHSignature(*sth); err != nil {
		return err
	}
	klog.V(1).Infof("%s: STH for %d entries verified", c.server(), sth.Size)
	return nil
}

// Store registers fresh content, adds an entry owned by a new key for it and
// then an entry carrying privateData and publicData, and waits until the
// monitor reports the latter. The round is saved before the wait, so it can
// be retrieved even if the notification never arrives.
func (c *Checker) Store(ctx context.Context, round int64, privateData, publicData string) error {
	var contentHash ct.Hash
	if _, err := rand.Read(contentHash[:]); err != nil {
		return err
	}
	v, err := c.verifier(ctx)
	if err != nil {
		return err
	}

	sot, rawSOT, err := c.log.SignEntry(ctx, contentHash, c.opts.NameSource())
	if err != nil {
		return err
	}
	if err := v.VerifySOTSignature(*sot); err != nil {
		return err
	}
	if sot.ContentHash != contentHash {
		return &ct.ProtocolError{Endpoint: ct.SignEntryPath, Field: "sot", Err: fmt.Errorf("SOT for content %v, want %v", sot.ContentHash, contentHash)}
	}

	w, err := c.monitor.Watch(ctx)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := c.pause(ctx); err != nil {
		return err
	}

	claimPub, claimKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	claim := ct.AddEntryRequest{ContentHash: contentHash[:], Name: c.opts.NameSource(), PubKey: claimPub}
	claimIndex, err := c.log.AddEntry(ctx, claim)
	if err != nil {
		return err
	}
	if claimIndex < 2 {
		// Filler entry for logs with fewer than three entries.
		claim.Name = c.opts.NameSource()
		if _, err := c.log.AddEntry(ctx, claim); err != nil {
			return err
		}
	}
	if err := c.pause(ctx); err != nil {
		return err
	}

	payloadPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	payloadIndex, err := c.log.AddEntry(ctx, ct.AddEntryRequest{
		ContentHash: contentHash[:],
		Name:        PayloadOwner,
		PubKey:      payloadPub,
		DataPrivate: privateData,
		DataPublic:  publicData,
	})
	if err != nil {
		return err
	}

	if err := c.rounds.SaveRound(ctx, storage.Round{
		Server:       c.server(),
		Round:        round,
		ContentHash:  contentHash,
		SOT:          rawSOT,
		ClaimIndex:   claimIndex,
		PayloadIndex: payloadIndex,
		PrivateKey:   claimKey,
	}); err != nil {
		return err
	}
	klog.V(1).Infof("%s: round %d stored at entries %d and %d", c.server(), round, claimIndex, payloadIndex)

	_, err = w.WaitForEntry(ctx, payloadIndex, contentHash, c.opts.WatchTimeout)
	return err
}

// checkProof verifies the head signature and the audit path of proof, and
// that it proves an entry for contentHash.
func checkProof(v *ct.SignatureVerifier, contentHash ct.Hash, proof *ct.TreeLeafProof) error {
	if err := v.VerifySTHSignature(proof.Head); err != nil {
		return err
	}
	if err := merkletree.VerifyLeafProof(proof); err != nil {
		return err
	}
	leaf, err := proof.DecodeLeaf()
	if err != nil {
		return err
	}
	if leaf.ContentHash != contentHash {
		return &ct.ProtocolError{
			Endpoint: ct.GetEntryAndProofPath,
			Field:    "proof",
			Err:      fmt.Errorf("proof for content %v, want %v", leaf.ContentHash, contentHash),
		}
	}
	return nil
}

// Retrieve checks that the data stored in round can be claimed both with
// the round's SOT and with the round's claiming entry.
func (c *Checker) Retrieve(ctx context.Context, round int64, wantPrivate, wantPublic string) error {
	r, err := c.rounds.Round(ctx, c.server(), round)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrRoundNotStored, err)
	}
	if err != nil {
		return err
	}
	v, err := c.verifier(ctx)
	if err != nil {
		return err
	}

	payload, rawPayload, err := c.log.GetEntryAndProof(ctx, r.PayloadIndex)
	if err != nil {
		return err
	}
	if err := checkProof(v, r.ContentHash, payload); err != nil {
		return err
	}
	got, err := c.monitor.ClaimPrivate(ctx, r.SOT, rawPayload)
	if err != nil {
		return err
	}
	if got != wantPrivate {
		return fmt.Errorf("%w: private claim on entry %d returned %q", ErrDataMissing, r.PayloadIndex, got)
	}

	claiming, rawClaiming, err := c.log.GetEntryAndProof(ctx, r.ClaimIndex)
	if err != nil {
		return err
	}
	if err := checkProof(v, r.ContentHash, claiming); err != nil {
		return err
	}
	sig := ct.SignLeaf(r.PrivateKey, claiming.Leaf)
	got, err = c.monitor.ClaimPublic(ctx, rawClaiming, rawPayload, sig)
	if err != nil {
		return err
	}
	if got != wantPublic {
		return fmt.Errorf("%w: public claim on entry %d returned %q", ErrDataMissing, r.PayloadIndex, got)
	}
	klog.V(1).Infof("%s: round %d retrieved", c.server(), round)
	return nil
}

// FinishCycle forgets the cached key of the log, so the next cycle starts
// from the key the server presents then.
func (c *Checker) FinishCycle() {
	c.keys.Invalidate(c.server())
}
