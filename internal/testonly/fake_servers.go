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

package testonly

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	ct "github.com/saarsec/certified-transparency"
	"github.com/saarsec/certified-transparency/merkletree"
)

// FakeLog serves the log and monitor APIs from an in-memory tree, signing
// with Key. Proofs and claims follow the same rules as the real servers,
// except that leaf data is stored in the clear. For testing.
type FakeLog struct {
	Key ed25519.PrivateKey
	// Now provides timestamps; time.Now if nil. Set before serving.
	Now func() time.Time

	mu          sync.Mutex
	mutateProof func(*ct.TreeLeafProof)
	mutateSOT   func(*ct.StatementOfTransfer)
	tree        *Tree
	messages    [][]byte      // watch notifications, one per leaf
	wake        chan struct{} // closed and replaced when a message is added
	quit        chan struct{}
	closed      bool
}

// NewFakeLog returns an empty log signing with key.
func NewFakeLog(key ed25519.PrivateKey) *FakeLog {
	return &FakeLog{
		Key:  key,
		tree: NewTree(),
		wake: make(chan struct{}),
		quit: make(chan struct{}),
	}
}

// PubKey returns the raw public key of the log.
func (f *FakeLog) PubKey() ed25519.PublicKey {
	return f.Key.Public().(ed25519.PublicKey)
}

// Close disconnects all watchers.
func (f *FakeLog) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.quit)
	}
}

func (f *FakeLog) timestamp() ct.Timestamp {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	ts, err := ct.TimestampFromTime(now().UTC())
	if err != nil {
		panic(err)
	}
	return ts
}

// MutateProofs makes the log apply fn to every proof before it is signed
// and served. Nil restores honest proofs.
func (f *FakeLog) MutateProofs(fn func(*ct.TreeLeafProof)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutateProof = fn
}

// MutateSOTs makes the log apply fn to every SOT after it is signed. Nil
// restores honest SOTs.
func (f *FakeLog) MutateSOTs(fn func(*ct.StatementOfTransfer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutateSOT = fn
}

// Size returns the number of leaves in the log.
func (f *FakeLog) Size() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tree.Size()
}

// AddLeaf appends leaf to the tree and notifies watchers.
func (f *FakeLog) AddLeaf(leaf ct.TreeLeaf) uint64 {
	data := leaf.Serialize()
	f.mu.Lock()
	defer f.mu.Unlock()
	index := f.tree.Append(data)
	msg, _ := json.Marshal(struct {
		Index uint64 `json:"index"`
		Leaf  []byte `json:"leaf"`
	}{Index: index, Leaf: data})
	f.messages = append(f.messages, msg)
	close(f.wake)
	f.wake = make(chan struct{})
	return index
}

// Head returns the signed head of the current tree.
func (f *FakeLog) Head() ct.SignedTreeHead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headLocked()
}

func (f *FakeLog) headLocked() ct.SignedTreeHead {
	sth := ct.SignedTreeHead{Size: f.tree.Size(), Timestamp: f.timestamp(), Hash: f.tree.Root()}
	ct.SignSTH(f.Key, &sth)
	return sth
}

// Proof returns a signed inclusion proof for the leaf at index against the
// current tree.
func (f *FakeLog) Proof(index uint64) (*ct.TreeLeafProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= f.tree.Size() {
		return nil, fmt.Errorf("index %d does not exist", index)
	}
	p := f.tree.Proof(index)
	p.Head.Timestamp = f.timestamp()
	if f.mutateProof != nil {
		f.mutateProof(p)
	}
	ct.SignSTH(f.Key, &p.Head)
	return p, nil
}

// SignEntry issues a signed SOT.
func (f *FakeLog) SignEntry(contentHash ct.Hash, name string) ct.StatementOfTransfer {
	sot := ct.StatementOfTransfer{Timestamp: f.timestamp(), ContentHash: contentHash, Name: name}
	ct.SignSOT(f.Key, &sot)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateSOT != nil {
		f.mutateSOT(&sot)
	}
	return sot
}

// LogHandler returns the handler for the log server API.
func (f *FakeLog) LogHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(ct.GetPubKeyPath, f.getPubKey).Methods(http.MethodGet)
	r.HandleFunc(ct.GetSTHPath, f.getSTH).Methods(http.MethodGet)
	r.HandleFunc(ct.GetEntriesPath, f.getEntries).Methods(http.MethodGet)
	r.HandleFunc(ct.GetEntryAndProofPath, f.getEntryAndProof).Methods(http.MethodGet)
	r.HandleFunc(ct.AddEntryPath, f.addEntry).Methods(http.MethodPost)
	r.HandleFunc(ct.SignEntryPath, f.signEntry).Methods(http.MethodPost)
	return r
}

// MonitorHandler returns the handler for the monitor API.
func (f *FakeLog) MonitorHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(ct.GetPubKeyPath, f.getPubKey).Methods(http.MethodGet)
	r.HandleFunc(ct.ClaimPrivatePath, f.claimPrivate).Methods(http.MethodPost)
	r.HandleFunc(ct.ClaimPublicPath, f.claimPublic).Methods(http.MethodPost)
	r.HandleFunc(ct.WatchPath, f.watch).Methods(http.MethodGet)
	return r
}

func respondJSON(w http.ResponseWriter, rsp interface{}) {
	data, err := json.Marshal(rsp)
	if err != nil {
		http.Error(w, "cannot serialize response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}

func (f *FakeLog) getPubKey(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string][]byte{"pubkey": f.PubKey()})
}

func (f *FakeLog) getSTH(w http.ResponseWriter, r *http.Request) {
	sth := f.Head()
	respondJSON(w, map[string][]byte{"sth": sth.Serialize()})
}

func (f *FakeLog) getEntries(w http.ResponseWriter, r *http.Request) {
	start, err1 := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
	end, err2 := strconv.ParseUint(r.URL.Query().Get("end"), 10, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	size := f.tree.Size()
	if err1 != nil || err2 != nil || end <= start || end-start > ct.MaxEntriesPerRequest || start >= size {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}
	leaves := [][]byte{}
	for i := start; i < end && i < size; i++ {
		leaves = append(leaves, f.tree.Leaf(i))
	}
	respondJSON(w, map[string][][]byte{"leaves": leaves})
}

func (f *FakeLog) getEntryAndProof(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.URL.Query().Get("leaf_index"), 10, 64)
	if err != nil {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}
	p, err := f.Proof(index)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, map[string][]byte{"proof": p.Serialize()})
}

func (f *FakeLog) addEntry(w http.ResponseWriter, r *http.Request) {
	var req ct.AddEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	contentHash, err := ct.HashFromBytes(req.ContentHash)
	if err != nil || len(req.Name) > ct.MaxNameLength || len(req.PubKey) != ct.PublicKeyLength {
		http.Error(w, "invalid entry", http.StatusBadRequest)
		return
	}
	index := f.AddLeaf(ct.TreeLeaf{
		Created:              f.timestamp(),
		ContentHash:          contentHash,
		Name:                 req.Name,
		PubKey:               req.PubKey,
		DataForPrivateClaims: []byte(req.DataPrivate),
		DataForPublicClaims:  []byte(req.DataPublic),
	})
	respondJSON(w, map[string]uint64{"index": index})
}

func (f *FakeLog) signEntry(w http.ResponseWriter, r *http.Request) {
	var req ct.SignEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	contentHash, err := ct.HashFromBytes(req.ContentHash)
	if err != nil || len(req.Name) > ct.MaxNameLength {
		http.Error(w, "invalid entry", http.StatusBadRequest)
		return
	}
	sot := f.SignEntry(contentHash, req.Name)
	respondJSON(w, map[string][]byte{"sot": sot.Serialize()})
}

type claimResponse struct {
	Granted bool   `json:"granted"`
	Data    string `json:"data"`
}

// verifiedProof parses a proof and checks it the way the monitor does.
func (f *FakeLog) verifiedProof(data []byte) (*ct.TreeLeafProof, *ct.TreeLeaf, error) {
	p, err := ct.ParseTreeLeafProof(data)
	if err != nil {
		return nil, nil, err
	}
	v := ct.SignatureVerifier{PubKey: f.PubKey()}
	if err := v.VerifySTHSignature(p.Head); err != nil {
		return nil, nil, err
	}
	if err := merkletree.VerifyLeafProof(p); err != nil {
		return nil, nil, err
	}
	leaf, err := p.DecodeLeaf()
	if err != nil {
		return nil, nil, err
	}
	return p, leaf, nil
}

func (f *FakeLog) claimPrivate(w http.ResponseWriter, r *http.Request) {
	var req ct.ClaimPrivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sot, err := ct.ParseStatementOfTransfer(req.SOT)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := (ct.SignatureVerifier{PubKey: f.PubKey()}).VerifySOTSignature(*sot); err != nil {
		http.Error(w, "invalid SOT", http.StatusBadRequest)
		return
	}
	_, leaf, err := f.verifiedProof(req.ClaimedLeaf)
	if err != nil {
		http.Error(w, "invalid leaf proof", http.StatusBadRequest)
		return
	}
	if sot.ContentHash != leaf.ContentHash {
		http.Error(w, "this is not your content", http.StatusBadRequest)
		return
	}
	sotTime, err1 := sot.Timestamp.Time()
	leafTime, err2 := leaf.Created.Time()
	if err1 != nil || err2 != nil || !sotTime.Before(leafTime) {
		http.Error(w, "claimed content was first", http.StatusBadRequest)
		return
	}
	respondJSON(w, claimResponse{Granted: true, Data: string(leaf.DataForPrivateClaims)})
}

func (f *FakeLog) claimPublic(w http.ResponseWriter, r *http.Request) {
	var req ct.ClaimPublicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	claimer, claimerLeaf, err := f.verifiedProof(req.ClaimingLeaf)
	if err != nil {
		http.Error(w, "invalid claiming leaf proof", http.StatusBadRequest)
		return
	}
	claimed, claimedLeaf, err := f.verifiedProof(req.ClaimedLeaf)
	if err != nil {
		http.Error(w, "invalid claimed leaf proof", http.StatusBadRequest)
		return
	}
	if claimerLeaf.ContentHash != claimedLeaf.ContentHash {
		http.Error(w, "this is not your content", http.StatusBadRequest)
		return
	}
	if claimed.Index <= claimer.Index {
		http.Error(w, "claimed content was first", http.StatusBadRequest)
		return
	}
	if err := ct.VerifyLeafSignature(claimerLeaf.PubKey, claimer.Leaf, req.ClaimingLeafSignature); err != nil {
		http.Error(w, "invalid claiming leaf signature", http.StatusBadRequest)
		return
	}
	respondJSON(w, claimResponse{Granted: true, Data: string(claimedLeaf.DataForPublicClaims)})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watch streams a notification for every leaf appended after the request
// arrived.
func (f *FakeLog) watch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	next := len(f.messages)
	f.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		f.mu.Lock()
		pending := f.messages[next:]
		wake := f.wake
		f.mu.Unlock()
		for _, msg := range pending {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			next++
		}
		select {
		case <-wake:
		case <-done:
			return
		case <-f.quit:
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// SendRaw is a handler that upgrades to a websocket and writes the given
// text messages, then keeps the connection open until the client leaves.
func SendRaw(messages ...[]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
