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

// Package storage keeps client state in a local sqlite database: receipts
// (SOTs and inclusion proofs obtained for registered content), the client's
// claim keys, and the rounds stored by the checker.
package storage

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Load drivers for sqlite3
	ct "github.com/saarsec/certified-transparency"
	"k8s.io/klog/v2"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReceiptKind tells what a receipt holds.
type ReceiptKind string

// Receipt kinds.
const (
	// KindSOT is a raw StatementOfTransfer, obtained before registering.
	KindSOT ReceiptKind = "sot"
	// KindProof is a raw TreeLeafProof for a registered leaf.
	KindProof ReceiptKind = "proof"
)

// Receipt is a piece of evidence returned by the log.
type Receipt struct {
	ID          int64
	Kind        ReceiptKind
	ContentHash ct.Hash
	Name        string
	Data        []byte
	Created     time.Time
}

// Round is the state a checker needs to retrieve what it stored.
type Round struct {
	Server       string
	Round        int64
	ContentHash  ct.Hash
	SOT          []byte // raw SOT obtained before the entries were added
	ClaimIndex   uint64 // index of the entry owned by PrivateKey
	PayloadIndex uint64 // index of the entry carrying the data
	PrivateKey   ed25519.PrivateKey
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		content_hash BLOB NOT NULL,
		name TEXT NOT NULL,
		data BLOB,
		created INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS receipts_content_hash ON receipts (content_hash)`,
	`CREATE TABLE IF NOT EXISTS keys (
		name TEXT PRIMARY KEY,
		private_key BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		server TEXT NOT NULL,
		round INTEGER NOT NULL,
		content_hash BLOB NOT NULL,
		sot BLOB,
		claim_index INTEGER NOT NULL,
		payload_index INTEGER NOT NULL,
		private_key BLOB NOT NULL,
		PRIMARY KEY (server, round)
	)`,
}

// Storage is the client database.
type Storage struct {
	db *sql.DB
}

// Open opens, and creates if needed, the sqlite database in dbFile.
func Open(ctx context.Context, dbFile string) (*Storage, error) {
	if len(dbFile) == 0 {
		return nil, errors.New("database file is required")
	}
	klog.V(1).Infof("Opening local DB at %q", dbFile)
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}
	// Avoid multiple writes colliding and resulting in a "database locked"
	// error. This also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New uses an already opened database, creating the tables if needed.
func New(ctx context.Context, db *sql.DB) (*Storage, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %v", err)
		}
	}
	return &Storage{db: db}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveReceipt stores r and returns its ID. A zero Created is set to now.
func (s *Storage) SaveReceipt(ctx context.Context, r Receipt) (int64, error) {
	if r.Kind != KindSOT && r.Kind != KindProof {
		return 0, fmt.Errorf("unknown receipt kind %q", r.Kind)
	}
	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO receipts (kind, content_hash, name, data, created) VALUES (?, ?, ?, ?, ?)",
		string(r.Kind), r.ContentHash[:], r.Name, r.Data, r.Created.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to store receipt: %v", err)
	}
	return res.LastInsertId()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(row scanner) (*Receipt, error) {
	var (
		r       Receipt
		kind    string
		hash    []byte
		created int64
	)
	if err := row.Scan(&r.ID, &kind, &hash, &r.Name, &r.Data, &created); err != nil {
		return nil, err
	}
	h, err := ct.HashFromBytes(hash)
	if err != nil {
		return nil, fmt.Errorf("receipt %d: %v", r.ID, err)
	}
	r.Kind = ReceiptKind(kind)
	r.ContentHash = h
	r.Created = time.Unix(0, created)
	return &r, nil
}

const receiptColumns = "id, kind, content_hash, name, data, created"

// Receipt returns the receipt with the given ID.
func (s *Storage) Receipt(ctx context.Context, id int64) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+receiptColumns+" FROM receipts WHERE id = ?", id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %d: %w", id, ErrNotFound)
	}
	return r, err
}

// Receipts returns all receipts, oldest first.
func (s *Storage) Receipts(ctx context.Context) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+receiptColumns+" FROM receipts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// ReceiptsByContentHash groups all receipts by content hash.
func (s *Storage) ReceiptsByContentHash(ctx context.Context) (map[ct.Hash][]Receipt, error) {
	receipts, err := s.Receipts(ctx)
	if err != nil {
		return nil, err
	}
	byHash := make(map[ct.Hash][]Receipt)
	for _, r := range receipts {
		byHash[r.ContentHash] = append(byHash[r.ContentHash], r)
	}
	return byHash, nil
}

// ClientKey returns the Ed25519 key stored under name, generating and
// storing a new one on first use.
func (s *Storage) ClientKey(ctx context.Context, name string) (ed25519.PrivateKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't create db tx: %v", err)
	}
	defer tx.Rollback()

	var seed []byte
	err = tx.QueryRowContext(ctx, "SELECT private_key FROM keys WHERE name = ?", name).Scan(&seed)
	switch {
	case err == nil:
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("key %q: stored seed has %d bytes", name, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO keys (name, private_key) VALUES (?, ?)", name, key.Seed()); err != nil {
		return nil, fmt.Errorf("failed to store key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("Generated client key %q", name)
	return key, nil
}

// SaveRound stores r, replacing an earlier round with the same server and
// number.
func (s *Storage) SaveRound(ctx context.Context, r Round) error {
	if len(r.PrivateKey) != ed25519.PrivateKeySize {
		return errors.New("round has no valid private key")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rounds (server, round, content_hash, sot, claim_index, payload_index, private_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Server, r.Round, r.ContentHash[:], r.SOT, int64(r.ClaimIndex), int64(r.PayloadIndex), r.PrivateKey.Seed())
	if err != nil {
		return fmt.Errorf("failed to store round: %v", err)
	}
	return nil
}

// Round returns a stored round.
func (s *Storage) Round(ctx context.Context, server string, round int64) (*Round, error) {
	var (
		r                    = Round{Server: server, Round: round}
		hash, seed           []byte
		claimIdx, payloadIdx int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash, sot, claim_index, payload_index, private_key FROM rounds WHERE server = ? AND round = ?",
		server, round).Scan(&hash, &r.SOT, &claimIdx, &payloadIdx, &seed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("round %d for %s: %w", round, server, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.ContentHash, err = ct.HashFromBytes(hash); err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("round %d for %s: stored seed has %d bytes", round, server, len(seed))
	}
	r.PrivateKey = ed25519.NewKeyFromSeed(seed)
	r.ClaimIndex, r.PayloadIndex = uint64(claimIdx), uint64(payloadIdx)
	return &r, nil
}
