package core

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tolelom/rescuechain/crypto"
)

// GenesisHash is the canonical all-zeros previous hash of entry #0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EntryHeader contains the entry metadata that is hashed and signed.
type EntryHeader struct {
	Height    uint64         `json:"height"`
	PrevHash  string         `json:"prev_hash"`
	TxID      string         `json:"tx_id"`
	TxType    TxType         `json:"tx_type"`
	From      common.Address `json:"from"`
	Value     uint64         `json:"value"`
	StateRoot string         `json:"state_root"` // hash of state after applying the tx
	Timestamp int64          `json:"timestamp"`
	Signer    common.Address `json:"signer"` // node key that appended the entry
}

// Entry is one committed operation in the audit journal. Entries form a
// hash chain through PrevHash.
type Entry struct {
	Header    EntryHeader   `json:"header"`
	Hash      string        `json:"hash"`
	Signature hexutil.Bytes `json:"signature"`
}

// NewEntry creates an unsigned entry for tx at height.
func NewEntry(height uint64, prevHash string, tx *Transaction, stateRoot string) *Entry {
	return &Entry{
		Header: EntryHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxID:      tx.ID,
			TxType:    tx.Type,
			From:      tx.From,
			Value:     tx.Value,
			StateRoot: stateRoot,
			Timestamp: time.Now().UnixNano(),
		},
	}
}

// ComputeHash returns the Keccak-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (e *Entry) ComputeHash() string {
	data, err := json.Marshal(e.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign records the signer, sets Hash and signs it with priv.
func (e *Entry) Sign(priv *ecdsa.PrivateKey) error {
	e.Header.Signer = crypto.Address(priv)
	e.Hash = e.ComputeHash()
	sig, err := crypto.SignMessage(priv, []byte(e.Hash))
	if err != nil {
		return fmt.Errorf("sign entry: %w", err)
	}
	e.Signature = sig
	return nil
}

// Verify checks the hash and that the signature was made by Header.Signer.
func (e *Entry) Verify() error {
	if e.Hash != e.ComputeHash() {
		return fmt.Errorf("entry %d: hash mismatch", e.Header.Height)
	}
	signer, err := crypto.RecoverMessage([]byte(e.Hash), e.Signature)
	if err != nil {
		return fmt.Errorf("entry %d: %w", e.Header.Height, err)
	}
	if signer != e.Header.Signer {
		return fmt.Errorf("entry %d: %w: signed by %s", e.Header.Height, ErrInvalidSignature, signer.Hex())
	}
	return nil
}

// JournalStore is the persistence interface used by Journal.
// Implementations live in the storage package.
type JournalStore interface {
	GetEntry(height uint64) (*Entry, error)
	// GetTip returns the height of the newest entry and whether any exists.
	GetTip() (uint64, bool, error)
	// CommitEntry atomically writes the entry and advances the tip.
	CommitEntry(e *Entry) error
}

// Journal is the append-only, hash-linked record of committed operations.
type Journal struct {
	mu    sync.RWMutex
	store JournalStore
	tip   *Entry
}

// NewJournal returns a Journal backed by store.
// Call Init() to load an existing tip from storage.
func NewJournal(store JournalStore) *Journal {
	return &Journal{store: store}
}

// Init loads the persisted tip from the store.
func (j *Journal) Init() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	height, ok, err := j.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if !ok {
		return nil // fresh journal
	}
	tip, err := j.store.GetEntry(height)
	if err != nil {
		return fmt.Errorf("load tip entry: %w", err)
	}
	j.tip = tip
	return nil
}

// Append validates height continuity and PrevHash linkage, then persists the
// entry and advances the tip.
func (j *Journal) Append(e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.tip == nil {
		if e.Header.Height != 0 || e.Header.PrevHash != GenesisHash {
			return fmt.Errorf("first entry must be height 0 on the genesis hash")
		}
	} else {
		if e.Header.Height != j.tip.Header.Height+1 {
			return fmt.Errorf("entry height %d does not follow tip %d", e.Header.Height, j.tip.Header.Height)
		}
		if e.Header.PrevHash != j.tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", e.Header.PrevHash, j.tip.Hash)
		}
	}
	if e.Hash != e.ComputeHash() {
		return fmt.Errorf("entry hash mismatch")
	}

	if err := j.store.CommitEntry(e); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}
	j.tip = e
	return nil
}

// Next returns the height and PrevHash the next appended entry must carry.
func (j *Journal) Next() (uint64, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.tip == nil {
		return 0, GenesisHash
	}
	return j.tip.Header.Height + 1, j.tip.Hash
}

// GetEntry returns the entry at height.
func (j *Journal) GetEntry(height uint64) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.store.GetEntry(height)
}

// Tip returns the newest entry, or nil for a fresh journal.
func (j *Journal) Tip() *Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tip
}

// Height returns the height of the tip (0 for a fresh journal).
func (j *Journal) Height() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.tip == nil {
		return 0
	}
	return j.tip.Header.Height
}
