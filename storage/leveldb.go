package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/tolelom/rescuechain/core"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Reset()                { b.b.Reset() }
func (b *levelBatch) Write() error          { return b.db.Write(b.b, nil) }

// ---- JournalStore implementation ----

const (
	prefixEntry = "journal:entry:"
	keyTip      = "journal:tip"
)

// KVJournalStore implements core.JournalStore on top of any DB.
type KVJournalStore struct {
	db DB
}

// NewJournalStore wraps db as a JournalStore.
func NewJournalStore(db DB) *KVJournalStore {
	return &KVJournalStore{db: db}
}

func entryKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEntry, height))
}

func (s *KVJournalStore) GetEntry(height uint64) (*core.Entry, error) {
	data, err := s.db.Get(entryKey(height))
	if err != nil {
		return nil, err
	}
	var e core.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *KVJournalStore) GetTip() (uint64, bool, error) {
	val, err := s.db.Get([]byte(keyTip))
	if errors.Is(err, core.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt journal tip (%d bytes)", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

func (s *KVJournalStore) CommitEntry(e *core.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var tip [8]byte
	binary.BigEndian.PutUint64(tip[:], e.Header.Height)

	batch := s.db.NewBatch()
	batch.Set(entryKey(e.Header.Height), data)
	batch.Set([]byte(keyTip), tip[:])
	return batch.Write()
}
