package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixMeta     = registerPrefix("meta:")
	prefixMission  = registerPrefix("mission:")
	prefixAnimal   = registerPrefix("animal:")
	prefixLevel    = registerPrefix("level:")
	prefixStats    = registerPrefix("stats:")
	prefixSequence = registerPrefix("seq:")
	prefixRescues  = registerPrefix("rescues:")
	prefixPlay     = registerPrefix("play:")
	prefixPayout   = registerPrefix("payout:")
)

var (
	keyAuthority = prefixMeta + "authority"
	keyParams    = prefixMeta + "params"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

func idKey(prefix string, id uint64) string {
	return fmt.Sprintf("%s%020d", prefix, id)
}

func addrKey(prefix string, addr common.Address) string {
	return prefix + strings.ToLower(addr.Hex())
}

// ---- Account ----

func (s *StateDB) GetAccount(addr common.Address) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(addrKey(prefixAccount, addr), &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: addr}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(addrKey(prefixAccount, acc.Address), acc)
}

// ---- Authority / Params ----

func (s *StateDB) GetAuthority() (*core.Authority, error) {
	var a core.Authority
	if err := s.getJSON(keyAuthority, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAuthority(a *core.Authority) error {
	return s.setJSON(keyAuthority, a)
}

func (s *StateDB) GetParams() (*core.Params, error) {
	var p core.Params
	err := s.getJSON(keyParams, &p)
	if errors.Is(err, core.ErrNotFound) {
		p = core.DefaultParams()
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetParams(p *core.Params) error {
	return s.setJSON(keyParams, p)
}

// ---- Mission ----

func (s *StateDB) GetMission(id uint64) (*core.Mission, error) {
	var m core.Mission
	if err := s.getJSON(idKey(prefixMission, id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMission(m *core.Mission) error {
	return s.setJSON(idKey(prefixMission, m.ID), m)
}

// ---- Animal ----

func (s *StateDB) GetAnimal(id uint64) (*core.Animal, error) {
	var a core.Animal
	if err := s.getJSON(idKey(prefixAnimal, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAnimal(a *core.Animal) error {
	return s.setJSON(idKey(prefixAnimal, a.ID), a)
}

// ---- Level ----

func (s *StateDB) GetLevel(id uint64) (*core.Level, error) {
	var l core.Level
	if err := s.getJSON(idKey(prefixLevel, id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetLevel(l *core.Level) error {
	return s.setJSON(idKey(prefixLevel, l.ID), l)
}

// ---- Stats ----

func (s *StateDB) GetStats(addr common.Address) (*core.PlayerStats, error) {
	var st core.PlayerStats
	err := s.getJSON(addrKey(prefixStats, addr), &st)
	if errors.Is(err, core.ErrNotFound) {
		return &core.PlayerStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *StateDB) SetStats(addr common.Address, st *core.PlayerStats) error {
	return s.setJSON(addrKey(prefixStats, addr), st)
}

// ---- Daily rescues ----

func (s *StateDB) GetDailyRescues(addr common.Address, day int64) (uint64, error) {
	data, err := s.get(fmt.Sprintf("%s:%d", addrKey(prefixRescues, addr), day))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt rescue count for %s", addr.Hex())
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *StateDB) SetDailyRescues(addr common.Address, day int64, n uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	s.set(fmt.Sprintf("%s:%d", addrKey(prefixRescues, addr), day), buf)
	return nil
}

// ---- Plays ----

func (s *StateDB) GetPlay(addr common.Address) (*core.Play, error) {
	var p core.Play
	if err := s.getJSON(addrKey(prefixPlay, addr), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPlay(p *core.Play) error {
	return s.setJSON(addrKey(prefixPlay, p.Player), p)
}

func (s *StateDB) DeletePlay(addr common.Address) error {
	s.del(addrKey(prefixPlay, addr))
	return nil
}

// ---- Payouts ----

func (s *StateDB) GetPayout(id uint64) (*core.Payout, error) {
	var p core.Payout
	if err := s.getJSON(idKey(prefixPayout, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPayout(p *core.Payout) error {
	return s.setJSON(idKey(prefixPayout, p.ID), p)
}

// ---- Sequences ----

func (s *StateDB) PeekSequence(name string) (uint64, error) {
	data, err := s.get(prefixSequence + name)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt sequence %q", name)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *StateDB) NextSequence(name string) (uint64, error) {
	cur, err := s.PeekSequence(name)
	if err != nil {
		return 0, err
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, cur+1)
	s.set(prefixSequence+name, next)
	return cur, nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete state. It merges
// all persisted entries under the known state prefixes with the write buffer,
// then hashes the sorted key-value pairs using length-prefix encoding. It
// does not flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

