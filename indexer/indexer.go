// Package indexer maintains secondary indexes over committed operations so
// callers can list animals and rescued missions by account without scanning
// full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/tolelom/rescuechain/core"
	"github.com/tolelom/rescuechain/events"
	"github.com/tolelom/rescuechain/storage"
)

const (
	prefixOwnerAnimals   = "idx:owner:animal:"
	prefixRescuerMission = "idx:rescuer:mission:"
)

// Indexer subscribes to ledger events and updates secondary lookup tables.
// Events are delivered inside the ledger's write section, so readers that
// hold the ledger read lock see the index and the state in step.
type Indexer struct {
	db  storage.DB
	log log.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, log: log.New("module", "indexer")}
	emitter.Subscribe(events.EventAssetIssued, idx.onAssetIssued)
	emitter.Subscribe(events.EventAssetTransfer, idx.onAssetTransferred)
	emitter.Subscribe(events.EventMissionCompleted, idx.onMissionCompleted)
	return idx
}

// AnimalsByOwner returns the ids of the animals owned by owner, in the order
// they were acquired.
func (idx *Indexer) AnimalsByOwner(owner common.Address) ([]uint64, error) {
	return idx.getList(key(prefixOwnerAnimals, owner))
}

// MissionsByRescuer returns the ids of the missions owner has fulfilled.
func (idx *Indexer) MissionsByRescuer(rescuer common.Address) ([]uint64, error) {
	return idx.getList(key(prefixRescuerMission, rescuer))
}

// ---- event handlers ----

func (idx *Indexer) onAssetIssued(ev events.Event) {
	owner, ok1 := address(ev.Data["owner"])
	id, ok2 := ev.Data["animal_id"].(uint64)
	if !ok1 || !ok2 {
		return
	}
	idx.check(ev, idx.addToList(key(prefixOwnerAnimals, owner), id))
}

func (idx *Indexer) onAssetTransferred(ev events.Event) {
	from, ok1 := address(ev.Data["from"])
	to, ok2 := address(ev.Data["to"])
	id, ok3 := ev.Data["animal_id"].(uint64)
	if !ok1 || !ok2 || !ok3 {
		return
	}
	if err := idx.removeFromList(key(prefixOwnerAnimals, from), id); err != nil {
		idx.check(ev, err)
		return
	}
	idx.check(ev, idx.addToList(key(prefixOwnerAnimals, to), id))
}

func (idx *Indexer) onMissionCompleted(ev events.Event) {
	rescuer, ok1 := address(ev.Data["rescuer"])
	id, ok2 := ev.Data["mission_id"].(uint64)
	if !ok1 || !ok2 {
		return
	}
	idx.check(ev, idx.addToList(key(prefixRescuerMission, rescuer), id))
}

func (idx *Indexer) check(ev events.Event, err error) {
	if err != nil {
		idx.log.Error("Index update failed, restart the node to rebuild it", "event", ev.Type, "tx", ev.TxID, "err", err)
	}
}

// Rebuild replaces the indexes with lists derived from st. Owner lists come
// out in animal id order rather than acquisition order.
func (idx *Indexer) Rebuild(st core.State) error {
	owners := make(map[string][]uint64)
	n, err := st.PeekSequence(core.SeqAnimal)
	if err != nil {
		return err
	}
	for id := uint64(0); id < n; id++ {
		a, err := st.GetAnimal(id)
		if err != nil {
			return fmt.Errorf("animal %d: %w", id, err)
		}
		k := key(prefixOwnerAnimals, a.Owner)
		owners[k] = append(owners[k], id)
	}
	rescuers := make(map[string][]uint64)
	n, err = st.PeekSequence(core.SeqMission)
	if err != nil {
		return err
	}
	for id := uint64(0); id < n; id++ {
		m, err := st.GetMission(id)
		if err != nil {
			return fmt.Errorf("mission %d: %w", id, err)
		}
		if m.Rescuer == nil {
			continue
		}
		k := key(prefixRescuerMission, *m.Rescuer)
		rescuers[k] = append(rescuers[k], id)
	}

	batch := idx.db.NewBatch()
	for _, prefix := range []string{prefixOwnerAnimals, prefixRescuerMission} {
		keys, err := idx.keys(prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			batch.Delete(k)
		}
	}
	for _, lists := range []map[string][]uint64{owners, rescuers} {
		for k, ids := range lists {
			data, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			batch.Set([]byte(k), data)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	idx.log.Info("Index rebuilt", "owners", len(owners), "rescuers", len(rescuers))
	return nil
}

func (idx *Indexer) keys(prefix string) ([][]byte, error) {
	it := idx.db.NewIterator([]byte(prefix))
	defer it.Release()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	return keys, it.Error()
}

// ---- list helpers ----

func key(prefix string, addr common.Address) string {
	return prefix + strings.ToLower(addr.Hex())
}

func address(v any) (common.Address, bool) {
	s, _ := v.(string)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key string, value uint64) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key string, value uint64) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
