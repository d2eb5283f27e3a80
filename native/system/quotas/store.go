package quotas

import (
	"fmt"

	nativecommon "refnet/native/common"
)

// usageRecord is the persisted form of one address's counters inside an
// epoch.
type usageRecord struct {
	ReqCount uint32
	RNETUsed uint64
}

// StoreState is the slice of the state manager the quota store needs.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

// Store persists per-address quota counters keyed by module and epoch. Every
// save also records the address in an epoch index, which PruneEpoch walks to
// discard a whole epoch at once.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) ready() error {
	if s == nil || s.state == nil {
		return fmt.Errorf("quota store not initialised")
	}
	return nil
}

func (s *Store) Load(module string, epoch uint64, addr []byte) (nativecommon.QuotaNow, bool, error) {
	if err := s.ready(); err != nil {
		return nativecommon.QuotaNow{}, false, err
	}
	if len(addr) == 0 {
		return nativecommon.QuotaNow{}, false, fmt.Errorf("quota: empty address")
	}
	var stored usageRecord
	ok, err := s.state.KVGet(counterKey(module, epoch, addr), &stored)
	if err != nil {
		return nativecommon.QuotaNow{}, false, fmt.Errorf("quota: read counters: %w", err)
	}
	if !ok {
		return nativecommon.QuotaNow{EpochID: epoch}, false, nil
	}
	return nativecommon.QuotaNow{
		EpochID:  epoch,
		ReqCount: stored.ReqCount,
		RNETUsed: stored.RNETUsed,
	}, true, nil
}

func (s *Store) Save(module string, epoch uint64, addr []byte, counters nativecommon.QuotaNow) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(addr) == 0 {
		return fmt.Errorf("quota: empty address")
	}
	record := usageRecord{ReqCount: counters.ReqCount, RNETUsed: counters.RNETUsed}
	if err := s.state.KVPut(counterKey(module, epoch, addr), record); err != nil {
		return fmt.Errorf("quota: write counters: %w", err)
	}
	if err := s.state.KVAppend(epochIndexKey(module, epoch), append([]byte(nil), addr...)); err != nil {
		return fmt.Errorf("quota: index address for epoch: %w", err)
	}
	return nil
}

// PruneEpoch discards every counter the module recorded during the epoch,
// then drops the index itself.
func (s *Store) PruneEpoch(module string, epoch uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	indexKey := epochIndexKey(module, epoch)
	var addrs [][]byte
	if err := s.state.KVGetList(indexKey, &addrs); err != nil {
		return fmt.Errorf("quota: read epoch index: %w", err)
	}
	for _, addr := range addrs {
		if err := s.state.KVDelete(counterKey(module, epoch, addr)); err != nil {
			return fmt.Errorf("quota: drop counter: %w", err)
		}
	}
	if err := s.state.KVDelete(indexKey); err != nil {
		return fmt.Errorf("quota: drop epoch index: %w", err)
	}
	return nil
}
