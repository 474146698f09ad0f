package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/log"
)

var (
	recordKeyPrefix = []byte("relay/")
	subKeyPrefix    = []byte("sub/")
	indexKey        = []byte("meta/index")
	metaKey         = []byte("meta/totals")
)

// Store persists ledger state in LevelDB so relays, balances and
// subscriptions survive restarts. Writes happen inside the ledger's
// mutex, so the store itself needs no extra locking.
type Store struct {
	db *leveldb.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(addr common.Address) []byte {
	return append(append([]byte{}, recordKeyPrefix...), addr.Bytes()...)
}

func subscriptionKey(key subKey) []byte {
	out := append([]byte{}, subKeyPrefix...)
	out = append(out, key.user.Bytes()...)
	return append(out, key.relay.Bytes()...)
}

type storedTotals struct {
	Balance       string `json:"balance"`
	TotalStake    string `json:"totalStake"`
	TotalReleased string `json:"totalReleased"`
}

func (s *Store) saveRecord(record *RelayRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Error(log.LedgerMonitoring, "record encode failed", "relay", record.Address.String_short(), "err", err)
		return
	}
	if err := s.db.Put(recordKey(record.Address), data, nil); err != nil {
		log.Error(log.LedgerMonitoring, "record write failed", "relay", record.Address.String_short(), "err", err)
	}
}

func (s *Store) deleteRecord(addr common.Address) {
	if err := s.db.Delete(recordKey(addr), nil); err != nil {
		log.Error(log.LedgerMonitoring, "record delete failed", "relay", addr.String_short(), "err", err)
	}
}

func (s *Store) saveIndex(index []common.Address) {
	data, err := json.Marshal(index)
	if err != nil {
		log.Error(log.LedgerMonitoring, "index encode failed", "err", err)
		return
	}
	if err := s.db.Put(indexKey, data, nil); err != nil {
		log.Error(log.LedgerMonitoring, "index write failed", "err", err)
	}
}

func (s *Store) saveMeta(l *Ledger) {
	totals := storedTotals{
		Balance:       l.balance.Hex(),
		TotalStake:    l.totalStake.Hex(),
		TotalReleased: l.totalReleased.Hex(),
	}
	data, err := json.Marshal(totals)
	if err != nil {
		log.Error(log.LedgerMonitoring, "totals encode failed", "err", err)
		return
	}
	if err := s.db.Put(metaKey, data, nil); err != nil {
		log.Error(log.LedgerMonitoring, "totals write failed", "err", err)
	}
}

func (s *Store) saveSubscription(key subKey, expiry time.Time) {
	if err := s.db.Put(subscriptionKey(key), common.Uint64ToBytes(uint64(expiry.Unix())), nil); err != nil {
		log.Error(log.LedgerMonitoring, "subscription write failed", "err", err)
	}
}

// load restores the full ledger state. Called once from NewLedger before
// the ledger is shared, so no locking is needed.
func (s *Store) load(l *Ledger) error {
	iter := s.db.NewIterator(util.BytesPrefix(recordKeyPrefix), nil)
	for iter.Next() {
		var record RelayRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			iter.Release()
			return fmt.Errorf("decode relay record %x: %w", iter.Key(), err)
		}
		l.records[record.Address] = &record
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	if data, err := s.db.Get(indexKey, nil); err == nil {
		var index []common.Address
		if err := json.Unmarshal(data, &index); err != nil {
			return fmt.Errorf("decode directory index: %w", err)
		}
		l.index = index
		for i, addr := range index {
			l.indexOf[addr] = i
		}
	} else if err != leveldb.ErrNotFound {
		return err
	}

	if data, err := s.db.Get(metaKey, nil); err == nil {
		var totals storedTotals
		if err := json.Unmarshal(data, &totals); err != nil {
			return fmt.Errorf("decode totals: %w", err)
		}
		if err := l.balance.SetFromHex(totals.Balance); err != nil {
			return fmt.Errorf("decode balance: %w", err)
		}
		if err := l.totalStake.SetFromHex(totals.TotalStake); err != nil {
			return fmt.Errorf("decode total stake: %w", err)
		}
		if err := l.totalReleased.SetFromHex(totals.TotalReleased); err != nil {
			return fmt.Errorf("decode total released: %w", err)
		}
	} else if err != leveldb.ErrNotFound {
		return err
	}

	iter = s.db.NewIterator(util.BytesPrefix(subKeyPrefix), nil)
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(subKeyPrefix)+40 {
			continue
		}
		user := common.BytesToAddress(key[len(subKeyPrefix) : len(subKeyPrefix)+20])
		relay := common.BytesToAddress(key[len(subKeyPrefix)+20:])
		expiry := time.Unix(int64(common.BytesToUint64(iter.Value())), 0)
		l.subs[subKey{user: user, relay: relay}] = expiry
	}
	iter.Release()
	return iter.Error()
}
