// Package anchor stores the per-epoch Merkle root published by the
// heartbeat oracle. Writes are restricted to a single admin identity.
// The reference behavior allows overwriting an already-published epoch;
// WriteOnce hardens the anchor to refuse that.
package anchor

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/relayerrors"
)

var (
	rootKeyPrefix = []byte("root/")
	lastEpochKey  = []byte("lastepoch")
)

// Anchor is an epoch -> root key-value store with single-writer admin
// control. Thread-safe: LevelDB handles storage synchronization, the
// mutex serializes the write-once check against concurrent publishes.
type Anchor struct {
	mu        sync.Mutex
	db        *leveldb.DB
	admin     common.Address
	writeOnce bool
}

// Options configure anchor behavior beyond the reference defaults.
type Options struct {
	// WriteOnce refuses to overwrite a root that is already published for
	// an epoch. Off by default to preserve reference behavior.
	WriteOnce bool
}

// NewAnchor opens or creates the anchor store at path. An empty path uses
// in-memory storage, for tests.
func NewAnchor(path string, admin common.Address, opts Options) (*Anchor, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open anchor store at %s: %w", path, err)
	}
	return &Anchor{db: db, admin: admin, writeOnce: opts.WriteOnce}, nil
}

func (a *Anchor) Close() error {
	return a.db.Close()
}

// Admin returns the only identity allowed to publish roots.
func (a *Anchor) Admin() common.Address {
	return a.admin
}

func rootKey(e epoch.Epoch) []byte {
	return append(append([]byte{}, rootKeyPrefix...), common.Uint64ToBytes(uint64(e))...)
}

// PublishRoot stores root under e. Only the admin may publish, the zero
// hash is never accepted, and in write-once mode an occupied epoch is
// refused.
func (a *Anchor) PublishRoot(caller common.Address, e epoch.Epoch, root common.Hash) error {
	if caller != a.admin {
		return relayerrors.ErrANotAdmin
	}
	if common.IsNilHash(root) {
		return relayerrors.ErrAZeroRoot
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.writeOnce {
		if existing := a.readRoot(e); !common.IsNilHash(existing) {
			return relayerrors.ErrARootAlreadySet
		}
	}
	if err := a.db.Put(rootKey(e), root.Bytes(), nil); err != nil {
		return fmt.Errorf("publish root for epoch %d: %w", e, err)
	}
	if e > a.lastEpoch() {
		if err := a.db.Put(lastEpochKey, common.Uint64ToBytes(uint64(e)), nil); err != nil {
			return fmt.Errorf("record last epoch %d: %w", e, err)
		}
	}
	log.Info(log.AnchorMonitoring, "root published", "epoch", uint64(e), "root", root.String_short())
	return nil
}

// Roots returns the published root for e, or the zero hash if unset.
func (a *Anchor) Roots(e epoch.Epoch) common.Hash {
	return a.readRoot(e)
}

func (a *Anchor) readRoot(e epoch.Epoch) common.Hash {
	data, err := a.db.Get(rootKey(e), nil)
	if err == leveldb.ErrNotFound {
		return common.Hash{}
	}
	if err != nil {
		log.Error(log.AnchorMonitoring, "root read failed", "epoch", uint64(e), "err", err)
		return common.Hash{}
	}
	return common.BytesToHash(data)
}

// EpochID returns the highest epoch a root has been published for.
// Derived convenience only: multiple epochs can hold roots, and the
// epoch clock stays the canonical epoch source.
func (a *Anchor) EpochID() epoch.Epoch {
	return a.lastEpoch()
}

func (a *Anchor) lastEpoch() epoch.Epoch {
	data, err := a.db.Get(lastEpochKey, nil)
	if err != nil {
		return 0
	}
	return epoch.Epoch(common.BytesToUint64(data))
}
