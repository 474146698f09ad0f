// Package ledger is the payout accounting core: it tracks relay stakes,
// subscription fees and released amounts, and pays out stake-proportional
// entitlements against verified epoch membership proofs.
//
// The ledger is a single-writer store: one mutex serializes every state
// transition, so no two claims ever interleave their reads and writes.
// External fund transfers happen strictly after internal state is
// committed; a failed transfer rolls the whole transition back.
package ledger

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/relayerrors"
)

// RootSource is the anchor surface the ledger consumes: the published
// commitment root per epoch, zero hash when unset.
type RootSource interface {
	Roots(e epoch.Epoch) common.Hash
}

// TransferFunc moves funds to a relay. It stands in for the host
// environment's external transfer call; an error means the recipient
// rejected the payment and the surrounding mutation must revert.
type TransferFunc func(to common.Address, amount *uint256.Int) error

// RelayRecord is one relay's ledger entry. Stake is set once at join and
// immutable thereafter; Released only ever grows.
type RelayRecord struct {
	Address  common.Address `json:"address"`
	URL      string         `json:"url"`
	Stake    *uint256.Int   `json:"stake"`
	Released *uint256.Int   `json:"released"`
	Active   bool           `json:"active"`
}

func (r *RelayRecord) clone() *RelayRecord {
	return &RelayRecord{
		Address:  r.Address,
		URL:      r.URL,
		Stake:    r.Stake.Clone(),
		Released: r.Released.Clone(),
		Active:   r.Active,
	}
}

// Ledger owns all payout state. Mutating fields are touched only while
// holding mu.
type Ledger struct {
	mu sync.Mutex

	records map[common.Address]*RelayRecord
	index   []common.Address       // directory iteration order
	indexOf map[common.Address]int // identity -> index slot, kept in sync

	balance       *uint256.Int // everything held: stakes plus undistributed fees
	totalStake    *uint256.Int
	totalReleased *uint256.Int

	subs      map[subKey]time.Time // subscription expiry per (user, relay)
	subPeriod time.Duration

	anchor   RootSource
	transfer TransferFunc
	store    *Store
}

// Config wires the ledger's collaborators.
type Config struct {
	// Anchor resolves epoch roots for proof verification. Required.
	Anchor RootSource
	// Transfer performs external payouts. Nil accepts every transfer.
	Transfer TransferFunc
	// StorePath persists ledger state in LevelDB. Empty keeps state
	// in memory only.
	StorePath string
	// SubscriptionPeriod is how long one fee payment keeps a
	// subscription current. Zero picks DefaultSubscriptionPeriod.
	SubscriptionPeriod time.Duration
}

// DefaultSubscriptionPeriod matches the reference behavior of monthly fees.
const DefaultSubscriptionPeriod = 30 * 24 * time.Hour

func NewLedger(cfg Config) (*Ledger, error) {
	transfer := cfg.Transfer
	if transfer == nil {
		transfer = func(common.Address, *uint256.Int) error { return nil }
	}
	period := cfg.SubscriptionPeriod
	if period <= 0 {
		period = DefaultSubscriptionPeriod
	}
	l := &Ledger{
		records:       make(map[common.Address]*RelayRecord),
		indexOf:       make(map[common.Address]int),
		balance:       uint256.NewInt(0),
		totalStake:    uint256.NewInt(0),
		totalReleased: uint256.NewInt(0),
		subs:          make(map[subKey]time.Time),
		subPeriod:     period,
		anchor:        cfg.Anchor,
		transfer:      transfer,
	}
	if cfg.StorePath != "" {
		store, err := OpenStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		l.store = store
		if err := store.load(l); err != nil {
			store.Close()
			return nil, err
		}
	}
	return l, nil
}

// Close releases the backing store, if any.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// Join registers a relay with the given endpoint URL and stake. The stake
// is locked in the pool and refunded on Leave.
func (l *Ledger) Join(caller common.Address, url string, stake *uint256.Int) error {
	if stake == nil || stake.IsZero() {
		return relayerrors.ErrLZeroStake
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[caller]; exists {
		return relayerrors.ErrLAlreadyJoined
	}
	record := &RelayRecord{
		Address:  caller,
		URL:      url,
		Stake:    stake.Clone(),
		Released: uint256.NewInt(0),
		Active:   true,
	}
	l.records[caller] = record
	l.indexOf[caller] = len(l.index)
	l.index = append(l.index, caller)
	l.balance.Add(l.balance, stake)
	l.totalStake.Add(l.totalStake, stake)

	l.persist(record)
	log.Info(log.LedgerMonitoring, "relay joined", "relay", caller.String_short(), "url", url, "stake", stake.Dec())
	return nil
}

// Leave unstakes the calling relay: the record is removed from the
// directory via swap-and-pop and the stake refunded. All internal state
// is committed before the external refund call; a rejected refund rolls
// everything back.
func (l *Ledger) Leave(caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.records[caller]
	if !exists {
		return relayerrors.ErrLNotARelay
	}
	snapshot := l.snapshot()
	refund := record.Stake.Clone()

	l.removeFromIndex(caller)
	delete(l.records, caller)
	l.totalStake.Sub(l.totalStake, refund)
	l.balance.Sub(l.balance, refund)
	l.unpersist(caller)

	if err := l.transfer(caller, refund); err != nil {
		l.restore(snapshot)
		l.persist(record)
		log.Warn(log.LedgerMonitoring, "refund rejected, leave reverted", "relay", caller.String_short(), "err", err)
		return relayerrors.ErrLTransferFailed
	}
	log.Info(log.LedgerMonitoring, "relay left", "relay", caller.String_short(), "refund", refund.Dec())
	return nil
}

// removeFromIndex swaps the last directory slot into the freed one and
// truncates, keeping indexOf in sync. O(1), order not preserved.
func (l *Ledger) removeFromIndex(addr common.Address) {
	slot, ok := l.indexOf[addr]
	if !ok {
		return
	}
	last := len(l.index) - 1
	moved := l.index[last]
	l.index[slot] = moved
	l.indexOf[moved] = slot
	l.index = l.index[:last]
	delete(l.indexOf, addr)
	if l.store != nil {
		l.store.saveIndex(l.index)
	}
}

type ledgerSnapshot struct {
	index         []common.Address
	indexOf       map[common.Address]int
	record        map[common.Address]*RelayRecord
	balance       *uint256.Int
	totalStake    *uint256.Int
	totalReleased *uint256.Int
}

// snapshot captures everything a Leave or Release can touch, so a failed
// external transfer can revert the full transition. Caller holds mu.
func (l *Ledger) snapshot() *ledgerSnapshot {
	s := &ledgerSnapshot{
		index:         append([]common.Address{}, l.index...),
		indexOf:       make(map[common.Address]int, len(l.indexOf)),
		record:        make(map[common.Address]*RelayRecord, len(l.records)),
		balance:       l.balance.Clone(),
		totalStake:    l.totalStake.Clone(),
		totalReleased: l.totalReleased.Clone(),
	}
	for k, v := range l.indexOf {
		s.indexOf[k] = v
	}
	for k, v := range l.records {
		s.record[k] = v.clone()
	}
	return s
}

func (l *Ledger) restore(s *ledgerSnapshot) {
	l.index = s.index
	l.indexOf = s.indexOf
	l.records = s.record
	l.balance = s.balance
	l.totalStake = s.totalStake
	l.totalReleased = s.totalReleased
	if l.store != nil {
		l.store.saveIndex(l.index)
		l.store.saveMeta(l)
	}
}

func (l *Ledger) persist(record *RelayRecord) {
	if l.store == nil {
		return
	}
	l.store.saveRecord(record)
	l.store.saveIndex(l.index)
	l.store.saveMeta(l)
}

func (l *Ledger) unpersist(addr common.Address) {
	if l.store == nil {
		return
	}
	l.store.deleteRecord(addr)
	l.store.saveMeta(l)
}

// Record returns a copy of the relay's ledger entry.
func (l *Ledger) Record(addr common.Address) (RelayRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[addr]
	if !ok {
		return RelayRecord{}, false
	}
	return *record.clone(), true
}

// RelayCount returns the number of registered relays.
func (l *Ledger) RelayCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.index)
}

// RelayAt returns the relay address at directory slot i.
func (l *Ledger) RelayAt(i int) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.index) {
		return common.Address{}, false
	}
	return l.index[i], true
}

// RelayURL returns the endpoint URL bound to addr.
func (l *Ledger) RelayURL(addr common.Address) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[addr]
	if !ok {
		return "", false
	}
	return record.URL, true
}

// Balance returns the total funds held (stakes plus undistributed fees).
func (l *Ledger) Balance() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance.Clone()
}

// TotalStake returns the sum of active stakes.
func (l *Ledger) TotalStake() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalStake.Clone()
}

// TotalReleased returns everything ever paid out.
func (l *Ledger) TotalReleased() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalReleased.Clone()
}

// DistributableFunds returns balance minus total stake, clamped at zero.
// Funds are never drawn below the sum of active stakes.
func (l *Ledger) DistributableFunds() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payableFunds()
}

// payableFunds computes max(0, balance - totalStake). Caller holds mu.
func (l *Ledger) payableFunds() *uint256.Int {
	if l.balance.Cmp(l.totalStake) < 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(l.balance, l.totalStake)
}

// Deposit credits funds to the pool without binding them to a
// subscription. Used by fee routers that batch-forward collected fees.
func (l *Ledger) Deposit(amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance.Add(l.balance, amount)
	if l.store != nil {
		l.store.saveMeta(l)
	}
}
