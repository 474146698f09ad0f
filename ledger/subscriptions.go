package ledger

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/relayerrors"
)

// subKey identifies one (user, relay) subscription pair.
type subKey struct {
	user  common.Address
	relay common.Address
}

// Subscribe credits fee to the pool and extends the user's subscription
// with the relay by one period. Extension stacks on top of an unexpired
// subscription rather than restarting it.
func (l *Ledger) Subscribe(user common.Address, relay common.Address, fee *uint256.Int) error {
	if fee == nil || fee.IsZero() {
		return relayerrors.ErrLZeroFee
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.records[relay]
	if !exists || !record.Active {
		return relayerrors.ErrLRelayInactive
	}

	key := subKey{user: user, relay: relay}
	base := time.Now()
	if current, ok := l.subs[key]; ok && current.After(base) {
		base = current
	}
	l.subs[key] = base.Add(l.subPeriod)
	l.balance.Add(l.balance, fee)

	if l.store != nil {
		l.store.saveSubscription(key, l.subs[key])
		l.store.saveMeta(l)
	}
	log.Info(log.LedgerMonitoring, "subscription paid",
		"user", user.String_short(), "relay", relay.String_short(),
		"fee", fee.Dec(), "expires", l.subs[key].UTC().Format(time.RFC3339))
	return nil
}

// Subscribed reports whether user currently holds an unexpired
// subscription with relay.
func (l *Ledger) Subscribed(user common.Address, relay common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.subs[subKey{user: user, relay: relay}]
	return ok && expiry.After(time.Now())
}

// SubscriptionExpiry returns when the user's subscription with relay
// lapses, or false if none was ever paid.
func (l *Ledger) SubscriptionExpiry(user common.Address, relay common.Address) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.subs[subKey{user: user, relay: relay}]
	return expiry, ok
}
