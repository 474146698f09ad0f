package ledger

import (
	"github.com/holiman/uint256"

	"github.com/relaypulse/relaypulse/common"
	"github.com/relaypulse/relaypulse/epoch"
	"github.com/relaypulse/relaypulse/log"
	"github.com/relaypulse/relaypulse/merkle"
	"github.com/relaypulse/relaypulse/relayerrors"
)

// ReleaseWithProof pays the caller its stake-proportional share of
// distributable funds, gated on a verified membership proof for the given
// epoch's published root.
//
// The entitlement is computed on a cumulative basis: everything ever
// earned (currently payable funds plus everything already released),
// scaled by the caller's stake share, minus what the caller has already
// received. Paying against the cumulative basis keeps early claimants
// from being penalized when later claims shrink the live balance.
//
// The transition is all-or-nothing: state is committed before the external
// transfer, and a rejected transfer reverts every mutation.
func (l *Ledger) ReleaseWithProof(caller common.Address, e epoch.Epoch, proof []common.Hash) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.records[caller]
	if !exists || record.Stake.IsZero() {
		return nil, relayerrors.ErrLNotARelay
	}

	root := l.anchor.Roots(e)
	if common.IsNilHash(root) {
		return nil, relayerrors.ErrLRootNotSet
	}

	leaf := merkle.LeafHash(caller, e)
	if !merkle.Verify(proof, root, leaf) {
		return nil, relayerrors.ErrLInvalidProof
	}

	// balance below total stake means the pool is inconsistent; refuse
	// payout rather than draw down someone's stake
	if l.balance.Cmp(l.totalStake) < 0 {
		log.Error(log.LedgerMonitoring, "pool balance below total stake", "balance", l.balance.Dec(), "totalStake", l.totalStake.Dec())
		return nil, relayerrors.ErrLInsolvent
	}
	payable := new(uint256.Int).Sub(l.balance, l.totalStake)

	// cumulative basis: payable + totalReleased
	basis := new(uint256.Int).Add(payable, l.totalReleased)

	// floor(basis * stake / totalStake); totalStake > 0 because the
	// caller's own stake is non-zero
	entitledTotal, overflow := new(uint256.Int).MulDivOverflow(basis, record.Stake, l.totalStake)
	if overflow {
		return nil, relayerrors.ErrLInsolvent
	}
	if entitledTotal.Cmp(record.Released) <= 0 {
		return nil, relayerrors.ErrLNothingToRelease
	}
	entitlement := new(uint256.Int).Sub(entitledTotal, record.Released)

	// cannot pay more than is currently liquid
	if entitlement.Cmp(payable) > 0 {
		entitlement.Set(payable)
	}
	if entitlement.IsZero() {
		return nil, relayerrors.ErrLNothingToRelease
	}

	snapshot := l.snapshot()
	record.Released.Add(record.Released, entitlement)
	l.totalReleased.Add(l.totalReleased, entitlement)
	l.balance.Sub(l.balance, entitlement)
	l.persist(record)

	if err := l.transfer(caller, entitlement.Clone()); err != nil {
		l.restore(snapshot)
		l.persist(l.records[caller])
		log.Warn(log.LedgerMonitoring, "payout rejected, release reverted", "relay", caller.String_short(), "err", err)
		return nil, relayerrors.ErrLTransferFailed
	}

	log.Info(log.LedgerMonitoring, "released", "relay", caller.String_short(), "epoch", uint64(e), "amount", entitlement.Dec())
	return entitlement, nil
}
