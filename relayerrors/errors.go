package relayerrors

import (
	"errors"
	"strings"
)

// Ledger (L) Errors
var (
	ErrLNotARelay        = errors.New("L1|NotARelay: Caller has zero stake. Join before claiming.")
	ErrLRootNotSet       = errors.New("L2|RootNotSet: No commitment published for the requested epoch.")
	ErrLInvalidProof     = errors.New("L3|InvalidProof: Proof does not reconstruct the stored root for the leaf.")
	ErrLNothingToRelease = errors.New("L4|NothingToRelease: Entitlement is zero. Nothing accrued since the last claim.")
	ErrLTransferFailed   = errors.New("L5|TransferFailed: Payout transfer rejected. State mutation reverted.")
	ErrLAlreadyJoined    = errors.New("L6|AlreadyJoined: Relay is already registered.")
	ErrLZeroStake        = errors.New("L7|ZeroStake: Joining requires a non-zero stake.")
	ErrLInsolvent        = errors.New("L8|Insolvent: Contract balance is below total stake. Payouts refused.")
	ErrLRelayInactive    = errors.New("L9|RelayInactive: Target relay is not registered.")
	ErrLZeroFee          = errors.New("L10|ZeroFee: Subscribing requires a non-zero fee.")
)

// Anchor (A) Errors
var (
	ErrANotAdmin       = errors.New("A1|NotAdmin: Root publication is restricted to the anchor admin.")
	ErrARootAlreadySet = errors.New("A2|RootAlreadySet: Anchor is write-once and a root exists for this epoch.")
	ErrAZeroRoot       = errors.New("A3|ZeroRoot: Refusing to publish the zero hash as a root.")
)

// Oracle (O) Errors
var (
	ErrONoRelaysAlive  = errors.New("O1|NoRelaysAlive: No relay survived the probe round. Cycle aborted.")
	ErrOEmptyDirectory = errors.New("O2|EmptyDirectory: Relay directory is empty. Nothing to probe.")
)

// Merkle (M) Errors
var (
	ErrMEmptyTree       = errors.New("M1|EmptyTree: Cannot build a commitment over zero leaves.")
	ErrMLeafNotFound    = errors.New("M2|LeafNotFound: Leaf is not part of this tree.")
	ErrMIndexOutOfRange = errors.New("M3|IndexOutOfRange: Leaf index out of range.")
)

// Code returns the short code before the '|' separator, e.g. "L4".
func Code(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "|"); idx > 0 && idx <= 4 {
		return msg[:idx]
	}
	return ""
}

// IsLedgerError reports whether err belongs to the ledger taxonomy.
func IsLedgerError(err error) bool {
	return strings.HasPrefix(Code(err), "L")
}
