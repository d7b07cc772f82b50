package vault

import (
	"errors"
	"fmt"
)

// The error surface splits into four families. Domain errors for pure
// math live in pkg/tickmath and pkg/u512; state conflicts below are
// recoverable by waiting or retrying with different parameters;
// external failures wrap the oracle or reward collaborators.
var (
	// ErrNoPendingAction is returned when validation finds nothing to
	// validate for the given address.
	ErrNoPendingAction = errors.New("vault: no pending action")
	// ErrPendingActionExists is returned when a validator initiates
	// while an earlier action of theirs is still pending.
	ErrPendingActionExists = errors.New("vault: pending action already exists")
	// ErrActionNotValidatable is returned when the minimum validation
	// delay has not elapsed for the price data supplied.
	ErrActionNotValidatable = errors.New("vault: validation delay not elapsed")
	// ErrActionNotActionable is returned when a third party tries to
	// force-validate an action that is not old enough.
	ErrActionNotActionable = errors.New("vault: action not actionable yet")
	// ErrStalePendingAction marks an action whose position tick was
	// liquidated between initiate and validate.
	ErrStalePendingAction = errors.New("vault: stale pending action")
	// ErrStalePosition marks a position reference whose tick version
	// has advanced.
	ErrStalePosition = errors.New("vault: stale position version")
	// ErrPositionNotFound is returned for an unknown position id.
	ErrPositionNotFound = errors.New("vault: position not found")
	// ErrNotPositionOwner is returned when a caller closes a position
	// they do not own.
	ErrNotPositionOwner = errors.New("vault: caller does not own position")
	// ErrLiquidationPriceTooHigh is returned when a requested
	// liquidation price is already inside the liquidation band.
	ErrLiquidationPriceTooHigh = errors.New("vault: liquidation price too high")
	// ErrLeverageOutOfBounds is returned when the implied leverage
	// leaves the configured window.
	ErrLeverageOutOfBounds = errors.New("vault: leverage out of bounds")
	// ErrInsufficientVaultBalance is returned when a withdrawal
	// exceeds the available vault balance.
	ErrInsufficientVaultBalance = errors.New("vault: insufficient vault balance")
	// ErrInsufficientSecurityDeposit is returned when the native value
	// paid with an initiate does not cover the security deposit.
	ErrInsufficientSecurityDeposit = errors.New("vault: insufficient security deposit")
	// ErrZeroAmount rejects zero-sized actions.
	ErrZeroAmount = errors.New("vault: zero amount")
	// ErrInvalidCloseAmount is returned when a partial close exceeds
	// the position's remaining amount.
	ErrInvalidCloseAmount = errors.New("vault: close amount exceeds position")
	// ErrPositionNotValidated is returned when closing a position whose
	// open has not completed validation.
	ErrPositionNotValidated = errors.New("vault: position not validated")
	// ErrNotInitialized is returned when the protocol has no starting
	// price yet.
	ErrNotInitialized = errors.New("vault: protocol not initialized")
)

// ImbalanceError reports that an action would push the long/vault
// exposure ratio past its configured limit. RatioBps is the computed
// imbalance so callers can resize and retry.
type ImbalanceError struct {
	RatioBps int64
	LimitBps int64
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("vault: imbalance limit reached: %d bps (limit %d)", e.RatioBps, e.LimitBps)
}

// OracleError wraps a failure from the price oracle collaborator.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("vault: oracle rejected price data: %v", e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}
