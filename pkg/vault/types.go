package vault

import (
	"fmt"
	"math/big"
	"time"

	"github.com/tickvault/tickvault/pkg/u512"
)

// ActionKind discriminates the pending-action union.
type ActionKind uint8

const (
	// ActionNone is the tombstone sentinel left by interior queue
	// removals.
	ActionNone ActionKind = iota
	ActionDeposit
	ActionWithdrawal
	ActionOpenPosition
	ActionClosePosition
	// ActionLiquidation never enters the queue; it only tags oracle
	// requests made by the standalone sweep entry point.
	ActionLiquidation
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionDeposit:
		return "deposit"
	case ActionWithdrawal:
		return "withdrawal"
	case ActionOpenPosition:
		return "open"
	case ActionClosePosition:
		return "close"
	case ActionLiquidation:
		return "liquidation"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// PositionID identifies a position for its lifetime, or until its
// tick's version advances.
type PositionID struct {
	Tick    int    `json:"tick"`
	Version uint64 `json:"version"`
	Index   uint64 `json:"index"`
}

func (id PositionID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.Tick, id.Version, id.Index)
}

// Position is a leveraged long position. TotalExpo is the leveraged
// notional, fixed at validation.
type Position struct {
	User      string    `json:"user"`
	Amount    *big.Int  `json:"amount"`
	TotalExpo *big.Int  `json:"totalExpo"`
	Timestamp time.Time `json:"timestamp"`
	Validated bool      `json:"validated"`
}

// DepositPayload carries the deposit variant of a pending action.
type DepositPayload struct {
	Amount *big.Int `json:"amount"`
}

// WithdrawalPayload carries the withdrawal variant.
type WithdrawalPayload struct {
	Amount *big.Int `json:"amount"`
}

// OpenPayload carries the open-position variant.
type OpenPayload struct {
	ID     PositionID `json:"id"`
	Amount *big.Int   `json:"amount"`
}

// ClosePayload carries the close-position variant. CloseExpo and
// CloseAmount are the slices removed at initiate; Escrow is the value
// moved out of the long balance pending validation.
type ClosePayload struct {
	ID          PositionID `json:"id"`
	CloseAmount *big.Int   `json:"closeAmount"`
	CloseExpo   *big.Int   `json:"closeExpo"`
	Escrow      *big.Int   `json:"escrow"`
}

// PendingAction is the tagged union living in the queue from initiate
// until validate or forced purge. Exactly one payload pointer matching
// Kind is set.
type PendingAction struct {
	Kind            ActionKind `json:"kind"`
	Validator       string     `json:"validator"`
	To              string     `json:"to"`
	Timestamp       time.Time  `json:"timestamp"`
	SecurityDeposit *big.Int   `json:"securityDeposit"`

	Deposit    *DepositPayload    `json:"deposit,omitempty"`
	Withdrawal *WithdrawalPayload `json:"withdrawal,omitempty"`
	Open       *OpenPayload       `json:"open,omitempty"`
	Close      *ClosePayload      `json:"close,omitempty"`
}

// IsNone reports whether the slot is a tombstone.
func (a PendingAction) IsNone() bool {
	return a.Kind == ActionNone
}

// State holds the protocol's scalar ledger. An explicit container
// threaded through every component; no package-level mutable state.
type State struct {
	// BalanceLong and BalanceVault share one collateral pool.
	BalanceLong  *big.Int `json:"balanceLong"`
	BalanceVault *big.Int `json:"balanceVault"`
	// TotalExpo is the sum of live per-tick exposure.
	TotalExpo *big.Int `json:"totalExpo"`
	// PendingBalance is collateral escrowed between initiate and
	// validate; excluded from both sides.
	PendingBalance *big.Int `json:"pendingBalance"`

	// LiqMultiplier folds historical funding into tick<->price
	// conversion. 38-decimal fixed point, 512-bit.
	LiqMultiplier u512.Uint512 `json:"-"`

	// FundingEMA is the smoothed imbalance signal, 18-decimal signed.
	FundingEMA *big.Int  `json:"fundingEMA"`
	LastPrice  *big.Int  `json:"lastPrice"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Config carries the protocol parameters. Limits are in basis points,
// leverage in 18-decimal fixed point.
type Config struct {
	TickSpacing int

	MinLeverage *big.Int
	MaxLeverage *big.Int

	ValidationDelay time.Duration
	ActionableDelay time.Duration

	SecurityDeposit *big.Int

	LiquidationPenaltyTicks int
	MaxLiquidationIteration int
	MaxActionablePerCall    int

	// Imbalance limits per action kind; 0 disables a check.
	DepositLimitBps    int64
	WithdrawalLimitBps int64
	OpenLimitBps       int64
	CloseLimitBps      int64

	// EMAPeriod smooths the funding signal; FundingSF scales the EMA
	// into a per-day rate (18-decimal).
	EMAPeriod time.Duration
	FundingSF *big.Int
}

// DefaultConfig returns the canonical parameter set.
func DefaultConfig() Config {
	return Config{
		TickSpacing:             100,
		MinLeverage:             mustBig("1000000000000000001"),  // > 1x
		MaxLeverage:             mustBig("10000000000000000000"), // 10x
		ValidationDelay:         24 * time.Second,
		ActionableDelay:         20 * time.Minute,
		SecurityDeposit:         mustBig("500000000000000000"), // 0.5 native
		LiquidationPenaltyTicks: 200,
		MaxLiquidationIteration: 10,
		MaxActionablePerCall:    5,
		DepositLimitBps:         2000,
		WithdrawalLimitBps:      6000,
		OpenLimitBps:            5000,
		CloseLimitBps:           6000,
		EMAPeriod:               5 * 24 * time.Hour,
		FundingSF:               mustBig("120000000000000"), // 0.012% per day at full imbalance
	}
}

// Validate checks parameter sanity.
func (c Config) Validate() error {
	if c.TickSpacing <= 0 {
		return fmt.Errorf("vault: tick spacing must be positive, got %d", c.TickSpacing)
	}
	if c.MinLeverage == nil || c.MaxLeverage == nil || c.MinLeverage.Cmp(c.MaxLeverage) >= 0 {
		return fmt.Errorf("vault: leverage bounds invalid")
	}
	if c.ValidationDelay <= 0 || c.ActionableDelay <= c.ValidationDelay {
		return fmt.Errorf("vault: actionable delay must exceed validation delay")
	}
	if c.MaxLiquidationIteration <= 0 {
		return fmt.Errorf("vault: liquidation iteration cap must be positive")
	}
	if c.LiquidationPenaltyTicks < 0 {
		return fmt.Errorf("vault: liquidation penalty cannot be negative")
	}
	if c.FundingSF == nil || c.FundingSF.Sign() < 0 {
		return fmt.Errorf("vault: funding scale factor invalid")
	}
	if c.EMAPeriod <= 0 {
		return fmt.Errorf("vault: EMA period must be positive")
	}
	return nil
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("vault: bad constant " + s)
	}
	return v
}
