package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func unit(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneUnit)
}

func testLogger() log.Logger {
	level, _ := log.ToLevel("error")
	return log.NewTestLogger(level)
}

// newTestProtocol builds an initialized protocol over a fixed-price
// oracle: 100 units in the vault, price 2000.
func newTestProtocol(t *testing.T) (*Protocol, *FixedOracle) {
	t.Helper()
	oracle := &FixedOracle{Price: unit(2000)}
	p, err := NewProtocol(DefaultConfig(), oracle, testLogger())
	require.NoError(t, err)
	require.NoError(t, p.Initialize(unit(100), unit(2000), t0))
	return p, oracle
}

func secdep(p *Protocol) *big.Int {
	return new(big.Int).Set(p.Config().SecurityDeposit)
}

func TestNewProtocol(t *testing.T) {
	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TickSpacing = 0
		_, err := NewProtocol(cfg, &FixedOracle{Price: unit(1)}, testLogger())
		assert.Error(t, err)
	})

	t.Run("requires an oracle", func(t *testing.T) {
		_, err := NewProtocol(DefaultConfig(), nil, testLogger())
		assert.Error(t, err)
	})

	t.Run("actions before initialization fail", func(t *testing.T) {
		p, err := NewProtocol(DefaultConfig(), &FixedOracle{Price: unit(2000)}, testLogger())
		require.NoError(t, err)
		err = p.InitiateDeposit(unit(1), "a", "a", secdep(p), nil, nil, t0)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("double initialization fails", func(t *testing.T) {
		p, _ := newTestProtocol(t)
		err := p.Initialize(unit(1), unit(2000), t0)
		assert.Error(t, err)
	})
}

func TestDepositLifecycle(t *testing.T) {
	p, _ := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	require.NoError(t, p.InitiateDeposit(unit(10), "alice", "alice", secdep(p), nil, nil, t1))

	s := p.Snapshot()
	assert.Equal(t, 0, s.PendingBalance.Cmp(unit(10)))
	assert.Equal(t, 0, s.BalanceVault.Cmp(unit(100)))

	t.Run("second pending action refused", func(t *testing.T) {
		err := p.InitiateDeposit(unit(5), "alice", "alice", secdep(p), nil, nil, t1.Add(time.Second))
		assert.ErrorIs(t, err, ErrPendingActionExists)
	})

	t.Run("validation before the delay fails", func(t *testing.T) {
		err := p.ValidateDeposit("alice", "bob", nil, nil, t1.Add(10*time.Second))
		assert.ErrorIs(t, err, ErrActionNotValidatable)
	})

	t2 := t1.Add(30 * time.Second)
	require.NoError(t, p.ValidateDeposit("alice", "bob", nil, nil, t2))

	s = p.Snapshot()
	assert.Equal(t, 0, s.PendingBalance.Sign())
	assert.Equal(t, 0, s.BalanceVault.Cmp(unit(110)))

	// the settling caller earns the security deposit
	assert.Equal(t, 0, p.ClaimableNative("bob").Cmp(secdep(p)))
	assert.Equal(t, 0, p.ClaimableNative("alice").Sign())

	t.Run("validating again finds nothing", func(t *testing.T) {
		err := p.ValidateDeposit("alice", "bob", nil, nil, t2.Add(time.Second))
		assert.ErrorIs(t, err, ErrNoPendingAction)
	})
}

func TestDepositRejections(t *testing.T) {
	p, _ := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	t.Run("zero amount", func(t *testing.T) {
		err := p.InitiateDeposit(big.NewInt(0), "a", "a", secdep(p), nil, nil, t1)
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("insufficient security deposit", func(t *testing.T) {
		short := new(big.Int).Sub(secdep(p), big.NewInt(1))
		err := p.InitiateDeposit(unit(1), "a", "a", short, nil, nil, t1)
		assert.ErrorIs(t, err, ErrInsufficientSecurityDeposit)
	})
}

func TestWithdrawalLifecycle(t *testing.T) {
	p, _ := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	require.NoError(t, p.InitiateWithdrawal(unit(40), "alice", "alice", secdep(p), nil, nil, t1))

	s := p.Snapshot()
	assert.Equal(t, 0, s.BalanceVault.Cmp(unit(60)))
	assert.Equal(t, 0, s.PendingBalance.Cmp(unit(40)))

	t2 := t1.Add(30 * time.Second)
	require.NoError(t, p.ValidateWithdrawal("alice", "alice", nil, nil, t2))

	s = p.Snapshot()
	assert.Equal(t, 0, s.BalanceVault.Cmp(unit(60)))
	assert.Equal(t, 0, s.PendingBalance.Sign())
	assert.Equal(t, 0, p.ClaimableAsset("alice").Cmp(unit(40)))
	// validated own action, so the security deposit comes back
	assert.Equal(t, 0, p.ClaimableNative("alice").Cmp(secdep(p)))
}

func TestWithdrawalExceedingVault(t *testing.T) {
	p, _ := newTestProtocol(t)
	err := p.InitiateWithdrawal(unit(101), "a", "a", secdep(p), nil, nil, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrInsufficientVaultBalance)
}

func TestDepositImbalanceLimit(t *testing.T) {
	p, oracle := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	// a validated long position gives the deposit check a denominator
	_, err := p.InitiateOpenPosition(unit(10), unit(1000), "lp", "lp", secdep(p), nil, nil, t1)
	require.NoError(t, err)
	require.NoError(t, p.ValidateOpenPosition("lp", "lp", nil, nil, t1.Add(30*time.Second)))
	_ = oracle

	// vault is already far above the trading expo; any deposit breaks
	// the 2000 bps ceiling
	err = p.InitiateDeposit(unit(50), "whale", "whale", secdep(p), nil, nil, t1.Add(time.Minute))
	var imb *ImbalanceError
	require.ErrorAs(t, err, &imb)
	assert.Greater(t, imb.RatioBps, imb.LimitBps)
}

func TestActionableForcedValidation(t *testing.T) {
	p, _ := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	require.NoError(t, p.InitiateDeposit(unit(10), "alice", "alice", secdep(p), nil, nil, t1))

	t.Run("not listed before the actionable delay", func(t *testing.T) {
		assert.Empty(t, p.GetActionablePendingActions(t1.Add(10*time.Minute)))
	})

	t2 := t1.Add(21 * time.Minute)
	actionable := p.GetActionablePendingActions(t2)
	require.Len(t, actionable, 1)
	assert.Equal(t, ActionDeposit, actionable[0].Action.Kind)

	// bob's own withdrawal settles alice's expired deposit on the way
	refs := []ActionablePriceData{{Slot: actionable[0].Slot}}
	require.NoError(t, p.InitiateWithdrawal(unit(5), "bob", "bob", secdep(p), nil, refs, t2))

	_, ok := p.PendingActionFor("alice")
	assert.False(t, ok)
	s := p.Snapshot()
	// alice's 10 landed in the vault before bob's 5 left escrow
	assert.Equal(t, 0, s.BalanceVault.Cmp(unit(105)))
	assert.Equal(t, 0, s.PendingBalance.Cmp(unit(5)))
	// the forced settlement pays bob the security deposit
	assert.Equal(t, 0, p.ClaimableNative("bob").Cmp(secdep(p)))
}

func TestActionableRejectsEarlyPublishTime(t *testing.T) {
	p, oracle := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	require.NoError(t, p.InitiateDeposit(unit(10), "alice", "alice", secdep(p), nil, nil, t1))

	t2 := t1.Add(21 * time.Minute)
	actionable := p.GetActionablePendingActions(t2)
	require.Len(t, actionable, 1)
	refs := []ActionablePriceData{{Slot: actionable[0].Slot}}

	// the attestation predates alice's minimum validation delay, so the
	// forced settlement must not apply it
	oracle.PublishTime = t1.Add(p.Config().ValidationDelay - time.Second)
	require.NoError(t, p.InitiateWithdrawal(unit(5), "bob", "bob", secdep(p), nil, refs, t2))

	_, ok := p.PendingActionFor("alice")
	assert.True(t, ok)
	assert.Equal(t, 0, p.Snapshot().BalanceVault.Cmp(unit(95)))

	// with a current attestation the same reference settles
	oracle.PublishTime = time.Time{}
	require.NoError(t, p.ValidateWithdrawal("bob", "bob", nil, refs, t2.Add(time.Minute)))

	_, ok = p.PendingActionFor("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, p.Snapshot().BalanceVault.Cmp(unit(105)))
}

func TestFundingAccrual(t *testing.T) {
	p, _ := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	_, err := p.InitiateOpenPosition(unit(10), unit(1000), "lp", "lp", secdep(p), nil, nil, t1)
	require.NoError(t, err)
	require.NoError(t, p.ValidateOpenPosition("lp", "lp", nil, nil, t1.Add(30*time.Second)))

	before := p.Snapshot()
	pool := new(big.Int).Add(before.BalanceLong, before.BalanceVault)

	// a day later any action folds the elapsed funding in
	tDay := t1.Add(24 * time.Hour)
	require.NoError(t, p.InitiateDeposit(unit(1), "d", "d", secdep(p), nil, nil, tDay))

	after := p.Snapshot()
	assert.NotEqual(t, 0, after.FundingEMA.Sign(), "EMA should move off zero")
	// vault dominates the long side here, so the vault pays the longs
	assert.Equal(t, -1, after.FundingEMA.Sign())
	assert.Equal(t, 1, after.BalanceLong.Cmp(before.BalanceLong))
	// funding only shifts balance between the two sides
	poolAfter := new(big.Int).Add(after.BalanceLong, after.BalanceVault)
	assert.Equal(t, 0, poolAfter.Cmp(pool))
	// the multiplier accumulator compounds away from 1.0
	assert.NotEqual(t, initialMultiplier(), after.LiqMultiplier)
}

func TestSnapshotIsACopy(t *testing.T) {
	p, _ := newTestProtocol(t)
	s := p.Snapshot()
	s.BalanceVault.SetInt64(0)
	assert.Equal(t, 0, p.Snapshot().BalanceVault.Cmp(unit(100)))
}
