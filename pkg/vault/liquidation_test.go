package vault

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiquidateSweep(t *testing.T) {
	p, oracle := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	id, err := p.InitiateOpenPosition(unit(10), unit(1000), "alice", "alice", secdep(p), nil, nil, t1)
	require.NoError(t, err)
	t2 := t1.Add(30 * time.Second)
	require.NoError(t, p.ValidateOpenPosition("alice", "alice", nil, nil, t2))

	before := p.Snapshot()
	require.Equal(t, 1, before.TotalExpo.Sign())

	// price falls through the tick plus its penalty band
	oracle.Price = unit(700)
	t3 := t2.Add(time.Minute)
	count, err := p.Liquidate("keeper", nil, 10, t3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	after := p.Snapshot()
	assert.Equal(t, 0, after.TotalExpo.Sign())
	assert.Equal(t, uint64(1), p.TickVersion(id.Tick))

	_, err = p.GetPosition(id)
	assert.ErrorIs(t, err, ErrStalePosition)

	// the tick's remaining value moved to the vault side
	assert.Equal(t, -1, after.BalanceLong.Cmp(before.BalanceLong))
	assert.Equal(t, 1, after.BalanceVault.Cmp(before.BalanceVault))

	// the keeper earns a per-tick reward out of the vault, owed in the
	// collateral asset like the balance it was debited from
	reward := p.ClaimableAsset("keeper")
	assert.Equal(t, 1, reward.Sign())
	assert.Equal(t, 0, p.ClaimableNative("keeper").Sign())
	// the reward is the only value that left the long/vault pool
	poolBefore := new(big.Int).Add(before.BalanceLong, before.BalanceVault)
	poolAfter := new(big.Int).Add(after.BalanceLong, after.BalanceVault)
	assert.Equal(t, 0, new(big.Int).Add(poolAfter, reward).Cmp(poolBefore))

	t.Run("second sweep finds nothing", func(t *testing.T) {
		count, err := p.Liquidate("keeper", nil, 10, t3.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestLiquidateAboveWater(t *testing.T) {
	p, _ := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	_, err := p.InitiateOpenPosition(unit(10), unit(1000), "alice", "alice", secdep(p), nil, nil, t1)
	require.NoError(t, err)
	require.NoError(t, p.ValidateOpenPosition("alice", "alice", nil, nil, t1.Add(30*time.Second)))

	// price unchanged: the populated tick stays above the boundary
	count, err := p.Liquidate("keeper", nil, 10, t1.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, p.ClaimableAsset("keeper").Sign())
}

func TestLiquidateIterationClamp(t *testing.T) {
	p, oracle := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	// three positions in three distinct ticks, all underwater after the drop
	for i, liq := range []*big.Int{unit(1000), unit(400), unit(250)} {
		user := string(rune('a' + i))
		_, err := p.InitiateOpenPosition(unit(10), liq, user, user, secdep(p), nil, nil, t1)
		require.NoError(t, err)
		require.NoError(t, p.ValidateOpenPosition(user, user, nil, nil, t1.Add(30*time.Second)))
	}

	oracle.Price = unit(500)
	count, err := p.Liquidate("keeper", nil, 2, t1.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the caller's iteration cap holds")

	count, err = p.Liquidate("keeper", nil, 10, t1.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, p.Snapshot().TotalExpo.Sign())
}

func TestStaleOpenPurgedOnValidate(t *testing.T) {
	p, oracle := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	id, err := p.InitiateOpenPosition(unit(10), unit(1000), "alice", "alice", secdep(p), nil, nil, t1)
	require.NoError(t, err)

	// the tick gets ejected before the open is ever validated
	oracle.Price = unit(700)
	_, err = p.Liquidate("keeper", nil, 10, t1.Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.TickVersion(id.Tick))

	// validation notices the version moved on and purges the action
	require.NoError(t, p.ValidateOpenPosition("alice", "alice", nil, nil, t1.Add(30*time.Second)))

	_, ok := p.PendingActionFor("alice")
	assert.False(t, ok)
	_, err = p.GetPosition(id)
	assert.ErrorIs(t, err, ErrStalePosition)
	// the purge refunds alice her own security deposit
	assert.Equal(t, 0, p.ClaimableNative("alice").Cmp(secdep(p)))
}

func TestStaleClosePaysVault(t *testing.T) {
	p, oracle := newTestProtocol(t)
	t1 := t0.Add(time.Second)

	// two positions share the tick so it stays populated after alice leaves
	idA, err := p.InitiateOpenPosition(unit(10), unit(1000), "alice", "alice", secdep(p), nil, nil, t1)
	require.NoError(t, err)
	_, err = p.InitiateOpenPosition(unit(10), unit(1000), "bob", "bob", secdep(p), nil, nil, t1)
	require.NoError(t, err)
	t2 := t1.Add(30 * time.Second)
	require.NoError(t, p.ValidateOpenPosition("alice", "alice", nil, nil, t2))
	require.NoError(t, p.ValidateOpenPosition("bob", "bob", nil, nil, t2))

	t3 := t2.Add(time.Second)
	require.NoError(t, p.InitiateClosePosition(idA, unit(10), "alice", "alice", "alice", secdep(p), nil, nil, t3))

	a, ok := p.PendingActionFor("alice")
	require.True(t, ok)
	escrow := new(big.Int).Set(a.Close.Escrow)
	require.Equal(t, 1, escrow.Sign())

	// bob's tick is swept while alice's close sits in the queue
	oracle.Price = unit(700)
	_, err = p.Liquidate("keeper", nil, 10, t3.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.TickVersion(idA.Tick))

	vaultBefore := new(big.Int).Set(p.Snapshot().BalanceVault)

	t4 := t3.Add(30 * time.Second)
	require.NoError(t, p.ValidateClosePosition("alice", "alice", nil, nil, t4))

	// the stale close forfeits its escrow to the vault side
	s := p.Snapshot()
	assert.Equal(t, 0, s.PendingBalance.Sign())
	want := new(big.Int).Add(vaultBefore, escrow)
	assert.Equal(t, 0, s.BalanceVault.Cmp(want))
	assert.Equal(t, 0, p.ClaimableAsset("alice").Sign())
	// but the security deposit still comes back
	assert.Equal(t, 0, p.ClaimableNative("alice").Cmp(secdep(p)))
}
