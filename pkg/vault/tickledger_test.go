package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickvault/tickvault/pkg/tickmath"
)

func TestTickLedgerAddRemove(t *testing.T) {
	tl := NewTickLedger()

	v, i := tl.AddPosition(100, big.NewInt(500))
	assert.Equal(t, uint64(0), v)
	assert.Equal(t, uint64(0), i)
	assert.True(t, tl.Populated(100))

	v, i = tl.AddPosition(100, big.NewInt(300))
	assert.Equal(t, uint64(0), v)
	assert.Equal(t, uint64(1), i)

	e, ok := tl.Entry(100, 0)
	require.True(t, ok)
	assert.Equal(t, int64(800), e.TotalExpo.Int64())
	assert.Equal(t, uint32(2), e.PositionCount)

	require.NoError(t, tl.RemovePosition(100, 0, big.NewInt(500), true))
	e, ok = tl.Entry(100, 0)
	require.True(t, ok)
	assert.Equal(t, int64(300), e.TotalExpo.Int64())
	assert.Equal(t, uint32(1), e.PositionCount)
	assert.True(t, tl.Populated(100))

	require.NoError(t, tl.RemovePosition(100, 0, big.NewInt(300), true))
	assert.False(t, tl.Populated(100))
}

func TestTickLedgerAddExpo(t *testing.T) {
	tl := NewTickLedger()
	tl.AddPosition(-200, big.NewInt(1000))

	require.NoError(t, tl.AddExpo(-200, 0, big.NewInt(250)))
	e, _ := tl.Entry(-200, 0)
	assert.Equal(t, int64(1250), e.TotalExpo.Int64())

	require.NoError(t, tl.AddExpo(-200, 0, big.NewInt(-50)))
	e, _ = tl.Entry(-200, 0)
	assert.Equal(t, int64(1200), e.TotalExpo.Int64())

	assert.ErrorIs(t, tl.AddExpo(-200, 7, big.NewInt(1)), ErrStalePosition)
}

func TestTickLedgerLiquidate(t *testing.T) {
	tl := NewTickLedger()
	tl.AddPosition(300, big.NewInt(900))
	tl.AddPosition(300, big.NewInt(100))

	ejected := tl.LiquidateTick(300)
	assert.Equal(t, int64(1000), ejected.TotalExpo.Int64())
	assert.Equal(t, uint32(2), ejected.PositionCount)

	// version advanced, bit cleared, old aggregate frozen
	assert.Equal(t, uint64(1), tl.Version(300))
	assert.False(t, tl.Populated(300))
	old, ok := tl.Entry(300, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1000), old.TotalExpo.Int64())

	// stale-version mutations are refused
	assert.ErrorIs(t, tl.RemovePosition(300, 0, big.NewInt(100), true), ErrStalePosition)

	// the new version starts fresh, indexes restart
	v, i := tl.AddPosition(300, big.NewInt(42))
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, uint64(0), i)
	assert.True(t, tl.Populated(300))
}

func TestHighestPopulatedTickAtOrBelow(t *testing.T) {
	tl := NewTickLedger()
	_, found := tl.HighestPopulatedTickAtOrBelow(tickmath.MaxTick)
	assert.False(t, found)

	for _, tick := range []int{-6900, -100, 0, 63, 64, 1300, 6900} {
		tl.AddPosition(tick, big.NewInt(1))
	}

	cases := []struct {
		query int
		want  int
	}{
		{tickmath.MaxTick, 6900},
		{6899, 1300},
		{1300, 1300},
		{1299, 64},
		{64, 64},
		{63, 63},
		{62, 0},
		{-1, -100},
		{-101, -6900},
		{-6900, -6900},
	}
	for _, c := range cases {
		got, found := tl.HighestPopulatedTickAtOrBelow(c.query)
		require.True(t, found, "query %d", c.query)
		assert.Equal(t, c.want, got, "query %d", c.query)
	}

	_, found = tl.HighestPopulatedTickAtOrBelow(-6901)
	assert.False(t, found)
}

func TestLiveExpoSum(t *testing.T) {
	tl := NewTickLedger()
	tl.AddPosition(10, big.NewInt(100))
	tl.AddPosition(20, big.NewInt(200))
	tl.AddPosition(30, big.NewInt(300))
	assert.Equal(t, int64(600), tl.LiveExpoSum().Int64())

	tl.LiquidateTick(20)
	assert.Equal(t, int64(400), tl.LiveExpoSum().Int64())
}
