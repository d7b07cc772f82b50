package u512

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 0)
	require.True(t, ok, "bad constant %s", s)
	return v
}

func from512(t *testing.T, v *big.Int) Uint512 {
	t.Helper()
	u, err := U512FromBig(v)
	require.NoError(t, err)
	return u
}

func from256(t *testing.T, v *big.Int) Uint256 {
	t.Helper()
	w, err := U256FromBig(v)
	require.NoError(t, err)
	return w
}

var (
	two    = big.NewInt(2)
	max9   = new(big.Int).Sub(new(big.Int).Exp(two, big.NewInt(512), nil), big.NewInt(1))
	max4   = new(big.Int).Sub(new(big.Int).Exp(two, big.NewInt(256), nil), big.NewInt(1))
	big1   = big.NewInt(1)
	oneE38 = new(big.Int).Exp(big.NewInt(10), big.NewInt(38), nil)
)

func TestConversionRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"18446744073709551615",
		"18446744073709551616",
		"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		"0x1fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe",
	}
	for _, c := range cases {
		v := mustBig(t, c)
		u := from512(t, v)
		assert.Equal(t, 0, u.Big().Cmp(v), "value %s", c)
		assert.Equal(t, v.String(), u.String())
	}

	t.Run("rejects negative and oversized", func(t *testing.T) {
		_, err := U512FromBig(big.NewInt(-1))
		assert.ErrorIs(t, err, ErrOverflow)
		over := new(big.Int).Add(max9, big1)
		_, err = U512FromBig(over)
		assert.ErrorIs(t, err, ErrOverflow)
		_, err = U256FromBig(new(big.Int).Add(max4, big1))
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestAddSub(t *testing.T) {
	a := from512(t, mustBig(t, "0xfedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210fedcba98"))
	b := from512(t, mustBig(t, "0x123456789abcdef0123456789abcdef0123456789abcdef0"))

	sum, err := Add(a, b)
	require.NoError(t, err)
	want := new(big.Int).Add(a.Big(), b.Big())
	assert.Equal(t, 0, sum.Big().Cmp(want))

	back, err := Sub(sum, b)
	require.NoError(t, err)
	assert.Equal(t, 0, back.Cmp(a))

	t.Run("overflow", func(t *testing.T) {
		_, err := Add(from512(t, max9), U512(1))
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("underflow", func(t *testing.T) {
		_, err := Sub(b, a)
		assert.ErrorIs(t, err, ErrUnderflow)
	})
}

func TestMul256(t *testing.T) {
	cases := [][2]string{
		{"0", "123456789"},
		{"18446744073709551615", "18446744073709551615"},
		{"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
			"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
		{"100000000000000000000000000000000000000", "340282366920938463463374607431768211455"},
	}
	for _, c := range cases {
		x := mustBig(t, c[0])
		y := mustBig(t, c[1])
		got := Mul256(from256(t, x), from256(t, y))
		want := new(big.Int).Mul(x, y)
		assert.Equal(t, 0, got.Big().Cmp(want), "%s * %s", c[0], c[1])
	}
}

func TestMul(t *testing.T) {
	t.Run("matches big.Int", func(t *testing.T) {
		x := mustBig(t, "0xdeadbeefcafebabedeadbeefcafebabedeadbeefcafebabe")
		y := mustBig(t, "0x0123456789abcdef0123456789abcdef")
		got, err := Mul(from512(t, x), from512(t, y))
		require.NoError(t, err)
		assert.Equal(t, 0, got.Big().Cmp(new(big.Int).Mul(x, y)))
	})

	t.Run("overflow past 512 bits", func(t *testing.T) {
		x := new(big.Int).Exp(two, big.NewInt(300), nil)
		_, err := Mul(from512(t, x), from512(t, x))
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("zero", func(t *testing.T) {
		got, err := Mul(from512(t, max9), Uint512{})
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})
}

func TestDivWord(t *testing.T) {
	t.Run("matches big.Int", func(t *testing.T) {
		// a multiplier-scaled price: p * 1e38 / m
		p := mustBig(t, "2000000000000000000000")
		m := mustBig(t, "100000000000000000000000000000000000001")
		a := new(big.Int).Mul(p, oneE38)
		q, err := DivWord(from512(t, a), from256(t, m))
		require.NoError(t, err)
		assert.Equal(t, 0, q.Big().Cmp(new(big.Int).Quo(a, m)))
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := DivWord(U512(1), Uint256{})
		assert.ErrorIs(t, err, ErrDivisionByZero)
	})

	t.Run("quotient too large", func(t *testing.T) {
		// divisor not greater than the dividend's high word
		a := Uint512{Hi: U256(5)}
		_, err := DivWord(a, U256(5))
		assert.ErrorIs(t, err, ErrQuotientTooLarge)
	})

	t.Run("exactly fits one word", func(t *testing.T) {
		// (2^255) * d / d for a divisor bigger than the high word
		d := new(big.Int).Exp(two, big.NewInt(45), nil)
		a := new(big.Int).Exp(two, big.NewInt(300), nil)
		q, err := DivWord(from512(t, a), from256(t, d))
		require.NoError(t, err)
		want := new(big.Int).Exp(two, big.NewInt(255), nil)
		assert.Equal(t, 0, q.Big().Cmp(want))
	})
}

func TestDiv(t *testing.T) {
	t.Run("pair by pair", func(t *testing.T) {
		// price * 1e38 / multiplier with a multiplier above one word
		scaled := new(big.Int).Mul(mustBig(t, "987654321987654321987654321"), oneE38)
		scaled.Mul(scaled, oneE38)
		m := new(big.Int).Mul(oneE38, big.NewInt(3))
		q, err := Div(from512(t, scaled), from512(t, m))
		require.NoError(t, err)
		assert.Equal(t, 0, q.Big().Cmp(new(big.Int).Quo(scaled, m)))
	})

	t.Run("quotient exceeding a word", func(t *testing.T) {
		_, err := Div(from512(t, max9), U512(2))
		assert.ErrorIs(t, err, ErrQuotientTooLarge)
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := Div(U512(10), Uint512{})
		assert.ErrorIs(t, err, ErrDivisionByZero)
	})

	t.Run("divisor larger than dividend", func(t *testing.T) {
		q, err := Div(U512(10), from512(t, max4))
		require.NoError(t, err)
		assert.True(t, q.IsZero())
	})

	t.Run("stress against big.Int", func(t *testing.T) {
		seeds := []string{
			"0xfedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210",
			"0xffffffffffffffff000000000000000000000000000000000000000000000001",
			"0x8000000000000000000000000000000000000000000000000000000000000000",
		}
		divisors := []string{
			"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
			"0x100000000000000000000000000000001",
			"0xfedcba9876543210fedcba9876543211",
		}
		for _, s := range seeds {
			for _, d := range divisors {
				a := mustBig(t, s)
				b := mustBig(t, d)
				want := new(big.Int).Quo(a, b)
				if want.BitLen() > 256 {
					continue
				}
				q, err := Div(from512(t, a), from512(t, b))
				require.NoError(t, err)
				assert.Equal(t, 0, q.Big().Cmp(want), "%s / %s", s, d)
			}
		}
	})
}

func TestCmp(t *testing.T) {
	a := from512(t, mustBig(t, "0x10000000000000000"))
	b := from512(t, mustBig(t, "0xffffffffffffffff"))
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, -1, b.Cmp(a))
	assert.Equal(t, 0, a.Cmp(a))
}
