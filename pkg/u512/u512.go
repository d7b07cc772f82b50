// Package u512 implements fixed-width 512-bit unsigned arithmetic.
//
// A Uint512 is a pair of 256-bit words. The funding multiplier
// accumulator and the liquidation price formulas multiply two already
// scaled fixed-point quantities, so intermediates routinely exceed 256
// bits; math/big would silently absorb the overflow cases the protocol
// must reject, hence the explicit width-checked API.
package u512

import (
	"errors"
	"math/big"
	"math/bits"
)

var (
	// ErrOverflow is returned when a result exceeds 512 bits.
	ErrOverflow = errors.New("u512: overflow")
	// ErrUnderflow is returned when a subtraction would go negative.
	ErrUnderflow = errors.New("u512: underflow")
	// ErrDivisionByZero is returned for a zero divisor.
	ErrDivisionByZero = errors.New("u512: division by zero")
	// ErrQuotientTooLarge is returned when a quotient does not fit in
	// a single 256-bit word.
	ErrQuotientTooLarge = errors.New("u512: quotient exceeds 256 bits")
)

// Uint256 is an unsigned 256-bit integer as four little-endian limbs.
type Uint256 [4]uint64

// Uint512 is an unsigned 512-bit integer as a (low, high) word pair.
type Uint512 struct {
	Lo Uint256
	Hi Uint256
}

// U256 returns a Uint256 holding v.
func U256(v uint64) Uint256 {
	return Uint256{v}
}

// U512 returns a Uint512 holding v in its low word.
func U512(v uint64) Uint512 {
	return Uint512{Lo: Uint256{v}}
}

// IsZero reports whether w == 0.
func (w Uint256) IsZero() bool {
	return w[0]|w[1]|w[2]|w[3] == 0
}

// Cmp returns -1, 0 or 1 comparing w against x.
func (w Uint256) Cmp(x Uint256) int {
	for i := 3; i >= 0; i-- {
		if w[i] < x[i] {
			return -1
		}
		if w[i] > x[i] {
			return 1
		}
	}
	return 0
}

// Uint64 returns the low 64 bits of w.
func (w Uint256) Uint64() uint64 {
	return w[0]
}

// Big returns w as a math/big integer.
func (w Uint256) Big() *big.Int {
	b := make([]byte, 32)
	for i := 0; i < 4; i++ {
		limb := w[3-i]
		for j := 0; j < 8; j++ {
			b[i*8+j] = byte(limb >> (56 - 8*j))
		}
	}
	return new(big.Int).SetBytes(b)
}

// String formats w in decimal.
func (w Uint256) String() string {
	return w.Big().String()
}

// U256FromBig converts v to a Uint256. Fails with ErrOverflow when v
// is negative or wider than 256 bits.
func U256FromBig(v *big.Int) (Uint256, error) {
	if v.Sign() < 0 || v.BitLen() > 256 {
		return Uint256{}, ErrOverflow
	}
	var w Uint256
	b := v.Bytes()
	for i := 0; i < len(b); i++ {
		pos := len(b) - 1 - i
		w[pos/8] |= uint64(b[i]) << (8 * uint(pos%8))
	}
	return w, nil
}

// IsZero reports whether u == 0.
func (u Uint512) IsZero() bool {
	return u.Lo.IsZero() && u.Hi.IsZero()
}

// Cmp returns -1, 0 or 1 comparing u against x.
func (u Uint512) Cmp(x Uint512) int {
	if c := u.Hi.Cmp(x.Hi); c != 0 {
		return c
	}
	return u.Lo.Cmp(x.Lo)
}

// Big returns u as a math/big integer.
func (u Uint512) Big() *big.Int {
	r := u.Hi.Big()
	r.Lsh(r, 256)
	return r.Add(r, u.Lo.Big())
}

// String formats u in decimal.
func (u Uint512) String() string {
	return u.Big().String()
}

// U512FromBig converts v to a Uint512. Fails with ErrOverflow when v
// is negative or wider than 512 bits.
func U512FromBig(v *big.Int) (Uint512, error) {
	if v.Sign() < 0 || v.BitLen() > 512 {
		return Uint512{}, ErrOverflow
	}
	lo, err := U256FromBig(new(big.Int).And(v, maskLo))
	if err != nil {
		return Uint512{}, err
	}
	hi, err := U256FromBig(new(big.Int).Rsh(v, 256))
	if err != nil {
		return Uint512{}, err
	}
	return Uint512{Lo: lo, Hi: hi}, nil
}

var maskLo = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func add256(a, b Uint256, carry uint64) (Uint256, uint64) {
	var r Uint256
	c := carry
	for i := 0; i < 4; i++ {
		r[i], c = bits.Add64(a[i], b[i], c)
	}
	return r, c
}

func sub256(a, b Uint256, borrow uint64) (Uint256, uint64) {
	var r Uint256
	c := borrow
	for i := 0; i < 4; i++ {
		r[i], c = bits.Sub64(a[i], b[i], c)
	}
	return r, c
}

// Add returns a+b, failing with ErrOverflow when the sum exceeds 512
// bits.
func Add(a, b Uint512) (Uint512, error) {
	lo, carry := add256(a.Lo, b.Lo, 0)
	hi, carry := add256(a.Hi, b.Hi, carry)
	if carry != 0 {
		return Uint512{}, ErrOverflow
	}
	return Uint512{Lo: lo, Hi: hi}, nil
}

// Sub returns a-b, failing with ErrUnderflow when b > a.
func Sub(a, b Uint512) (Uint512, error) {
	lo, borrow := sub256(a.Lo, b.Lo, 0)
	hi, borrow := sub256(a.Hi, b.Hi, borrow)
	if borrow != 0 {
		return Uint512{}, ErrUnderflow
	}
	return Uint512{Lo: lo, Hi: hi}, nil
}

// mulStep accumulates x*y + carry into z, returning the new carry and
// limb value.
func mulStep(z, x, y, carry uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(x, y)
	lo, c := bits.Add64(lo, carry, 0)
	hi, _ = bits.Add64(hi, 0, c)
	lo, c = bits.Add64(lo, z, 0)
	hi, _ = bits.Add64(hi, 0, c)
	return hi, lo
}

func mulLimbs(x, y, prod []uint64) {
	for i := range x {
		var carry uint64
		for j := range y {
			carry, prod[i+j] = mulStep(prod[i+j], x[i], y[j], carry)
		}
		// this limb has not been written by any earlier row
		prod[i+len(y)] = carry
	}
}

// Mul256 returns the full 512-bit product of two 256-bit words. It
// cannot overflow.
func Mul256(a, b Uint256) Uint512 {
	var prod [8]uint64
	mulLimbs(a[:], b[:], prod[:])
	return Uint512{
		Lo: Uint256{prod[0], prod[1], prod[2], prod[3]},
		Hi: Uint256{prod[4], prod[5], prod[6], prod[7]},
	}
}

// Mul returns a*b, failing with ErrOverflow when the true product
// exceeds 512 bits.
func Mul(a, b Uint512) (Uint512, error) {
	x := a.limbs()
	y := b.limbs()
	var prod [16]uint64
	mulLimbs(x[:], y[:], prod[:])
	for i := 8; i < 16; i++ {
		if prod[i] != 0 {
			return Uint512{}, ErrOverflow
		}
	}
	return Uint512{
		Lo: Uint256{prod[0], prod[1], prod[2], prod[3]},
		Hi: Uint256{prod[4], prod[5], prod[6], prod[7]},
	}, nil
}

func (u Uint512) limbs() [8]uint64 {
	return [8]uint64{
		u.Lo[0], u.Lo[1], u.Lo[2], u.Lo[3],
		u.Hi[0], u.Hi[1], u.Hi[2], u.Hi[3],
	}
}

// DivWord divides a by the 256-bit word b and returns the 256-bit
// quotient. The divisor must be non-zero and strictly greater than the
// high word of a, otherwise the quotient would not fit one word.
func DivWord(a Uint512, b Uint256) (Uint256, error) {
	if b.IsZero() {
		return Uint256{}, ErrDivisionByZero
	}
	if b.Cmp(a.Hi) <= 0 {
		return Uint256{}, ErrQuotientTooLarge
	}
	al := a.limbs()
	q, _ := divmod(al[:], b[:])
	var r Uint256
	copy(r[:], q)
	return r, nil
}

// Div divides a by b and returns the quotient as a single 256-bit
// word. The divisor must be non-zero and the quotient must fit 256
// bits, otherwise ErrQuotientTooLarge is returned. Each quotient digit
// starts from a two-limb reciprocal estimate and is corrected down to
// the exact value.
func Div(a, b Uint512) (Uint256, error) {
	if b.IsZero() {
		return Uint256{}, ErrDivisionByZero
	}
	al := a.limbs()
	bl := b.limbs()
	q, _ := divmod(al[:], bl[:])
	for i := 4; i < len(q); i++ {
		if q[i] != 0 {
			return Uint256{}, ErrQuotientTooLarge
		}
	}
	var r Uint256
	copy(r[:], q)
	return r, nil
}

// divmod performs long division on little-endian limb slices, returning
// quotient and remainder (Knuth Algorithm D). The estimate for each
// digit comes from the top two dividend limbs against the top divisor
// limb and is refined by at most two decrements plus one add-back.
func divmod(u, v []uint64) (q, r []uint64) {
	n := len(v)
	for n > 0 && v[n-1] == 0 {
		n--
	}
	if n == 0 {
		panic("u512: divmod by zero")
	}
	m := len(u)
	for m > 0 && u[m-1] == 0 {
		m--
	}
	if m < n {
		r = make([]uint64, n)
		copy(r, u[:m])
		return []uint64{0}, r
	}

	if n == 1 {
		q = make([]uint64, m)
		var rem uint64
		for i := m - 1; i >= 0; i-- {
			q[i], rem = bits.Div64(rem, u[i], v[0])
		}
		return q, []uint64{rem}
	}

	// Normalize so the top divisor limb has its high bit set. Shifts
	// by 64 are defined to produce 0 in Go, so shift==0 needs no
	// special case.
	shift := uint(bits.LeadingZeros64(v[n-1]))
	vn := make([]uint64, n)
	for i := n - 1; i > 0; i-- {
		vn[i] = v[i]<<shift | v[i-1]>>(64-shift)
	}
	vn[0] = v[0] << shift

	un := make([]uint64, m+1)
	un[m] = u[m-1] >> (64 - shift)
	for i := m - 1; i > 0; i-- {
		un[i] = u[i]<<shift | u[i-1]>>(64-shift)
	}
	un[0] = u[0] << shift

	q = make([]uint64, m-n+1)
	for j := m - n; j >= 0; j-- {
		var qhat, rhat uint64
		skipCorrection := false
		if un[j+n] >= vn[n-1] {
			// saturated estimate, fixed by the correction below
			qhat = ^uint64(0)
			var carry uint64
			rhat, carry = bits.Add64(un[j+n-1], vn[n-1], 0)
			skipCorrection = carry != 0
		} else {
			qhat, rhat = bits.Div64(un[j+n], un[j+n-1], vn[n-1])
		}
		for !skipCorrection {
			hi, lo := bits.Mul64(qhat, vn[n-2])
			if hi > rhat || (hi == rhat && lo > un[j+n-2]) {
				qhat--
				var carry uint64
				rhat, carry = bits.Add64(rhat, vn[n-1], 0)
				if carry != 0 {
					break
				}
				continue
			}
			break
		}

		// multiply and subtract
		var borrow, mulCarry uint64
		for i := 0; i < n; i++ {
			hi, lo := bits.Mul64(qhat, vn[i])
			lo, c := bits.Add64(lo, mulCarry, 0)
			mulCarry = hi + c
			un[i+j], borrow = bits.Sub64(un[i+j], lo, borrow)
		}
		un[j+n], borrow = bits.Sub64(un[j+n], mulCarry, borrow)

		if borrow != 0 {
			// estimate was one too high, add the divisor back
			qhat--
			var carry uint64
			for i := 0; i < n; i++ {
				un[i+j], carry = bits.Add64(un[i+j], vn[i], carry)
			}
			un[j+n] += carry
		}
		q[j] = qhat
	}

	r = make([]uint64, n)
	for i := 0; i < n-1; i++ {
		r[i] = un[i]>>shift | un[i+1]<<(64-shift)
	}
	r[n-1] = un[n-1] >> shift
	return q, r
}
