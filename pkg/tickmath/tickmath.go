// Package tickmath converts between ticks on a geometric price grid and
// fixed-point prices. Each tick is worth 0.5%: price(tick) = 1.005^tick,
// expressed with 18 decimals.
package tickmath

import (
	"errors"
	"math"
	"math/big"
)

const (
	// Ratio is the price multiplier between adjacent ticks.
	Ratio = 1.005
	// PriceDecimals is the fixed-point scale of prices.
	PriceDecimals = 18

	// MinTick and MaxTick bound the usable grid. The bounds keep the
	// fixed-point quantization at the low end well below half a tick,
	// so floor and nearest rounding stay exact across the domain.
	MinTick = -6900
	MaxTick = 6900
)

// LnRatio is ln(Ratio), the tick width in log-price space.
var LnRatio = math.Log(Ratio)

var (
	// ErrInvalidTick is returned for a tick outside [MinTick, MaxTick].
	ErrInvalidTick = errors.New("tickmath: tick out of bounds")
	// ErrInvalidPrice is returned for a price outside the grid's range.
	ErrInvalidPrice = errors.New("tickmath: price out of bounds")
	// ErrInvalidTickSpacing is returned for a non-positive spacing.
	ErrInvalidTickSpacing = errors.New("tickmath: invalid tick spacing")
)

var (
	oneUnit  = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)
	minPrice = priceAtTickUnchecked(MinTick)
	maxPrice = priceAtTickUnchecked(MaxTick)
)

// MinPrice returns the lowest convertible price.
func MinPrice() *big.Int {
	return new(big.Int).Set(minPrice)
}

// MaxPrice returns the highest convertible price.
func MaxPrice() *big.Int {
	return new(big.Int).Set(maxPrice)
}

func priceAtTickUnchecked(tick int) *big.Int {
	f := math.Exp(float64(tick) * LnRatio)
	bf := new(big.Float).SetPrec(128).SetFloat64(f)
	bf.Mul(bf, new(big.Float).SetPrec(128).SetInt(oneUnit))
	p, _ := bf.Int(nil)
	return p
}

// PriceAtTick returns the price at tick with 18 decimals.
func PriceAtTick(tick int) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrInvalidTick
	}
	return priceAtTickUnchecked(tick), nil
}

// TickAtPrice returns the highest tick whose price does not exceed the
// given price: PriceAtTick(t) <= price < PriceAtTick(t+1).
func TickAtPrice(price *big.Int) (int, error) {
	if price == nil || price.Cmp(minPrice) < 0 || price.Cmp(maxPrice) > 0 {
		return 0, ErrInvalidPrice
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(price),
		new(big.Float).SetInt(oneUnit),
	).Float64()
	t := int(math.Floor(math.Log(f) / LnRatio))
	if t < MinTick {
		t = MinTick
	}
	if t > MaxTick {
		t = MaxTick
	}
	// The float estimate can be off by one near tick boundaries;
	// settle it against the quantized grid.
	for t < MaxTick && priceAtTickUnchecked(t+1).Cmp(price) <= 0 {
		t++
	}
	for t > MinTick && priceAtTickUnchecked(t).Cmp(price) > 0 {
		t--
	}
	return t, nil
}

// ClosestTickAtPrice returns the tick whose price is nearest to the
// given price, rounding ties up. ClosestTickAtPrice(PriceAtTick(t))
// returns t for every valid t.
func ClosestTickAtPrice(price *big.Int) (int, error) {
	t, err := TickAtPrice(price)
	if err != nil {
		return 0, err
	}
	if t == MaxTick {
		return t, nil
	}
	mid := new(big.Int).Add(priceAtTickUnchecked(t), priceAtTickUnchecked(t+1))
	doubled := new(big.Int).Lsh(price, 1)
	if doubled.Cmp(mid) >= 0 {
		return t + 1, nil
	}
	return t, nil
}

// MinUsableTick returns the lowest multiple of spacing within bounds.
func MinUsableTick(spacing int) (int, error) {
	if spacing <= 0 {
		return 0, ErrInvalidTickSpacing
	}
	return -((-MinTick) / spacing) * spacing, nil
}

// MaxUsableTick returns the highest multiple of spacing within bounds.
func MaxUsableTick(spacing int) (int, error) {
	if spacing <= 0 {
		return 0, ErrInvalidTickSpacing
	}
	return (MaxTick / spacing) * spacing, nil
}
