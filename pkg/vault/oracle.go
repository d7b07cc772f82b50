package vault

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickvault/tickvault/pkg/tickmath"
)

// AttestedPrice is the oracle's answer for one attestation payload.
type AttestedPrice struct {
	// Price in 18-decimal fixed point.
	Price *big.Int
	// Confidence interval around the price, same scale.
	Confidence *big.Int
	// PublishTime is when the attestation was produced.
	PublishTime time.Time
}

// PriceOracle adapts opaque caller-supplied attestation payloads into
// validated prices. The protocol never reads price state directly.
type PriceOracle interface {
	ParseAndValidate(data []byte, now time.Time, kind ActionKind) (*AttestedPrice, error)
}

// attestationPayload is the wire form understood by AttestationOracle:
// decimal strings for price and confidence plus a unix-millisecond
// publish time.
type attestationPayload struct {
	Price       string `json:"price"`
	Confidence  string `json:"conf"`
	PublishedMs int64  `json:"publishTime"`
}

// AttestationOracle parses signed-feed style JSON attestations. MaxAge
// bounds how stale a publish time may be relative to the call.
type AttestationOracle struct {
	MaxAge time.Duration
}

// NewAttestationOracle creates an oracle with the given staleness
// bound.
func NewAttestationOracle(maxAge time.Duration) *AttestationOracle {
	return &AttestationOracle{MaxAge: maxAge}
}

// ParseAndValidate implements PriceOracle.
func (o *AttestationOracle) ParseAndValidate(data []byte, now time.Time, kind ActionKind) (*AttestedPrice, error) {
	var p attestationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &OracleError{Err: fmt.Errorf("malformed attestation: %w", err)}
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, &OracleError{Err: fmt.Errorf("bad price %q: %w", p.Price, err)}
	}
	if !price.IsPositive() {
		return nil, &OracleError{Err: fmt.Errorf("non-positive price %s", price)}
	}
	conf := decimal.Zero
	if p.Confidence != "" {
		conf, err = decimal.NewFromString(p.Confidence)
		if err != nil || conf.IsNegative() {
			return nil, &OracleError{Err: fmt.Errorf("bad confidence %q", p.Confidence)}
		}
	}
	published := time.UnixMilli(p.PublishedMs)
	if o.MaxAge > 0 && now.Sub(published) > o.MaxAge {
		return nil, &OracleError{Err: fmt.Errorf("stale publish time %s", published)}
	}
	if published.After(now.Add(time.Minute)) {
		return nil, &OracleError{Err: fmt.Errorf("publish time %s in the future", published)}
	}
	return &AttestedPrice{
		Price:       decimalToUnits(price),
		Confidence:  decimalToUnits(conf),
		PublishTime: published,
	}, nil
}

func decimalToUnits(d decimal.Decimal) *big.Int {
	return d.Shift(int32(tickmath.PriceDecimals)).BigInt()
}

// FixedOracle returns one preset price for every payload; used by
// tests and local tooling.
type FixedOracle struct {
	Price       *big.Int
	PublishTime time.Time
}

// ParseAndValidate implements PriceOracle.
func (o *FixedOracle) ParseAndValidate(_ []byte, now time.Time, _ ActionKind) (*AttestedPrice, error) {
	pub := o.PublishTime
	if pub.IsZero() {
		pub = now
	}
	return &AttestedPrice{
		Price:       new(big.Int).Set(o.Price),
		Confidence:  new(big.Int),
		PublishTime: pub,
	}, nil
}
