package vault

import (
	"math/big"
	"time"

	"github.com/tickvault/tickvault/pkg/u512"
)

// multiplierDecimals is the fixed-point scale of the liquidation
// multiplier accumulator. The accumulator is a running ratio compounded
// across every accrual period, which is why it lives in 512 bits: the
// product of two 38-decimal scaled values does not fit 256.
const multiplierDecimals = 38

var (
	oneUnit     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	multOne     = new(big.Int).Exp(big.NewInt(10), big.NewInt(multiplierDecimals), nil)
	multOneWord = mustU256(multOne)
	secondsDay  = big.NewInt(86_400)
)

func mustU256(v *big.Int) u512.Uint256 {
	w, err := u512.U256FromBig(v)
	if err != nil {
		panic("vault: constant out of range")
	}
	return w
}

// initialMultiplier returns the accumulator's starting value of 1.0.
func initialMultiplier() u512.Uint512 {
	return u512.Uint512{Lo: multOneWord}
}

// fundingObservation derives the raw imbalance signal: signed ratio of
// (long trading expo - vault balance) to total expo, 18-decimal,
// clamped to [-1, 1].
func (p *Protocol) fundingObservation() *big.Int {
	if p.state.TotalExpo.Sign() == 0 {
		return new(big.Int)
	}
	tradingExpo := new(big.Int).Sub(p.state.TotalExpo, p.state.BalanceLong)
	obs := new(big.Int).Sub(tradingExpo, p.state.BalanceVault)
	obs.Mul(obs, oneUnit)
	obs.Quo(obs, p.state.TotalExpo)
	if obs.CmpAbs(oneUnit) > 0 {
		if obs.Sign() < 0 {
			obs.Neg(oneUnit)
		} else {
			obs.Set(oneUnit)
		}
	}
	return obs
}

// accrueFunding folds funding since the last interaction into the
// balances and the multiplier accumulator. Positive funding means the
// long side pays the vault. Must run before any sweep or action so no
// caller acts against a ledger that ignores elapsed funding.
func (p *Protocol) accrueFunding(now time.Time) {
	if p.state.LastUpdate.IsZero() || !now.After(p.state.LastUpdate) {
		return
	}
	elapsed := int64(now.Sub(p.state.LastUpdate) / time.Second)
	if elapsed <= 0 {
		return
	}
	period := int64(p.cfg.EMAPeriod / time.Second)
	if elapsed > period {
		elapsed = period
	}

	// EMA step toward the current observation.
	obs := p.fundingObservation()
	delta := new(big.Int).Sub(obs, p.state.FundingEMA)
	delta.Mul(delta, big.NewInt(elapsed))
	delta.Quo(delta, big.NewInt(period))
	p.state.FundingEMA.Add(p.state.FundingEMA, delta)

	// Per-elapsed funding fraction, 18-decimal signed.
	portion := new(big.Int).Mul(p.state.FundingEMA, p.cfg.FundingSF)
	portion.Quo(portion, oneUnit)
	portion.Mul(portion, big.NewInt(elapsed))
	portion.Quo(portion, secondsDay)
	p.state.LastUpdate = now
	if portion.Sign() == 0 {
		return
	}

	tradingExpo := new(big.Int).Sub(p.state.TotalExpo, p.state.BalanceLong)
	amount := new(big.Int).Mul(tradingExpo, new(big.Int).Abs(portion))
	amount.Quo(amount, oneUnit)

	if portion.Sign() > 0 {
		if amount.Cmp(p.state.BalanceLong) > 0 {
			amount.Set(p.state.BalanceLong)
		}
		p.state.BalanceLong.Sub(p.state.BalanceLong, amount)
		p.state.BalanceVault.Add(p.state.BalanceVault, amount)
	} else {
		if amount.Cmp(p.state.BalanceVault) > 0 {
			amount.Set(p.state.BalanceVault)
		}
		p.state.BalanceVault.Sub(p.state.BalanceVault, amount)
		p.state.BalanceLong.Add(p.state.BalanceLong, amount)
	}

	p.applyMultiplierPortion(portion)
	p.metrics.observeFunding(portion)
}

// applyMultiplierPortion compounds the accumulator by (1 + portion) so
// tick<->price conversion implicitly includes the funding just paid.
func (p *Protocol) applyMultiplierPortion(portion *big.Int) {
	factor := new(big.Int).Add(oneUnit, portion)
	if factor.Sign() <= 0 {
		return
	}
	factorW, err := u512.U256FromBig(factor)
	if err != nil {
		return
	}
	prod, err := u512.Mul(p.state.LiqMultiplier, u512.Uint512{Lo: factorW})
	if err != nil {
		p.logger.Error("liquidation multiplier overflow, skipping accrual", "portion", portion)
		return
	}
	next, err := u512.DivWord(prod, mustU256(oneUnit))
	if err != nil {
		p.logger.Error("liquidation multiplier division failed", "err", err)
		return
	}
	p.state.LiqMultiplier = u512.Uint512{Lo: next}
}
