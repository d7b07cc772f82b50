package vault

import (
	"math/big"
	"time"

	"github.com/tickvault/tickvault/pkg/tickmath"
)

// liquidationUnitCost is the flat unit-cost sample handed to the reward
// calculator when no external cost feed is wired (1 gwei equivalent).
var liquidationUnitCost = big.NewInt(1_000_000_000)

// Liquidate runs a standalone liquidation pass with fresh price data
// and pays the caller a reward, in the collateral asset, out of the
// vault for every tick swept. Running it against an already-clean
// ledger is a no-op: no reward, no state change beyond funding
// accrual.
func (p *Protocol) Liquidate(caller string, priceData []byte, maxIter int, now time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.LastUpdate.IsZero() {
		return 0, ErrNotInitialized
	}
	attested, err := p.oracle.ParseAndValidate(priceData, now, ActionLiquidation)
	if err != nil {
		return 0, err
	}
	p.accrueFunding(now)

	if maxIter <= 0 || maxIter > p.cfg.MaxLiquidationIteration {
		maxIter = p.cfg.MaxLiquidationIteration
	}
	count, triggered := p.sweepLocked(attested.Price, maxIter, now)
	p.state.LastPrice = new(big.Int).Set(attested.Price)

	if count > 0 {
		reward := p.rewards.GetReward(count, nil, false, triggered, liquidationUnitCost)
		if reward.Cmp(p.state.BalanceVault) > 0 {
			reward = new(big.Int).Set(p.state.BalanceVault)
		}
		// debited from the vault balance, so owed in the collateral asset
		p.state.BalanceVault.Sub(p.state.BalanceVault, reward)
		p.creditAsset(caller, reward)
		p.logger.Info("liquidation pass complete", "ticks", count, "reward", reward, "caller", caller)
	}
	p.metrics.observeBalances(&p.state)
	return count, nil
}

// sweepLocked ejects populated ticks above the liquidation boundary,
// highest first, settling each tick's remaining value from the long
// side into the vault. Bounded by maxIter so a deep price move is
// absorbed across several calls; each pass leaves the ledger
// consistent, so partial progress is safe.
func (p *Protocol) sweepLocked(price *big.Int, maxIter int, now time.Time) (int, bool) {
	currentTick, err := p.tickForEffectivePrice(price)
	if err != nil {
		p.logger.Warn("sweep skipped, price outside tick range", "price", price, "err", err)
		return 0, false
	}
	boundary := currentTick - p.cfg.LiquidationPenaltyTicks
	managed := p.rebalancer.GetManagedPositionData()

	count := 0
	triggered := false
	for count < maxIter {
		tick, ok := p.ticks.HighestPopulatedTickAtOrBelow(tickmath.MaxTick)
		if !ok || tick <= boundary {
			break
		}
		liqPrice, err := p.effectivePriceForTick(tick)
		if err != nil {
			p.logger.Error("sweep aborted, tick price conversion failed", "tick", tick, "err", err)
			break
		}
		oldVersion := p.ticks.Version(tick)
		ejected := p.ticks.LiquidateTick(tick)

		// Whatever value the tick still carries moves to the vault; the
		// long side absorbs any shortfall up to its balance.
		tickValue := positionValue(ejected.TotalExpo, price, liqPrice)
		if tickValue.Cmp(p.state.BalanceLong) > 0 {
			tickValue.Set(p.state.BalanceLong)
		}
		p.state.TotalExpo.Sub(p.state.TotalExpo, ejected.TotalExpo)
		p.state.BalanceLong.Sub(p.state.BalanceLong, tickValue)
		p.state.BalanceVault.Add(p.state.BalanceVault, tickValue)

		if managed.Active && managed.ID.Tick == tick && managed.ID.Version == oldVersion {
			triggered = true
		}
		count++
		p.logger.Info("tick liquidated",
			"tick", tick, "version", oldVersion, "expo", ejected.TotalExpo,
			"positions", ejected.PositionCount, "value", tickValue)
		p.emit(TickLiquidatedEvent{
			Tick:       tick,
			OldVersion: oldVersion,
			TotalExpo:  ejected.TotalExpo,
			Positions:  ejected.PositionCount,
			TickValue:  tickValue,
			Price:      price,
			Timestamp:  now,
		})
	}
	if count > 0 {
		p.metrics.observeSweep(count)
		if triggered {
			p.rebalancer.NotifyTriggered()
		}
	}
	return count, triggered
}
