package vault

import "math/big"

// RewardCalculator prices the liquidator reward. Consulted only by the
// liquidation reward step; implementations typically sample an
// external unit-cost feed (gas style).
type RewardCalculator interface {
	GetReward(ticksLiquidated int, perTickCost *big.Int, hadRebase, rebalancerTriggered bool, unitCostSample *big.Int) *big.Int
}

// FlatRewardCalculator pays a fixed base plus a per-tick component
// scaled by the sampled unit cost.
type FlatRewardCalculator struct {
	Base       *big.Int
	PerTickGas *big.Int
}

// NewFlatRewardCalculator creates the default reward pricing.
func NewFlatRewardCalculator() *FlatRewardCalculator {
	return &FlatRewardCalculator{
		Base:       big.NewInt(0),
		PerTickGas: big.NewInt(30_000),
	}
}

// GetReward implements RewardCalculator.
func (c *FlatRewardCalculator) GetReward(ticks int, perTickCost *big.Int, hadRebase, rebalancerTriggered bool, unitCostSample *big.Int) *big.Int {
	if ticks <= 0 {
		return new(big.Int)
	}
	gas := new(big.Int).Set(c.PerTickGas)
	if perTickCost != nil && perTickCost.Sign() > 0 {
		gas.Add(gas, perTickCost)
	}
	gas.Mul(gas, big.NewInt(int64(ticks)))
	if hadRebase {
		// rebase settlement roughly doubles the fixed overhead
		gas.Add(gas, c.PerTickGas)
	}
	if rebalancerTriggered {
		gas.Add(gas, c.PerTickGas)
	}
	reward := new(big.Int).Set(c.Base)
	if unitCostSample != nil && unitCostSample.Sign() > 0 {
		reward.Add(reward, gas.Mul(gas, unitCostSample))
	}
	return reward
}
