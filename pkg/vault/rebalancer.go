package vault

import "math/big"

// RebalancerPositionData describes the rebalancer's managed position,
// if any.
type RebalancerPositionData struct {
	ID         PositionID
	Collateral *big.Int
	Active     bool
}

// RebalancerHook is notified after a sweep ejects the rebalancer's
// managed tick so it can re-enter at the new tick. The rebalancer only
// calls the public open/close API; the protocol never reaches into it
// beyond these two calls.
type RebalancerHook interface {
	GetManagedPositionData() RebalancerPositionData
	NotifyTriggered()
}

// NoopRebalancer is used when no rebalancer is wired.
type NoopRebalancer struct{}

// GetManagedPositionData implements RebalancerHook.
func (NoopRebalancer) GetManagedPositionData() RebalancerPositionData {
	return RebalancerPositionData{}
}

// NotifyTriggered implements RebalancerHook.
func (NoopRebalancer) NotifyTriggered() {}
