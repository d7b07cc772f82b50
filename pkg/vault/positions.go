package vault

import (
	"math/big"
	"time"
)

// InitiateOpenPosition opens a leveraged long at the usable tick
// closest below desiredLiqPrice. The position's exposure is provisional
// until validation recomputes it with the validation-time price.
func (p *Protocol) InitiateOpenPosition(amount, desiredLiqPrice *big.Int, to, validator string, paidValue *big.Int, priceData []byte, others []ActionablePriceData, now time.Time) (PositionID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return PositionID{}, ErrZeroAmount
	}
	attested, err := p.prepareAction(ActionOpenPosition, priceData, now)
	if err != nil {
		return PositionID{}, err
	}
	if _, _, exists := p.pending.byAddr(validator); exists {
		return PositionID{}, ErrPendingActionExists
	}

	posTick, err := p.usableTickForPrice(desiredLiqPrice)
	if err != nil {
		return PositionID{}, err
	}
	// The sweep ejects every populated tick above currentTick - penalty,
	// so a tick inside that band would be liquidatable on arrival.
	currentTick, err := p.tickForEffectivePrice(attested.Price)
	if err != nil {
		return PositionID{}, err
	}
	if posTick+p.cfg.LiquidationPenaltyTicks > currentTick {
		return PositionID{}, ErrLiquidationPriceTooHigh
	}
	liqPrice, err := p.effectivePriceForTick(posTick)
	if err != nil {
		return PositionID{}, err
	}
	totalExpo, err := positionExpo(amount, attested.Price, liqPrice)
	if err != nil {
		return PositionID{}, err
	}
	if err := p.checkLeverage(amount, totalExpo); err != nil {
		return PositionID{}, err
	}
	newTradingExpo := new(big.Int).Add(p.tradingExpo(), new(big.Int).Sub(totalExpo, amount))
	if err := p.checkImbalance(ActionOpenPosition, newTradingExpo, p.state.BalanceVault); err != nil {
		return PositionID{}, err
	}
	secdep, err := p.takeSecurityDeposit(validator, paidValue)
	if err != nil {
		return PositionID{}, err
	}

	version, index := p.ticks.AddPosition(posTick, totalExpo)
	id := PositionID{Tick: posTick, Version: version, Index: index}
	p.positions[id] = &Position{
		User:      to,
		Amount:    new(big.Int).Set(amount),
		TotalExpo: new(big.Int).Set(totalExpo),
		Timestamp: now,
	}
	p.state.TotalExpo.Add(p.state.TotalExpo, totalExpo)
	p.state.BalanceLong.Add(p.state.BalanceLong, amount)

	_, err = p.pending.add(PendingAction{
		Kind:            ActionOpenPosition,
		Validator:       validator,
		To:              to,
		Timestamp:       now,
		SecurityDeposit: secdep,
		Open:            &OpenPayload{ID: id, Amount: new(big.Int).Set(amount)},
	})
	if err != nil {
		return PositionID{}, err
	}
	p.logger.Info("open initiated", "id", id, "amount", amount, "expo", totalExpo, "validator", validator)
	p.metrics.incInitiated(ActionOpenPosition)
	p.emit(ActionInitiatedEvent{Kind: ActionOpenPosition.String(), Validator: validator, To: to, Amount: amount, Timestamp: now})

	p.processActionableLocked(validator, others, now)
	return id, nil
}

// ValidateOpenPosition completes the validator's pending open.
func (p *Protocol) ValidateOpenPosition(validator, caller string, priceData []byte, others []ActionablePriceData, now time.Time) error {
	return p.validateByAddr(ActionOpenPosition, validator, caller, priceData, others, now)
}

// applyOpen recomputes the pending position's exposure at the
// validation price. A version mismatch means the tick was swept in the
// meantime; the action is purged with no economic effect beyond what
// the sweep already settled.
func (p *Protocol) applyOpen(a PendingAction, attested *AttestedPrice, now time.Time) (stale bool, err error) {
	id := a.Open.ID
	if p.ticks.Version(id.Tick) != id.Version {
		delete(p.positions, id)
		p.logger.Info("open purged, tick liquidated before validation", "id", id, "validator", a.Validator)
		p.emit(StaleActionPurgedEvent{Kind: a.Kind.String(), Validator: a.Validator, Position: id, Timestamp: now})
		return true, nil
	}
	pos, ok := p.positions[id]
	if !ok {
		return false, ErrPositionNotFound
	}
	liqPrice, err := p.effectivePriceForTick(id.Tick)
	if err != nil {
		return false, err
	}
	if attested.Price.Cmp(liqPrice) <= 0 {
		// price sits inside the tick's band; the next sweep will eject
		// it, turning this action stale
		return false, ErrActionNotValidatable
	}
	newExpo, err := positionExpo(pos.Amount, attested.Price, liqPrice)
	if err != nil {
		return false, err
	}
	delta := new(big.Int).Sub(newExpo, pos.TotalExpo)
	if err := p.ticks.AddExpo(id.Tick, id.Version, delta); err != nil {
		return false, err
	}
	p.state.TotalExpo.Add(p.state.TotalExpo, delta)
	pos.TotalExpo.Set(newExpo)
	pos.Validated = true
	p.logger.Info("open validated", "id", id, "expo", newExpo, "price", attested.Price)
	p.emit(PositionOpenedEvent{ID: id, User: pos.User, Amount: pos.Amount, TotalExpo: newExpo, Timestamp: now})
	return false, nil
}

// InitiateClosePosition removes closeAmount of the owner's position
// from the tick ledger and escrows its current value pending
// validation.
func (p *Protocol) InitiateClosePosition(id PositionID, closeAmount *big.Int, user, to, validator string, paidValue *big.Int, priceData []byte, others []ActionablePriceData, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if closeAmount == nil || closeAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	attested, err := p.prepareAction(ActionClosePosition, priceData, now)
	if err != nil {
		return err
	}
	if _, _, exists := p.pending.byAddr(validator); exists {
		return ErrPendingActionExists
	}
	pos, ok := p.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if p.ticks.Version(id.Tick) != id.Version {
		return ErrStalePosition
	}
	if pos.User != user {
		return ErrNotPositionOwner
	}
	if !pos.Validated {
		return ErrPositionNotValidated
	}
	if closeAmount.Cmp(pos.Amount) > 0 {
		return ErrInvalidCloseAmount
	}

	closeExpo := new(big.Int).Mul(pos.TotalExpo, closeAmount)
	closeExpo.Quo(closeExpo, pos.Amount)
	newTradingExpo := new(big.Int).Sub(p.tradingExpo(), new(big.Int).Sub(closeExpo, closeAmount))
	if err := p.checkImbalance(ActionClosePosition, newTradingExpo, p.state.BalanceVault); err != nil {
		return err
	}
	secdep, err := p.takeSecurityDeposit(validator, paidValue)
	if err != nil {
		return err
	}

	liqPrice, err := p.effectivePriceForTick(id.Tick)
	if err != nil {
		return err
	}
	escrow := positionValue(closeExpo, attested.Price, liqPrice)
	if escrow.Cmp(p.state.BalanceLong) > 0 {
		escrow.Set(p.state.BalanceLong)
	}

	full := closeAmount.Cmp(pos.Amount) == 0
	if err := p.ticks.RemovePosition(id.Tick, id.Version, closeExpo, full); err != nil {
		return err
	}
	if full {
		delete(p.positions, id)
	} else {
		pos.Amount.Sub(pos.Amount, closeAmount)
		pos.TotalExpo.Sub(pos.TotalExpo, closeExpo)
	}
	p.state.TotalExpo.Sub(p.state.TotalExpo, closeExpo)
	p.state.BalanceLong.Sub(p.state.BalanceLong, escrow)
	p.state.PendingBalance.Add(p.state.PendingBalance, escrow)

	_, err = p.pending.add(PendingAction{
		Kind:            ActionClosePosition,
		Validator:       validator,
		To:              to,
		Timestamp:       now,
		SecurityDeposit: secdep,
		Close: &ClosePayload{
			ID:          id,
			CloseAmount: new(big.Int).Set(closeAmount),
			CloseExpo:   closeExpo,
			Escrow:      escrow,
		},
	})
	if err != nil {
		return err
	}
	p.logger.Info("close initiated", "id", id, "amount", closeAmount, "escrow", escrow, "validator", validator)
	p.metrics.incInitiated(ActionClosePosition)
	p.emit(ActionInitiatedEvent{Kind: ActionClosePosition.String(), Validator: validator, To: to, Amount: closeAmount, Timestamp: now})

	p.processActionableLocked(validator, others, now)
	return nil
}

// ValidateClosePosition completes the validator's pending close.
func (p *Protocol) ValidateClosePosition(validator, caller string, priceData []byte, others []ActionablePriceData, now time.Time) error {
	return p.validateByAddr(ActionClosePosition, validator, caller, priceData, others, now)
}

// applyClose settles the escrowed close. The payout is repriced at the
// validation price and capped at the escrow; any remainder accrues to
// the vault. When the position's tick was liquidated after initiate,
// the whole escrow goes to the vault, matching what the sweep would
// have taken.
func (p *Protocol) applyClose(a PendingAction, attested *AttestedPrice, now time.Time) (stale bool, err error) {
	c := a.Close
	if p.ticks.Version(c.ID.Tick) != c.ID.Version {
		p.state.PendingBalance.Sub(p.state.PendingBalance, c.Escrow)
		p.state.BalanceVault.Add(p.state.BalanceVault, c.Escrow)
		p.logger.Info("close purged, tick liquidated before validation", "id", c.ID, "escrow", c.Escrow)
		p.emit(StaleActionPurgedEvent{Kind: a.Kind.String(), Validator: a.Validator, Position: c.ID, Timestamp: now})
		return true, nil
	}
	liqPrice, err := p.effectivePriceForTick(c.ID.Tick)
	if err != nil {
		return false, err
	}
	payout := positionValue(c.CloseExpo, attested.Price, liqPrice)
	if payout.Cmp(c.Escrow) > 0 {
		payout.Set(c.Escrow)
	}
	remainder := new(big.Int).Sub(c.Escrow, payout)
	p.state.PendingBalance.Sub(p.state.PendingBalance, c.Escrow)
	p.state.BalanceVault.Add(p.state.BalanceVault, remainder)
	p.creditAsset(a.To, payout)
	p.logger.Info("close validated", "id", c.ID, "payout", payout, "price", attested.Price)
	p.emit(PositionClosedEvent{ID: c.ID, User: a.To, Payout: payout, Timestamp: now})
	return false, nil
}

// positionExpo computes leveraged notional: amount * price / (price -
// liqPrice).
func positionExpo(amount, price, liqPrice *big.Int) (*big.Int, error) {
	denom := new(big.Int).Sub(price, liqPrice)
	if denom.Sign() <= 0 {
		return nil, ErrLiquidationPriceTooHigh
	}
	expo := new(big.Int).Mul(amount, price)
	expo.Quo(expo, denom)
	return expo, nil
}

// positionValue prices an exposure slice at the given market price:
// expo * (price - liqPrice) / price, floored at zero.
func positionValue(expo, price, liqPrice *big.Int) *big.Int {
	if price.Sign() <= 0 || price.Cmp(liqPrice) <= 0 {
		return new(big.Int)
	}
	v := new(big.Int).Sub(price, liqPrice)
	v.Mul(v, expo)
	v.Quo(v, price)
	return v
}

// checkLeverage verifies amount and expo imply a leverage inside the
// configured window. Leverage is expo/amount, 18-decimal.
func (p *Protocol) checkLeverage(amount, expo *big.Int) error {
	leverage := new(big.Int).Mul(expo, oneUnit)
	leverage.Quo(leverage, amount)
	if leverage.Cmp(p.cfg.MinLeverage) < 0 || leverage.Cmp(p.cfg.MaxLeverage) > 0 {
		return ErrLeverageOutOfBounds
	}
	return nil
}
