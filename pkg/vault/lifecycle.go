package vault

import (
	"math/big"
	"time"
)

// ActionablePriceData references another user's expired action together
// with fresh oracle data for it, so an unrelated call can force its
// validation and unblock the queue.
type ActionablePriceData struct {
	Slot      uint64 `json:"slot"`
	PriceData []byte `json:"priceData"`
}

// prepareAction runs the shared entry preamble: oracle validation of
// the caller's "now" price, funding accrual, and the bounded
// opportunistic liquidation pass. The pass runs first because a stale
// ledger view could otherwise let the caller act against mispriced
// aggregates.
func (p *Protocol) prepareAction(kind ActionKind, priceData []byte, now time.Time) (*AttestedPrice, error) {
	if p.state.LastUpdate.IsZero() {
		return nil, ErrNotInitialized
	}
	attested, err := p.oracle.ParseAndValidate(priceData, now, kind)
	if err != nil {
		return nil, err
	}
	p.accrueFunding(now)
	p.sweepLocked(attested.Price, p.cfg.MaxLiquidationIteration, now)
	p.state.LastPrice = new(big.Int).Set(attested.Price)
	return attested, nil
}

func (p *Protocol) takeSecurityDeposit(validator string, paidValue *big.Int) (*big.Int, error) {
	if paidValue == nil || paidValue.Cmp(p.cfg.SecurityDeposit) < 0 {
		return nil, ErrInsufficientSecurityDeposit
	}
	excess := new(big.Int).Sub(paidValue, p.cfg.SecurityDeposit)
	p.creditNative(validator, excess)
	return new(big.Int).Set(p.cfg.SecurityDeposit), nil
}

// InitiateDeposit escrows amount on the vault side pending validation.
// The deposit is credited at validation time using the validation
// price.
func (p *Protocol) InitiateDeposit(amount *big.Int, to, validator string, paidValue *big.Int, priceData []byte, others []ActionablePriceData, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	_, err := p.prepareAction(ActionDeposit, priceData, now)
	if err != nil {
		return err
	}
	if _, _, exists := p.pending.byAddr(validator); exists {
		return ErrPendingActionExists
	}
	newVault := new(big.Int).Add(p.state.BalanceVault, amount)
	if err := p.checkImbalance(ActionDeposit, p.tradingExpo(), newVault); err != nil {
		return err
	}
	secdep, err := p.takeSecurityDeposit(validator, paidValue)
	if err != nil {
		return err
	}

	p.state.PendingBalance.Add(p.state.PendingBalance, amount)
	_, err = p.pending.add(PendingAction{
		Kind:            ActionDeposit,
		Validator:       validator,
		To:              to,
		Timestamp:       now,
		SecurityDeposit: secdep,
		Deposit:         &DepositPayload{Amount: new(big.Int).Set(amount)},
	})
	if err != nil {
		return err
	}
	p.logger.Info("deposit initiated", "validator", validator, "amount", amount)
	p.metrics.incInitiated(ActionDeposit)
	p.emit(ActionInitiatedEvent{Kind: ActionDeposit.String(), Validator: validator, To: to, Amount: amount, Timestamp: now})

	p.processActionableLocked(validator, others, now)
	return nil
}

// ValidateDeposit completes the validator's pending deposit with a
// price whose publish time covers the minimum validation delay.
func (p *Protocol) ValidateDeposit(validator, caller string, priceData []byte, others []ActionablePriceData, now time.Time) error {
	return p.validateByAddr(ActionDeposit, validator, caller, priceData, others, now)
}

// InitiateWithdrawal reserves amount out of the vault side pending
// validation.
func (p *Protocol) InitiateWithdrawal(amount *big.Int, to, validator string, paidValue *big.Int, priceData []byte, others []ActionablePriceData, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	_, err := p.prepareAction(ActionWithdrawal, priceData, now)
	if err != nil {
		return err
	}
	if _, _, exists := p.pending.byAddr(validator); exists {
		return ErrPendingActionExists
	}
	if amount.Cmp(p.state.BalanceVault) > 0 {
		return ErrInsufficientVaultBalance
	}
	newVault := new(big.Int).Sub(p.state.BalanceVault, amount)
	if err := p.checkImbalance(ActionWithdrawal, p.tradingExpo(), newVault); err != nil {
		return err
	}
	secdep, err := p.takeSecurityDeposit(validator, paidValue)
	if err != nil {
		return err
	}

	p.state.BalanceVault.Sub(p.state.BalanceVault, amount)
	p.state.PendingBalance.Add(p.state.PendingBalance, amount)
	_, err = p.pending.add(PendingAction{
		Kind:            ActionWithdrawal,
		Validator:       validator,
		To:              to,
		Timestamp:       now,
		SecurityDeposit: secdep,
		Withdrawal:      &WithdrawalPayload{Amount: new(big.Int).Set(amount)},
	})
	if err != nil {
		// roll the reservation back; the action was never enqueued
		p.state.BalanceVault.Add(p.state.BalanceVault, amount)
		p.state.PendingBalance.Sub(p.state.PendingBalance, amount)
		return err
	}
	p.logger.Info("withdrawal initiated", "validator", validator, "amount", amount)
	p.metrics.incInitiated(ActionWithdrawal)
	p.emit(ActionInitiatedEvent{Kind: ActionWithdrawal.String(), Validator: validator, To: to, Amount: amount, Timestamp: now})

	p.processActionableLocked(validator, others, now)
	return nil
}

// ValidateWithdrawal completes the validator's pending withdrawal.
func (p *Protocol) ValidateWithdrawal(validator, caller string, priceData []byte, others []ActionablePriceData, now time.Time) error {
	return p.validateByAddr(ActionWithdrawal, validator, caller, priceData, others, now)
}

// validateByAddr is the shared validate entry point for all four
// kinds.
func (p *Protocol) validateByAddr(kind ActionKind, validator, caller string, priceData []byte, others []ActionablePriceData, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	attested, err := p.prepareAction(kind, priceData, now)
	if err != nil {
		return err
	}
	a, slot, ok := p.pending.byAddr(validator)
	if !ok || a.Kind != kind {
		return ErrNoPendingAction
	}
	if attested.PublishTime.Before(a.Timestamp.Add(p.cfg.ValidationDelay)) {
		return ErrActionNotValidatable
	}
	if err := p.settlePendingLocked(a, slot, caller, attested, now); err != nil {
		return err
	}
	p.processActionableLocked(caller, others, now)
	return nil
}

// settlePendingLocked applies a pending action's economic effect using
// the supplied validation-time price, removes it from the queue and
// routes the security deposit: to the settling caller normally, back
// to the original validator when the action turned out stale.
func (p *Protocol) settlePendingLocked(a PendingAction, slot uint64, caller string, attested *AttestedPrice, now time.Time) error {
	var (
		stale bool
		err   error
	)
	switch a.Kind {
	case ActionDeposit:
		p.applyDeposit(a, attested, now)
	case ActionWithdrawal:
		p.applyWithdrawal(a, attested, now)
	case ActionOpenPosition:
		stale, err = p.applyOpen(a, attested, now)
	case ActionClosePosition:
		stale, err = p.applyClose(a, attested, now)
	default:
		return ErrNoPendingAction
	}
	if err != nil {
		return err
	}
	p.pending.remove(a.Validator, slot)
	if stale {
		p.creditNative(a.Validator, a.SecurityDeposit)
		p.metrics.incStale()
	} else {
		p.creditNative(caller, a.SecurityDeposit)
		p.metrics.incValidated(a.Kind)
		p.emit(ActionValidatedEvent{Kind: a.Kind.String(), Validator: a.Validator, By: caller, Price: attested.Price, Timestamp: now})
	}
	p.metrics.observeBalances(&p.state)
	return nil
}

func (p *Protocol) applyDeposit(a PendingAction, attested *AttestedPrice, now time.Time) {
	amount := a.Deposit.Amount
	p.state.PendingBalance.Sub(p.state.PendingBalance, amount)
	p.state.BalanceVault.Add(p.state.BalanceVault, amount)
	p.logger.Info("deposit validated", "validator", a.Validator, "amount", amount, "price", attested.Price)
}

func (p *Protocol) applyWithdrawal(a PendingAction, attested *AttestedPrice, now time.Time) {
	amount := a.Withdrawal.Amount
	p.state.PendingBalance.Sub(p.state.PendingBalance, amount)
	p.creditAsset(a.To, amount)
	p.logger.Info("withdrawal validated", "validator", a.Validator, "amount", amount, "price", attested.Price)
}

// GetActionablePendingActions returns the actionable prefix of the
// queue: actions old enough that any caller may force-validate them.
func (p *Protocol) GetActionablePendingActions(now time.Time) []ActionableAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.actionable(now, p.cfg.ActionableDelay, p.cfg.MaxActionablePerCall)
}

// PendingActionFor returns the validator's pending action, if any.
func (p *Protocol) PendingActionFor(validator string) (PendingAction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, _, ok := p.pending.byAddr(validator)
	return a, ok
}

// processActionableLocked force-validates the referenced expired
// actions on behalf of caller. Best effort: entries that are missing,
// not yet actionable or carry bad price data are skipped so they never
// poison the caller's own action.
func (p *Protocol) processActionableLocked(caller string, others []ActionablePriceData, now time.Time) {
	for _, ref := range others {
		a, ok := p.pending.bySlot(ref.Slot)
		if !ok {
			continue
		}
		if now.Sub(a.Timestamp) < p.cfg.ActionableDelay {
			continue
		}
		attested, err := p.oracle.ParseAndValidate(ref.PriceData, now, a.Kind)
		if err != nil {
			p.logger.Warn("skipping actionable entry, oracle rejected data", "slot", ref.Slot, "err", err)
			continue
		}
		// same publish-time floor as a regular validate: the price must
		// postdate the action's minimum validation delay
		if attested.PublishTime.Before(a.Timestamp.Add(p.cfg.ValidationDelay)) {
			p.logger.Warn("skipping actionable entry, publish time inside validation delay", "slot", ref.Slot)
			continue
		}
		if err := p.settlePendingLocked(a, ref.Slot, caller, attested, now); err != nil {
			p.logger.Warn("skipping actionable entry", "slot", ref.Slot, "err", err)
		}
	}
}
