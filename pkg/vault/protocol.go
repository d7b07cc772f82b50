package vault

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/tickvault/tickvault/pkg/tickmath"
	"github.com/tickvault/tickvault/pkg/u512"
)

// Protocol is the accounting and risk core: one collateral pool shared
// by a leveraged long side and a passive vault side, with exposure
// tracked per price tick. Calls are serialized; the host linearizes
// every entry point against every other.
type Protocol struct {
	cfg    Config
	logger log.Logger

	oracle     PriceOracle
	rewards    RewardCalculator
	rebalancer RebalancerHook
	sink       EventSink
	metrics    *Metrics

	state     State
	ticks     *TickLedger
	pending   *pendingStore
	positions map[PositionID]*Position

	// native and asset amounts owed to addresses (refunded security
	// deposits, liquidation rewards, validated payouts)
	nativeClaims map[string]*big.Int
	assetClaims  map[string]*big.Int

	mu sync.Mutex
}

// Option configures optional collaborators.
type Option func(*Protocol)

// WithRewardCalculator overrides the default reward pricing.
func WithRewardCalculator(rc RewardCalculator) Option {
	return func(p *Protocol) { p.rewards = rc }
}

// WithRebalancer wires the rebalancer hook.
func WithRebalancer(r RebalancerHook) Option {
	return func(p *Protocol) { p.rebalancer = r }
}

// WithEventSink wires an event publisher.
func WithEventSink(s EventSink) Option {
	return func(p *Protocol) { p.sink = s }
}

// SetEventSink wires the sink after construction, for sinks that need
// a protocol reference themselves.
func (p *Protocol) SetEventSink(s EventSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = s
}

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(p *Protocol) { p.metrics = m }
}

// NewProtocol creates an empty protocol ledger.
func NewProtocol(cfg Config, oracle PriceOracle, logger log.Logger, opts ...Option) (*Protocol, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, fmt.Errorf("vault: oracle is required")
	}
	p := &Protocol{
		cfg:        cfg,
		logger:     logger,
		oracle:     oracle,
		rewards:    NewFlatRewardCalculator(),
		rebalancer: NoopRebalancer{},
		state: State{
			BalanceLong:    new(big.Int),
			BalanceVault:   new(big.Int),
			TotalExpo:      new(big.Int),
			PendingBalance: new(big.Int),
			LiqMultiplier:  initialMultiplier(),
			FundingEMA:     new(big.Int),
		},
		ticks:        NewTickLedger(),
		pending:      newPendingStore(),
		positions:    make(map[PositionID]*Position),
		nativeClaims: make(map[string]*big.Int),
		assetClaims:  make(map[string]*big.Int),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = noopMetrics()
	}
	return p, nil
}

// Initialize seeds the ledger with an initial vault deposit and the
// starting price. Must be called once before any action.
func (p *Protocol) Initialize(vaultAmount, price *big.Int, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.LastUpdate.IsZero() {
		return fmt.Errorf("vault: already initialized")
	}
	if price == nil || price.Cmp(tickmath.MinPrice()) < 0 || price.Cmp(tickmath.MaxPrice()) > 0 {
		return tickmath.ErrInvalidPrice
	}
	if vaultAmount == nil || vaultAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	p.state.BalanceVault.Set(vaultAmount)
	p.state.LastPrice = new(big.Int).Set(price)
	p.state.LastUpdate = now
	p.logger.Info("protocol initialized", "vault", vaultAmount, "price", price)
	p.metrics.observeBalances(&p.state)
	return nil
}

// Config returns a copy of the active parameters.
func (p *Protocol) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetImbalanceLimits replaces the per-kind imbalance limits.
func (p *Protocol) SetImbalanceLimits(depositBps, withdrawalBps, openBps, closeBps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.DepositLimitBps = depositBps
	p.cfg.WithdrawalLimitBps = withdrawalBps
	p.cfg.OpenLimitBps = openBps
	p.cfg.CloseLimitBps = closeBps
	p.logger.Info("imbalance limits updated",
		"deposit", depositBps, "withdrawal", withdrawalBps, "open", openBps, "close", closeBps)
}

// SetSecurityDeposit replaces the escrowed security deposit amount for
// new actions; pending actions keep the amount they escrowed.
func (p *Protocol) SetSecurityDeposit(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: invalid security deposit")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.SecurityDeposit = new(big.Int).Set(amount)
	return nil
}

// SetFundingSF replaces the funding scale factor.
func (p *Protocol) SetFundingSF(sf *big.Int) error {
	if sf == nil || sf.Sign() < 0 {
		return fmt.Errorf("vault: invalid funding scale factor")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.FundingSF = new(big.Int).Set(sf)
	return nil
}

// Snapshot returns a copy of the scalar state.
func (p *Protocol) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Protocol) snapshotLocked() State {
	s := State{
		BalanceLong:    new(big.Int).Set(p.state.BalanceLong),
		BalanceVault:   new(big.Int).Set(p.state.BalanceVault),
		TotalExpo:      new(big.Int).Set(p.state.TotalExpo),
		PendingBalance: new(big.Int).Set(p.state.PendingBalance),
		LiqMultiplier:  p.state.LiqMultiplier,
		FundingEMA:     new(big.Int).Set(p.state.FundingEMA),
		LastUpdate:     p.state.LastUpdate,
	}
	if p.state.LastPrice != nil {
		s.LastPrice = new(big.Int).Set(p.state.LastPrice)
	}
	return s
}

// TickVersion returns the live version of a tick.
func (p *Protocol) TickVersion(tick int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks.Version(tick)
}

// TickData returns the aggregate stored at (tick, version).
func (p *Protocol) TickData(tick int, version uint64) (TickData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks.Entry(tick, version)
}

// GetPosition looks up a position by id, failing with ErrStalePosition
// when its tick version has advanced.
func (p *Protocol) GetPosition(id PositionID) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getPositionLocked(id)
}

func (p *Protocol) getPositionLocked(id PositionID) (Position, error) {
	pos, ok := p.positions[id]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	if p.ticks.Version(id.Tick) != id.Version {
		return Position{}, ErrStalePosition
	}
	cp := *pos
	cp.Amount = new(big.Int).Set(pos.Amount)
	cp.TotalExpo = new(big.Int).Set(pos.TotalExpo)
	return cp, nil
}

// ClaimableNative returns native currency owed to an address.
func (p *Protocol) ClaimableNative(addr string) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.nativeClaims[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// ClaimableAsset returns asset amounts owed to an address.
func (p *Protocol) ClaimableAsset(addr string) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.assetClaims[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (p *Protocol) creditNative(addr string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	if _, ok := p.nativeClaims[addr]; !ok {
		p.nativeClaims[addr] = new(big.Int)
	}
	p.nativeClaims[addr].Add(p.nativeClaims[addr], amount)
}

func (p *Protocol) creditAsset(addr string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	if _, ok := p.assetClaims[addr]; !ok {
		p.assetClaims[addr] = new(big.Int)
	}
	p.assetClaims[addr].Add(p.assetClaims[addr], amount)
}

func (p *Protocol) emit(ev Event) {
	if p.sink != nil {
		p.sink.Publish(ev)
	}
}

// effectivePriceForTick applies the multiplier accumulator to the grid
// price so historical funding is included without per-tick writes.
func (p *Protocol) effectivePriceForTick(tick int) (*big.Int, error) {
	base, err := tickmath.PriceAtTick(tick)
	if err != nil {
		return nil, err
	}
	baseW, err := u512.U256FromBig(base)
	if err != nil {
		return nil, err
	}
	prod, err := u512.Mul(u512.Uint512{Lo: baseW}, p.state.LiqMultiplier)
	if err != nil {
		return nil, err
	}
	q, err := u512.DivWord(prod, multOneWord)
	if err != nil {
		return nil, err
	}
	return q.Big(), nil
}

// tickForEffectivePrice is the floor inverse of effectivePriceForTick.
func (p *Protocol) tickForEffectivePrice(price *big.Int) (int, error) {
	priceW, err := u512.U256FromBig(price)
	if err != nil {
		return 0, err
	}
	scaled := u512.Mul256(priceW, multOneWord)
	unadj, err := u512.Div(scaled, p.state.LiqMultiplier)
	if err != nil {
		return 0, err
	}
	return tickmath.TickAtPrice(unadj.Big())
}

// usableTickForPrice floors the price's tick to the spacing grid.
func (p *Protocol) usableTickForPrice(price *big.Int) (int, error) {
	t, err := p.tickForEffectivePrice(price)
	if err != nil {
		return 0, err
	}
	return floorToSpacing(t, p.cfg.TickSpacing), nil
}

func floorToSpacing(tick, spacing int) int {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// checkImbalance enforces the configured long/vault drift bound for the
// given action kind against the balances the action would produce.
func (p *Protocol) checkImbalance(kind ActionKind, newTradingExpo, newVault *big.Int) error {
	var limit int64
	var num, denom *big.Int
	switch kind {
	case ActionDeposit, ActionClosePosition:
		// vault side grows relative to long exposure
		limit = p.cfg.DepositLimitBps
		if kind == ActionClosePosition {
			limit = p.cfg.CloseLimitBps
		}
		num = new(big.Int).Sub(newVault, newTradingExpo)
		denom = newTradingExpo
	case ActionWithdrawal, ActionOpenPosition:
		// long exposure grows relative to the vault
		limit = p.cfg.WithdrawalLimitBps
		if kind == ActionOpenPosition {
			limit = p.cfg.OpenLimitBps
		}
		num = new(big.Int).Sub(newTradingExpo, newVault)
		denom = newVault
	default:
		return nil
	}
	if limit <= 0 || denom.Sign() <= 0 {
		return nil
	}
	ratio := new(big.Int).Mul(num, big.NewInt(10_000))
	ratio.Quo(ratio, denom)
	if ratio.Cmp(big.NewInt(limit)) > 0 {
		return &ImbalanceError{RatioBps: ratio.Int64(), LimitBps: limit}
	}
	return nil
}

// tradingExpo is total exposure minus the long balance: the portion of
// long notional backed by the vault.
func (p *Protocol) tradingExpo() *big.Int {
	return new(big.Int).Sub(p.state.TotalExpo, p.state.BalanceLong)
}
