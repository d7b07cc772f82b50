package vault

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/tickvault/tickvault/pkg/u512"
)

// Storage keys. Each section is one JSON document; snapshots are small
// (the queue is drained regularly and dead tick versions carry no
// positions worth persisting).
var (
	stateKey     = []byte("vault:state")
	ticksKey     = []byte("vault:ticks")
	positionsKey = []byte("vault:positions")
	pendingKey   = []byte("vault:pending")
	claimsKey    = []byte("vault:claims")
)

// Store persists protocol snapshots to a luxfi database backend.
type Store struct {
	db     database.Database
	logger log.Logger
}

// NewStore wraps an open database.
func NewStore(db database.Database, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

type persistedState struct {
	BalanceLong    *big.Int  `json:"balanceLong"`
	BalanceVault   *big.Int  `json:"balanceVault"`
	TotalExpo      *big.Int  `json:"totalExpo"`
	PendingBalance *big.Int  `json:"pendingBalance"`
	LiqMultiplier  string    `json:"liqMultiplier"`
	FundingEMA     *big.Int  `json:"fundingEMA"`
	LastPrice      *big.Int  `json:"lastPrice"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

type persistedTickEntry struct {
	Tick      int      `json:"tick"`
	Version   uint64   `json:"version"`
	TotalExpo *big.Int `json:"totalExpo"`
	Count     uint32   `json:"count"`
	NextIdx   uint64   `json:"nextIdx"`
}

type persistedTicks struct {
	Versions map[string]uint64    `json:"versions"`
	Entries  []persistedTickEntry `json:"entries"`
}

type persistedPosition struct {
	ID       PositionID `json:"id"`
	Position Position   `json:"position"`
}

type persistedPending struct {
	Front uint64                   `json:"front"`
	Items map[uint64]PendingAction `json:"items"`
}

type persistedClaims struct {
	Native map[string]*big.Int `json:"native"`
	Asset  map[string]*big.Int `json:"asset"`
}

// Save writes a consistent snapshot of the protocol in one batch.
func (s *Store) Save(p *Protocol) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Reset()

	st := persistedState{
		BalanceLong:    p.state.BalanceLong,
		BalanceVault:   p.state.BalanceVault,
		TotalExpo:      p.state.TotalExpo,
		PendingBalance: p.state.PendingBalance,
		LiqMultiplier:  p.state.LiqMultiplier.String(),
		FundingEMA:     p.state.FundingEMA,
		LastPrice:      p.state.LastPrice,
		LastUpdate:     p.state.LastUpdate,
	}
	if err := putJSON(batch, stateKey, st); err != nil {
		return err
	}

	tk := persistedTicks{Versions: make(map[string]uint64, len(p.ticks.versions))}
	for tick, v := range p.ticks.versions {
		tk.Versions[fmt.Sprintf("%d", tick)] = v
	}
	for k, e := range p.ticks.entries {
		// only live versions can still matter; dead ones are frozen
		// history with no claims against them
		if k.Version != p.ticks.versions[k.Tick] {
			continue
		}
		tk.Entries = append(tk.Entries, persistedTickEntry{
			Tick:      k.Tick,
			Version:   k.Version,
			TotalExpo: e.TotalExpo,
			Count:     e.PositionCount,
			NextIdx:   p.ticks.nextIdx[k],
		})
	}
	if err := putJSON(batch, ticksKey, tk); err != nil {
		return err
	}

	ps := make([]persistedPosition, 0, len(p.positions))
	for id, pos := range p.positions {
		if p.ticks.versions[id.Tick] != id.Version {
			continue
		}
		ps = append(ps, persistedPosition{ID: id, Position: *pos})
	}
	if err := putJSON(batch, positionsKey, ps); err != nil {
		return err
	}

	front, items := p.pending.export()
	if err := putJSON(batch, pendingKey, persistedPending{Front: front, Items: items}); err != nil {
		return err
	}
	if err := putJSON(batch, claimsKey, persistedClaims{Native: p.nativeClaims, Asset: p.assetClaims}); err != nil {
		return err
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("vault: snapshot write failed: %w", err)
	}
	s.logger.Info("snapshot saved",
		"positions", len(ps), "pending", len(items), "ticks", len(tk.Entries))
	return nil
}

// Load restores a snapshot into p. Returns false when the database
// holds no snapshot yet.
func (s *Store) Load(p *Protocol) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var st persistedState
	ok, err := getJSON(s.db, stateKey, &st)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Info("no snapshot found, starting fresh")
		return false, nil
	}
	mult, ok := new(big.Int).SetString(st.LiqMultiplier, 10)
	if !ok {
		return false, fmt.Errorf("vault: corrupt multiplier in snapshot")
	}
	multW, err := u512.U512FromBig(mult)
	if err != nil {
		return false, err
	}
	p.state = State{
		BalanceLong:    orZero(st.BalanceLong),
		BalanceVault:   orZero(st.BalanceVault),
		TotalExpo:      orZero(st.TotalExpo),
		PendingBalance: orZero(st.PendingBalance),
		LiqMultiplier:  multW,
		FundingEMA:     orZero(st.FundingEMA),
		LastPrice:      st.LastPrice,
		LastUpdate:     st.LastUpdate,
	}

	var tk persistedTicks
	if _, err := getJSON(s.db, ticksKey, &tk); err != nil {
		return false, err
	}
	p.ticks = NewTickLedger()
	for ts, v := range tk.Versions {
		var tick int
		if _, err := fmt.Sscanf(ts, "%d", &tick); err != nil {
			return false, fmt.Errorf("vault: corrupt tick key %q", ts)
		}
		p.ticks.versions[tick] = v
	}
	for _, e := range tk.Entries {
		k := tickKey{e.Tick, e.Version}
		p.ticks.entries[k] = &TickData{TotalExpo: orZero(e.TotalExpo), PositionCount: e.Count}
		p.ticks.nextIdx[k] = e.NextIdx
		if e.Count > 0 && p.ticks.versions[e.Tick] == e.Version {
			p.ticks.bitmap.set(e.Tick)
		}
	}

	var ps []persistedPosition
	if _, err := getJSON(s.db, positionsKey, &ps); err != nil {
		return false, err
	}
	p.positions = make(map[PositionID]*Position, len(ps))
	for i := range ps {
		pos := ps[i].Position
		p.positions[ps[i].ID] = &pos
	}

	var pq persistedPending
	if found, err := getJSON(s.db, pendingKey, &pq); err != nil {
		return false, err
	} else if found {
		p.pending.restore(pq.Front, pq.Items)
	}

	var cl persistedClaims
	if found, err := getJSON(s.db, claimsKey, &cl); err != nil {
		return false, err
	} else if found {
		if cl.Native != nil {
			p.nativeClaims = cl.Native
		}
		if cl.Asset != nil {
			p.assetClaims = cl.Asset
		}
	}

	s.logger.Info("snapshot loaded",
		"positions", len(ps), "lastPrice", p.state.LastPrice, "lastUpdate", p.state.LastUpdate)
	return true, nil
}

func putJSON(batch database.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vault: marshal %s: %w", key, err)
	}
	return batch.Put(key, data)
}

func getJSON(db database.Database, key []byte, v any) (bool, error) {
	data, err := db.Get(key)
	if err != nil {
		if err == database.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("vault: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
