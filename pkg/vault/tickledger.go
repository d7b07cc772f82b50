package vault

import (
	"math/big"
)

// TickData is the aggregate exposure for one (tick, version).
type TickData struct {
	TotalExpo     *big.Int `json:"totalExpo"`
	PositionCount uint32   `json:"positionCount"`
}

type tickKey struct {
	Tick    int
	Version uint64
}

// TickLedger owns per-tick aggregate exposure, the per-tick version
// counters and the populated-tick bitmap. A tick is populated iff its
// live-version aggregate has PositionCount > 0.
type TickLedger struct {
	versions map[int]uint64
	entries  map[tickKey]*TickData
	nextIdx  map[tickKey]uint64
	bitmap   *tickBitmap
}

// NewTickLedger creates an empty ledger.
func NewTickLedger() *TickLedger {
	return &TickLedger{
		versions: make(map[int]uint64),
		entries:  make(map[tickKey]*TickData),
		nextIdx:  make(map[tickKey]uint64),
		bitmap:   newTickBitmap(),
	}
}

// Version returns the live version of a tick.
func (tl *TickLedger) Version(tick int) uint64 {
	return tl.versions[tick]
}

// Entry returns a copy of the aggregate at (tick, version).
func (tl *TickLedger) Entry(tick int, version uint64) (TickData, bool) {
	e, ok := tl.entries[tickKey{tick, version}]
	if !ok {
		return TickData{TotalExpo: new(big.Int)}, false
	}
	return TickData{TotalExpo: new(big.Int).Set(e.TotalExpo), PositionCount: e.PositionCount}, true
}

func (tl *TickLedger) live(tick int) *TickData {
	k := tickKey{tick, tl.versions[tick]}
	e, ok := tl.entries[k]
	if !ok {
		e = &TickData{TotalExpo: new(big.Int)}
		tl.entries[k] = e
	}
	return e
}

// AddPosition adds expo to the tick's live aggregate and returns the
// live version and the insertion index for the new position.
func (tl *TickLedger) AddPosition(tick int, expo *big.Int) (version, index uint64) {
	version = tl.versions[tick]
	e := tl.live(tick)
	e.TotalExpo.Add(e.TotalExpo, expo)
	e.PositionCount++
	if e.PositionCount == 1 {
		tl.bitmap.set(tick)
	}
	k := tickKey{tick, version}
	index = tl.nextIdx[k]
	tl.nextIdx[k] = index + 1
	return version, index
}

// AddExpo adjusts the live aggregate without changing the position
// count (used when validation recomputes a pending position's expo).
// A negative delta removes exposure.
func (tl *TickLedger) AddExpo(tick int, version uint64, delta *big.Int) error {
	if version != tl.versions[tick] {
		return ErrStalePosition
	}
	e := tl.live(tick)
	e.TotalExpo.Add(e.TotalExpo, delta)
	return nil
}

// RemovePosition removes expo from the tick's aggregate. When full is
// set the position count is decremented; the bit clears when the count
// reaches zero. Fails with ErrStalePosition on a version mismatch.
func (tl *TickLedger) RemovePosition(tick int, version uint64, expo *big.Int, full bool) error {
	if version != tl.versions[tick] {
		return ErrStalePosition
	}
	e := tl.live(tick)
	e.TotalExpo.Sub(e.TotalExpo, expo)
	if full {
		e.PositionCount--
		if e.PositionCount == 0 {
			tl.bitmap.clear(tick)
		}
	}
	return nil
}

// LiquidateTick ejects the tick's live aggregate: the old entry is
// frozen under its version, the version advances, the bitmap bit
// clears, and the new version starts from zero. Returns the ejected
// aggregate.
func (tl *TickLedger) LiquidateTick(tick int) TickData {
	old := tl.live(tick)
	ejected := TickData{TotalExpo: new(big.Int).Set(old.TotalExpo), PositionCount: old.PositionCount}
	tl.versions[tick]++
	tl.bitmap.clear(tick)
	return ejected
}

// HighestPopulatedTickAtOrBelow scans descending for the next tick to
// check during a sweep.
func (tl *TickLedger) HighestPopulatedTickAtOrBelow(tick int) (int, bool) {
	return tl.bitmap.highestSetAtOrBelow(tick)
}

// Populated reports whether the tick's live version holds positions.
func (tl *TickLedger) Populated(tick int) bool {
	return tl.bitmap.isSet(tick)
}

// LiveExpoSum returns the sum of all live-version aggregates; used by
// invariant checks and tests.
func (tl *TickLedger) LiveExpoSum() *big.Int {
	sum := new(big.Int)
	for k, e := range tl.entries {
		if k.Version == tl.versions[k.Tick] && e.PositionCount > 0 {
			sum.Add(sum, e.TotalExpo)
		}
	}
	return sum
}
