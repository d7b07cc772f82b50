package vault

import (
	"time"

	"github.com/tickvault/tickvault/pkg/deque"
)

// pendingStore keeps the FIFO of pending actions plus the per-validator
// index. The deque's stable slot ids are what initiate hands back to
// third parties so they can force-validate a bounded prefix of expired
// actions without disturbing anyone else's slot.
type pendingStore struct {
	q           *deque.Deque[PendingAction]
	byValidator map[string]uint64
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		q:           deque.New[PendingAction](),
		byValidator: make(map[string]uint64),
	}
}

// add enqueues an action at the back, returning its slot id.
func (s *pendingStore) add(a PendingAction) (uint64, error) {
	if _, exists := s.byValidator[a.Validator]; exists {
		return 0, ErrPendingActionExists
	}
	slot := s.q.PushBack(a)
	s.byValidator[a.Validator] = slot
	return slot, nil
}

// byAddr returns the pending action for a validator.
func (s *pendingStore) byAddr(validator string) (PendingAction, uint64, bool) {
	slot, ok := s.byValidator[validator]
	if !ok {
		return PendingAction{}, 0, false
	}
	a, err := s.q.AtSlot(slot)
	if err != nil || a.IsNone() {
		delete(s.byValidator, validator)
		return PendingAction{}, 0, false
	}
	return a, slot, true
}

// bySlot returns the action stored at a slot id.
func (s *pendingStore) bySlot(slot uint64) (PendingAction, bool) {
	a, err := s.q.AtSlot(slot)
	if err != nil || a.IsNone() {
		return PendingAction{}, false
	}
	return a, true
}

// remove clears a completed or purged action and compacts any
// tombstones that reach the front.
func (s *pendingStore) remove(validator string, slot uint64) {
	delete(s.byValidator, validator)
	_ = s.q.ClearAt(slot)
	s.compactFront()
}

func (s *pendingStore) compactFront() {
	for !s.q.IsEmpty() {
		a, err := s.q.Front()
		if err != nil || !a.IsNone() {
			return
		}
		_, _ = s.q.PopFront()
	}
}

// ActionableAction pairs a pending action with its queue slot so a
// third party can reference it when force-validating.
type ActionableAction struct {
	Slot   uint64        `json:"slot"`
	Action PendingAction `json:"action"`
}

// actionable returns up to max actions older than delay, scanning from
// the front and skipping tombstones. Only a contiguous prefix of the
// queue can be actionable: entries are in initiation order.
func (s *pendingStore) actionable(now time.Time, delay time.Duration, max int) []ActionableAction {
	var out []ActionableAction
	n := s.q.Len()
	for i := 0; i < n && len(out) < max; i++ {
		a, err := s.q.At(i)
		if err != nil {
			break
		}
		if a.IsNone() {
			continue
		}
		if now.Sub(a.Timestamp) < delay {
			break
		}
		slot, err := s.q.SlotAt(i)
		if err != nil {
			break
		}
		out = append(out, ActionableAction{Slot: slot, Action: a})
	}
	return out
}

// export/import support persistence of the queue with its slot ids
// intact.
func (s *pendingStore) export() (front uint64, items map[uint64]PendingAction) {
	return s.q.Export()
}

func (s *pendingStore) restore(front uint64, items map[uint64]PendingAction) {
	s.q = deque.Restore(front, items)
	s.byValidator = make(map[string]uint64)
	for slot, a := range items {
		if !a.IsNone() {
			s.byValidator[a.Validator] = slot
		}
	}
}
