package vault

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is a protocol occurrence worth publishing. Subject returns the
// routing suffix under the publisher's root subject.
type Event interface {
	Subject() string
}

// EventSink receives protocol events. Publishing is best-effort; a
// failing sink never blocks or reverts ledger mutations.
type EventSink interface {
	Publish(ev Event)
}

// ActionInitiatedEvent is emitted when a pending action enters the
// queue.
type ActionInitiatedEvent struct {
	Kind      string    `json:"kind"`
	Validator string    `json:"validator"`
	To        string    `json:"to"`
	Amount    *big.Int  `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ActionInitiatedEvent) Subject() string { return "action.initiated." + e.Kind }

// ActionValidatedEvent is emitted when a pending action completes.
type ActionValidatedEvent struct {
	Kind      string    `json:"kind"`
	Validator string    `json:"validator"`
	By        string    `json:"by"`
	Price     *big.Int  `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ActionValidatedEvent) Subject() string { return "action.validated." + e.Kind }

// StaleActionPurgedEvent is emitted when a pending action references a
// liquidated tick version and is dropped with no economic effect.
type StaleActionPurgedEvent struct {
	Kind      string     `json:"kind"`
	Validator string     `json:"validator"`
	Position  PositionID `json:"position"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e StaleActionPurgedEvent) Subject() string { return "action.stale" }

// TickLiquidatedEvent is emitted per tick ejected by a sweep.
type TickLiquidatedEvent struct {
	Tick       int       `json:"tick"`
	OldVersion uint64    `json:"oldVersion"`
	TotalExpo  *big.Int  `json:"totalExpo"`
	Positions  uint32    `json:"positions"`
	TickValue  *big.Int  `json:"tickValue"`
	Price      *big.Int  `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e TickLiquidatedEvent) Subject() string { return "tick.liquidated" }

// PositionOpenedEvent is emitted when an open completes validation.
type PositionOpenedEvent struct {
	ID        PositionID `json:"id"`
	User      string     `json:"user"`
	Amount    *big.Int   `json:"amount"`
	TotalExpo *big.Int   `json:"totalExpo"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e PositionOpenedEvent) Subject() string { return "position.opened" }

// PositionClosedEvent is emitted when a close completes validation.
type PositionClosedEvent struct {
	ID        PositionID `json:"id"`
	User      string     `json:"user"`
	Payout    *big.Int   `json:"payout"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e PositionClosedEvent) Subject() string { return "position.closed" }

// NATSSink publishes events as JSON to <root>.<subject>.
type NATSSink struct {
	conn *nats.Conn
	root string
}

// NewNATSSink wraps an established NATS connection.
func NewNATSSink(conn *nats.Conn, root string) *NATSSink {
	if root == "" {
		root = "tickvault"
	}
	return &NATSSink{conn: conn, root: root}
}

// Publish implements EventSink.
func (s *NATSSink) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// fire and forget; the ledger mutation already committed
	_ = s.conn.Publish(fmt.Sprintf("%s.%s", s.root, ev.Subject()), data)
}

// FanoutSink forwards each event to every wrapped sink.
type FanoutSink []EventSink

// Publish implements EventSink.
func (f FanoutSink) Publish(ev Event) {
	for _, s := range f {
		s.Publish(ev)
	}
}
