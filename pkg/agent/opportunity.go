package agent

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateOpportunity mirrors og.ErrDuplicateOrder.
	ErrDuplicateOpportunity = errors.New("agent: opportunity already exists")
	// ErrUnknownOpportunity mirrors og.ErrUnknownOrder.
	ErrUnknownOpportunity = errors.New("agent: opportunity not found")
	// ErrInvalidTransition mirrors og.ErrInvalidTransition: a terminal
	// opportunity cannot be transitioned again.
	ErrInvalidTransition = errors.New("agent: invalid opportunity state transition")
)

// OppState is one state of spec.md §4.7's per-candidate state machine.
type OppState uint8

const (
	OppStateIdle OppState = iota
	OppStateClaim
	OppStateReserve
	OppStatePlaceA
	OppStatePlaceB
	OppStateCancelA
	OppStateMarketCloseA
	OppStateSettled
	OppStateAbort
)

func (s OppState) String() string {
	switch s {
	case OppStateIdle:
		return "IDLE"
	case OppStateClaim:
		return "CLAIM"
	case OppStateReserve:
		return "RESERVE"
	case OppStatePlaceA:
		return "PLACE_A"
	case OppStatePlaceB:
		return "PLACE_B"
	case OppStateCancelA:
		return "CANCEL_A"
	case OppStateMarketCloseA:
		return "MARKET_CLOSE_A"
	case OppStateSettled:
		return "SETTLED"
	case OppStateAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

func isTerminal(s OppState) bool {
	return s == OppStateSettled || s == OppStateAbort
}

// Opportunity tracks one candidate pure-arbitrage pair through the
// CLAIM→RESERVE→PLACE_A→PLACE_B→SETTLED/ABORT lifecycle of spec.md
// §4.7, the two-leg generalization of
// yanun0323-go-hft/internal/og/state_machine.go's single-order Order.
type Opportunity struct {
	ID       string
	MarketID string
	Entity   string
	YesToken string
	NoToken  string

	Size          decimal.Decimal
	YesPrice      decimal.Decimal
	NoPrice       decimal.Decimal
	ExpectedProfitUSD decimal.Decimal

	ReservationID string
	OrderAID      string
	OrderBID      string
	FilledA       decimal.Decimal
	FilledB       decimal.Decimal
	SpentUSD      decimal.Decimal

	State     OppState
	CreatedAt time.Time
}

// OpportunityStore tracks in-flight opportunities keyed by ID, the
// two-leg generalization of og.StateMachine's orders map.
type OpportunityStore struct {
	opps map[string]*Opportunity
}

// NewOpportunityStore returns an empty store.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{opps: make(map[string]*Opportunity)}
}

// Get returns the opportunity by id.
func (s *OpportunityStore) Get(id string) (*Opportunity, bool) {
	o, ok := s.opps[id]
	return o, ok
}

// Open creates a new opportunity in CLAIM state.
func (s *OpportunityStore) Open(o *Opportunity) error {
	if o.ID == "" {
		return ErrUnknownOpportunity
	}
	if _, exists := s.opps[o.ID]; exists {
		return ErrDuplicateOpportunity
	}
	o.State = OppStateClaim
	s.opps[o.ID] = o
	return nil
}

// Transition moves the opportunity to next, refusing to leave a
// terminal state, mirroring og.StateMachine's terminal-state guard.
func (s *OpportunityStore) Transition(id string, next OppState) (*Opportunity, error) {
	o, ok := s.opps[id]
	if !ok {
		return nil, ErrUnknownOpportunity
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	o.State = next
	return o, nil
}

// Close removes a terminal opportunity from the store so an agent's
// working set doesn't grow unbounded across the run.
func (s *OpportunityStore) Close(id string) {
	delete(s.opps, id)
}
