// Package session holds one customer's in-progress conversation: a closed
// state enum plus the payload fields valid for that state. Stores are
// TTL-aware; an expired session is indistinguishable from no session.
package session

import (
	"context"
	"fmt"
	"time"

	"prenotabot/internal/models"
)

// State tags where a conversation stands.
type State string

const (
	StateIdle        State = "idle"
	StateNeedService State = "need_service"
	StateNeedWhen    State = "need_when"
	StateNeedDate    State = "need_date"
	StateNeedTime    State = "need_time"
	StateChoose      State = "choose"
	StateConfirm     State = "confirm"
)

// Payload carries the fields collected across turns. Parsed fields are merged
// in, never discarded, until the session is cleared.
type Payload struct {
	ServiceName string             `json:"service_name,omitempty"`
	Date        *time.Time         `json:"date,omitempty"`
	Time        *models.TimeOfDay  `json:"time,omitempty"`
	After       *models.TimeOfDay  `json:"after,omitempty"`
	Before      *models.TimeOfDay  `json:"before,omitempty"`
	PreferredOp string             `json:"preferred_op,omitempty"`
	ExcludedOps []string           `json:"excluded_ops,omitempty"`
	Offers      []models.Candidate `json:"offers,omitempty"`
	Chosen      *models.Candidate  `json:"chosen,omitempty"`
}

// Session is the unit stored per (shop, phone).
type Session struct {
	ShopID    string    `json:"shop_id"`
	Phone     string    `json:"phone"`
	State     State     `json:"state"`
	Payload   Payload   `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an idle session for the key.
func New(shopID, phone string) *Session {
	return &Session{ShopID: shopID, Phone: phone, State: StateIdle, UpdatedAt: time.Now()}
}

// transitions lists the legal next states per state.
var transitions = map[State][]State{
	StateIdle:        {StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime, StateChoose, StateConfirm},
	StateNeedService: {StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime, StateChoose, StateConfirm, StateIdle},
	StateNeedWhen:    {StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime, StateChoose, StateConfirm, StateIdle},
	StateNeedDate:    {StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime, StateChoose, StateConfirm, StateIdle},
	StateNeedTime:    {StateNeedService, StateNeedWhen, StateNeedTime, StateChoose, StateConfirm, StateIdle},
	StateChoose:      {StateChoose, StateConfirm, StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime, StateIdle},
	StateConfirm:     {StateChoose, StateConfirm, StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime, StateIdle},
}

// CanTransition checks the transitions table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the session to a new state after checking the table and
// the payload invariants, stamping UpdatedAt. State and payload change
// together or not at all.
func (s *Session) Transition(to State, payload Payload) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.State, to)
	}
	next := Session{ShopID: s.ShopID, Phone: s.Phone, State: to, Payload: payload}
	if err := next.Validate(); err != nil {
		return err
	}
	s.State = to
	s.Payload = payload
	s.UpdatedAt = time.Now()
	return nil
}

// Validate enforces the state/payload invariant: a state never lacks the
// fields it promises.
func (s *Session) Validate() error {
	switch s.State {
	case StateChoose:
		if len(s.Payload.Offers) == 0 {
			return fmt.Errorf("state %s with empty offer list", s.State)
		}
	case StateConfirm:
		if s.Payload.Chosen == nil {
			return fmt.Errorf("state %s without a chosen candidate", s.State)
		}
	case StateIdle, StateNeedService, StateNeedWhen, StateNeedDate, StateNeedTime:
	default:
		return fmt.Errorf("unknown state %q", s.State)
	}
	return nil
}

// Expired reports whether the session outlived the TTL.
func (s *Session) Expired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(s.UpdatedAt) > ttl
}

// Store persists sessions per (shop, phone). Get returns (nil, nil) for a
// missing or expired session.
type Store interface {
	Get(ctx context.Context, shopID, phone string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Clear(ctx context.Context, shopID, phone string) error
}

func storeKey(shopID, phone string) string {
	return fmt.Sprintf("session:%s:%s", shopID, phone)
}
