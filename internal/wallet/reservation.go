package wallet

import (
	"fmt"
	"time"
)

// Status is a reservation lifecycle state.
type Status string

const (
	// StatusActive is the initial state set by Reserve.
	StatusActive Status = "ACTIVE"
	// StatusReleased is terminal: funds went back to available.
	StatusReleased Status = "RELEASED"
	// StatusSettled is terminal: funds left the wallet.
	StatusSettled Status = "SETTLED"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusSettled
}

// transition moves an ACTIVE reservation to a terminal state. The amount
// never changes.
func (r Reservation) transition(to Status, now time.Time) (Reservation, error) {
	if r.Status != StatusActive {
		return r, errNotActive(r)
	}
	if !to.Terminal() {
		return r, fmt.Errorf("invalid reservation transition %s -> %s", r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return r, nil
}

func errNotActive(r Reservation) error {
	return ErrReservationNotActive.
		WithMessage(fmt.Sprintf("Reservation is not ACTIVE (current: %s)", r.Status)).
		With("reservation_id", r.ID).
		With("current_status", string(r.Status)).
		With("required_status", string(StatusActive))
}
