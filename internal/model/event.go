package model

import "time"

// Event types pushed to realtime subscribers.  A release caused by
// cancel, removal or expiry is indistinguishable on the wire.
const (
	EventNumberReserved = "number.reserved"
	EventNumberReleased = "number.released"
	EventNumberSold     = "number.sold"
)

// Event is a single number state change.  Version is the raffle commit
// version that produced it; it only grows for a given raffle.
type Event struct {
	Type        string    `json:"type"`
	RaffleID    uint64    `json:"raffle_id"`
	NumberValue int       `json:"number_value"`
	UserID      *uint64   `json:"user_id,omitempty"`
	Version     uint64    `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NumberEvents builds one event of type typ per number value.
func NumberEvents(typ string, raffleID uint64, version uint64, userID *uint64, numbers []int, at time.Time) []Event {
	out := make([]Event, 0, len(numbers))
	for _, n := range numbers {
		ev := Event{Type: typ, RaffleID: raffleID, NumberValue: n, Version: version, OccurredAt: at}
		if userID != nil && typ == EventNumberReserved {
			uid := *userID
			ev.UserID = &uid
		}
		out = append(out, ev)
	}
	return out
}
