package model

// NumberStatus is the sellable state of a raffle number.
type NumberStatus string

const (
	NumberAvailable NumberStatus = "available"
	NumberReserved  NumberStatus = "reserved"
	NumberSold      NumberStatus = "sold"
)

// Number is one purchasable slot of a raffle.  There is one row per
// number value for every published raffle.
//
// Fields:
//  RaffleID      – raffle the number belongs to.
//  Value         – the number itself, unique within the raffle.
//  Status        – available, reserved or sold.
//  ReservationID – holding reservation; set only while reserved.
//  OwnerUserID   – holder or buyer; set while reserved or sold.
type Number struct {
	RaffleID      uint64       // raffle_numbers.raffle_id
	Value         int          // raffle_numbers.number_value
	Status        NumberStatus // raffle_numbers.status
	ReservationID *string      // raffle_numbers.reservation_id (nullable)
	OwnerUserID   *uint64      // raffle_numbers.owner_user_id (nullable)
}

// NumberSummary holds the per-status counts of a raffle.  Available +
// Reserved + Sold always equals Total.
type NumberSummary struct {
	RaffleID  uint64 `json:"raffle_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Sold      int    `json:"sold"`
}
