package points

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	TypeEarn   EntryType = "EARN"
	TypeRedeem EntryType = "REDEEM"
)

// ErrAlreadyRecorded reports that the order already has its EARN entry.
var ErrAlreadyRecorded = errors.New("points: order already accrued")

// Entry is one append-only ledger row. Points is signed: EARN positive, REDEEM negative.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"userId"`
	OrderID   *uuid.UUID `json:"orderId,omitempty"`
	RewardID  *uuid.UUID `json:"rewardId,omitempty"`
	Points    int        `json:"points"`
	Type      EntryType  `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Totals aggregates a user's ledger.
type Totals struct {
	Earned   int64 `json:"earned"`
	Redeemed int64 `json:"redeemed"`
	Entries  int   `json:"entries"`
}

func (t Totals) Balance() int64 { return t.Earned + t.Redeemed }

type Summary struct {
	UserID            uuid.UUID `json:"userId"`
	Balance           int64     `json:"balance"`
	Earned            int64     `json:"earned"`
	Redeemed          int64     `json:"redeemed"`
	Entries           int       `json:"entries"`
	MaterializedTotal int64     `json:"materializedTotal"`
	Consistent        bool      `json:"consistent"`
}
