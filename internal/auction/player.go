package auction

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/store"
)

// Status is the lifecycle state of an auction player.
type Status string

// Player statuses. Transitions only move forward.
const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusLive       Status = "LIVE"
	StatusSold       Status = "SOLD"
)

// Category is the playing role of an auction player.
type Category string

const (
	CategoryBatter       Category = "BAT"
	CategoryBowler       Category = "BOWL"
	CategoryAllRounder   Category = "AR"
	CategoryWicketKeeper Category = "WKB"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBatter, CategoryBowler, CategoryAllRounder, CategoryWicketKeeper:
		return true
	}
	return false
}

// Auction groups the players offered in one auction event.
type Auction struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Player is the auction state of one player at a committed version.
type Player struct {
	ID            string
	AuctionID     string
	Name          string
	Category      Category
	Status        Status
	BasePrice     decimal.Decimal
	CurrentPrice  decimal.Decimal
	LeadingTeamID string // empty until the first accepted bid
	Version       int64
	CreatedAt     time.Time
}

// Bid is an accepted bid. Seq is its 1-based position in the player's ledger.
type Bid struct {
	ID              string
	AuctionPlayerID string
	TeamID          string
	Amount          decimal.Decimal
	Seq             int64
	AcceptedAt      time.Time
}

// Snapshot is a player together with its ledger as of one commit.
// Published snapshots are never modified.
type Snapshot struct {
	Player  Player
	Bids    []Bid
	Version int64
}

// clone returns a copy whose Bids the caller may modify.
func (s *Snapshot) clone() Snapshot {
	return Snapshot{Player: s.Player, Bids: slices.Clone(s.Bids), Version: s.Version}
}

func playerFromRecord(r store.AuctionPlayer) Player {
	p := Player{
		ID:           r.ID,
		AuctionID:    r.AuctionID,
		Name:         r.Name,
		Category:     Category(r.Category),
		Status:       Status(r.Status),
		BasePrice:    r.BasePrice,
		CurrentPrice: r.CurrentPrice,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
	}
	if r.LeadingTeamID != nil {
		p.LeadingTeamID = *r.LeadingTeamID
	}
	return p
}

func bidFromRecord(r store.Bid) Bid {
	return Bid{
		ID:              r.ID,
		AuctionPlayerID: r.AuctionPlayerID,
		TeamID:          r.TeamID,
		Amount:          r.Amount,
		Seq:             r.Seq,
		AcceptedAt:      r.AcceptedAt,
	}
}

func (b Bid) record() *store.Bid {
	return &store.Bid{
		ID:              b.ID,
		AuctionPlayerID: b.AuctionPlayerID,
		TeamID:          b.TeamID,
		Amount:          b.Amount,
		Seq:             b.Seq,
		AcceptedAt:      b.AcceptedAt,
	}
}
