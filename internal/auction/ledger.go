package auction

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/clock"
)

// Ledger is the append-only bid history of every player. Appends happen
// only inside a registry commit; reads never block.
type Ledger struct {
	reg   *Registry
	clock clock.Clock
}

// ListFor returns the accepted bids of a player in acceptance order.
func (l *Ledger) ListFor(_ context.Context, playerID string) ([]Bid, error) {
	e, err := l.reg.entry(playerID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.snap.Load().Bids), nil
}

// append returns bids extended by a new bid with an assigned ID, acceptance
// time and sequence number. The input slice is never written.
func (l *Ledger) append(bids []Bid, playerID, teamID string, amount decimal.Decimal) []Bid {
	b := Bid{
		ID:              uuid.NewString(),
		AuctionPlayerID: playerID,
		TeamID:          teamID,
		Amount:          amount,
		Seq:             int64(len(bids)) + 1,
		AcceptedAt:      l.clock.Now().UTC(),
	}
	return append(bids[:len(bids):len(bids)], b)
}
