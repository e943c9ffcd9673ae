package auction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rejection reasons. Every rejection returned by the arbiter or the status
// controller wraps exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrNotLive           = errors.New("player is not live")
	ErrPriceTooLow       = errors.New("bid amount too low")
	ErrContended         = errors.New("bid lost to concurrent bids")
	ErrUnauthorized      = errors.New("not authorized to bid for team")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTimeout           = errors.New("no outcome before deadline")
	ErrInvalidAmount     = errors.New("amount must have at most two decimal places and stay below 10000000000")
	ErrInvalidPlayer     = errors.New("invalid auction player")

	// ErrAnotherPlayerLive is an InvalidTransition raised when a second
	// player of the same auction would go live.
	ErrAnotherPlayerLive = fmt.Errorf("%w: another player of the auction is live", ErrInvalidTransition)
)

// ErrConflict is returned by Registry.CompareAndApply when the current price
// no longer equals the expected one.
var ErrConflict = errors.New("current price changed")

// ErrWriteFailed marks an infrastructure failure of the store write after a
// commit was decided. The change is not applied in memory; callers should
// re-read the player before retrying.
var ErrWriteFailed = errors.New("store write failed")

// Rejection is an expected, recoverable outcome of a bid or status change.
// It carries the state observed when the decision was made.
type Rejection struct {
	Reason       error
	PlayerID     string
	Status       Status
	CurrentPrice decimal.Decimal
	// MinimumNext is the lowest amount that would have passed the price check.
	MinimumNext decimal.Decimal
	Attempts    int
}

func (r *Rejection) Error() string {
	var b strings.Builder
	b.WriteString(r.Reason.Error())
	if r.PlayerID != "" {
		fmt.Fprintf(&b, " (player %s", r.PlayerID)
		if r.Status != "" {
			fmt.Fprintf(&b, ", status %s, current price %s", r.Status, r.CurrentPrice)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (r *Rejection) Unwrap() error { return r.Reason }

// IsRejection reports whether err is a typed rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

func reject(reason error, p *Player) *Rejection {
	r := &Rejection{Reason: reason}
	if p != nil {
		r.PlayerID = p.ID
		r.Status = p.Status
		r.CurrentPrice = p.CurrentPrice
	}
	return r
}
