package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors returned by repositories.
var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record changed concurrently")
	ErrDuplicate = errors.New("record already exists")
)

// Auction groups the players offered in one auction event.
type Auction struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// AuctionPlayer is the persisted auction state of one player.
type AuctionPlayer struct {
	ID            string          `db:"id"`
	AuctionID     string          `db:"auction_id"`
	Name          string          `db:"name"`
	Category      string          `db:"category"`
	Status        string          `db:"status"` // "NOT_STARTED", "LIVE", "SOLD"
	BasePrice     decimal.Decimal `db:"base_price"`
	CurrentPrice  decimal.Decimal `db:"current_price"`
	LeadingTeamID *string         `db:"leading_team_id"`
	Version       int64           `db:"version"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Bid is an accepted bid. Rows are never updated or deleted.
type Bid struct {
	ID              string          `db:"id"`
	AuctionPlayerID string          `db:"auction_player_id"`
	TeamID          string          `db:"team_id"`
	Amount          decimal.Decimal `db:"amount"`
	Seq             int64           `db:"seq"`
	AcceptedAt      time.Time       `db:"accepted_at"`
}

// Team is a bidding franchise.
type Team struct {
	ID           string          `db:"id"`
	Name         string          `db:"name"`
	Purse        decimal.Decimal `db:"purse"`
	MaxSquadSize int             `db:"max_squad_size"`
	CreatedAt    time.Time       `db:"created_at"`
}

// Account is a login identity. TeamID is set for team-scoped roles.
type Account struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	TeamID       *string   `db:"team_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	List(ctx context.Context) ([]Auction, error)
}

// AuctionPlayerRepository defines auction player persistence operations.
type AuctionPlayerRepository interface {
	Create(ctx context.Context, p *AuctionPlayer) error
	GetByID(ctx context.Context, id string) (*AuctionPlayer, error)
	// List returns every auction player in creation order.
	List(ctx context.Context) ([]AuctionPlayer, error)
	// ApplyBid sets the player's price and leading team from b and appends b
	// in one transaction. It returns ErrConflict unless the stored player is
	// LIVE with a current price equal to expected.
	ApplyBid(ctx context.Context, expected decimal.Decimal, b *Bid) error
	// UpdateStatus returns ErrConflict unless the stored status equals from.
	UpdateStatus(ctx context.Context, id, from, to string) error
}

// BidRepository reads the bid ledger.
type BidRepository interface {
	// ListFor returns the bids of one player ordered by Seq ascending.
	ListFor(ctx context.Context, auctionPlayerID string) ([]Bid, error)
}

// TeamRepository defines team persistence operations.
type TeamRepository interface {
	Create(ctx context.Context, t *Team) error
	GetByID(ctx context.Context, id string) (*Team, error)
	List(ctx context.Context) ([]Team, error)
}

// AccountRepository defines account persistence operations.
type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}
