package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/store"
)

const playerColumns = `id, auction_id, name, category, status, base_price, current_price, leading_team_id, version, created_at`

// AuctionPlayerRepo implements store.AuctionPlayerRepository with sqlx.
type AuctionPlayerRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionPlayerRepo returns a new AuctionPlayerRepo.
func NewAuctionPlayerRepo(db *sqlx.DB, clk clock.Clock) *AuctionPlayerRepo {
	return &AuctionPlayerRepo{db: db, clock: clk}
}

func (r *AuctionPlayerRepo) Create(ctx context.Context, p *store.AuctionPlayer) error {
	p.CreatedAt = r.clock.Now().UTC()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO auction_players (auction_id, name, category, status, base_price, current_price, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.AuctionID, p.Name, p.Category, p.Status, p.BasePrice, p.CurrentPrice, p.Version, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("creating auction player: %w", translate(err))
	}
	return nil
}

func (r *AuctionPlayerRepo) GetByID(ctx context.Context, id string) (*store.AuctionPlayer, error) {
	var p store.AuctionPlayer
	err := r.db.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM auction_players WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting auction player: %w", translate(err))
	}
	return &p, nil
}

func (r *AuctionPlayerRepo) List(ctx context.Context) ([]store.AuctionPlayer, error) {
	var players []store.AuctionPlayer
	err := r.db.SelectContext(ctx, &players,
		`SELECT `+playerColumns+` FROM auction_players ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing auction players: %w", err)
	}
	return players, nil
}

func (r *AuctionPlayerRepo) ApplyBid(ctx context.Context, expected decimal.Decimal, b *store.Bid) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE auction_players
		 SET current_price = $1, leading_team_id = $2, version = version + 1
		 WHERE id = $3 AND status = 'LIVE' AND current_price = $4`,
		b.Amount, b.TeamID, b.AuctionPlayerID, expected,
	)
	if err != nil {
		return fmt.Errorf("updating auction player price: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction player %s not live at price %s: %w", b.AuctionPlayerID, expected, store.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_player_id, team_id, amount, seq, accepted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.AuctionPlayerID, b.TeamID, b.Amount, b.Seq, b.AcceptedAt,
	); err != nil {
		if errors.Is(translate(err), store.ErrDuplicate) {
			return fmt.Errorf("inserting bid seq %d: %w", b.Seq, store.ErrConflict)
		}
		return fmt.Errorf("inserting bid: %w", err)
	}

	return tx.Commit()
}

func (r *AuctionPlayerRepo) UpdateStatus(ctx context.Context, id, from, to string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auction_players SET status = $1, version = version + 1 WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("updating auction player status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction player %s not in status %s: %w", id, from, store.ErrConflict)
	}
	return nil
}

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db *sqlx.DB
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB) *BidRepo {
	return &BidRepo{db: db}
}

func (r *BidRepo) ListFor(ctx context.Context, auctionPlayerID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT id, auction_player_id, team_id, amount, seq, accepted_at
		 FROM bids WHERE auction_player_id = $1 ORDER BY seq ASC`, auctionPlayerID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}
