package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/store"
)

// AccountRepo implements store.AccountRepository with sqlx.
type AccountRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAccountRepo returns a new AccountRepo.
func NewAccountRepo(db *sqlx.DB, clk clock.Clock) *AccountRepo {
	return &AccountRepo{db: db, clock: clk}
}

func (r *AccountRepo) Create(ctx context.Context, a *store.Account) error {
	a.CreatedAt = r.clock.Now().UTC()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (username, email, password_hash, role, team_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.Username, a.Email, a.PasswordHash, a.Role, a.TeamID, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("creating account: %w", translate(err))
	}
	return nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	if err := r.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("getting account by id: %w", translate(err))
	}
	return &a, nil
}

func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*store.Account, error) {
	var a store.Account
	if err := r.db.GetContext(ctx, &a, `SELECT * FROM accounts WHERE username = $1`, username); err != nil {
		return nil, fmt.Errorf("getting account by username: %w", translate(err))
	}
	return &a, nil
}

func (r *AccountRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username)
	if err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return exists, nil
}

func (r *AccountRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email)
	if err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return exists, nil
}
