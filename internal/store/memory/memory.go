// Package memory provides a volatile store.Driver for development and tests.
// All repositories of one Store share a single mutex, so ApplyBid is atomic
// in the same way the Postgres transaction is.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/config"
	"github.com/jensholdgaard/live-auction/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return New(clk).Repositories(), nil
}

// Store holds every table in memory.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	auctions     []store.Auction
	players      []store.AuctionPlayer
	bids         map[string][]store.Bid
	teams        []store.Team
	accounts     []store.Account
	failApplyBid error
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{clock: clk, bids: make(map[string][]store.Bid)}
}

// Repositories exposes the Store through the store interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Auctions: (*auctionRepo)(s),
		Players:  (*playerRepo)(s),
		Bids:     (*bidRepo)(s),
		Teams:    (*teamRepo)(s),
		Accounts: (*accountRepo)(s),
		Closer:   closerFunc(func() error { return nil }),
		Ping:     func(context.Context) error { return nil },
	}
}

// FailApplyBid makes every subsequent ApplyBid return err until called with nil.
func (s *Store) FailApplyBid(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failApplyBid = err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// --- auctions ---

type auctionRepo Store

func (r *auctionRepo) Create(_ context.Context, a *store.Auction) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.NewString()
	a.CreatedAt = s.clock.Now().UTC()
	s.auctions = append(s.auctions, *a)
	return nil
}

func (r *auctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auctions {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("getting auction %s: %w", id, store.ErrNotFound)
}

func (r *auctionRepo) List(_ context.Context) ([]store.Auction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.auctions), nil
}

// --- auction players ---

type playerRepo Store

func (r *playerRepo) Create(_ context.Context, p *store.AuctionPlayer) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.clock.Now().UTC()
	s.players = append(s.players, *p)
	return nil
}

func (r *playerRepo) GetByID(_ context.Context, id string) (*store.AuctionPlayer, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.playerIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("getting auction player %s: %w", id, store.ErrNotFound)
	}
	p := s.players[i]
	return &p, nil
}

func (r *playerRepo) List(_ context.Context) ([]store.AuctionPlayer, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.players), nil
}

func (r *playerRepo) ApplyBid(_ context.Context, expected decimal.Decimal, b *store.Bid) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failApplyBid != nil {
		return s.failApplyBid
	}
	i := s.playerIndex(b.AuctionPlayerID)
	if i < 0 {
		return fmt.Errorf("applying bid: %w", store.ErrNotFound)
	}
	p := &s.players[i]
	if p.Status != "LIVE" || !p.CurrentPrice.Equal(expected) {
		return fmt.Errorf("applying bid to %s: %w", p.ID, store.ErrConflict)
	}
	team := b.TeamID
	p.CurrentPrice = b.Amount
	p.LeadingTeamID = &team
	p.Version++
	s.bids[p.ID] = append(s.bids[p.ID], *b)
	return nil
}

func (r *playerRepo) UpdateStatus(_ context.Context, id, from, to string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.playerIndex(id)
	if i < 0 {
		return fmt.Errorf("updating status: %w", store.ErrNotFound)
	}
	if s.players[i].Status != from {
		return fmt.Errorf("updating status of %s: %w", id, store.ErrConflict)
	}
	s.players[i].Status = to
	s.players[i].Version++
	return nil
}

func (s *Store) playerIndex(id string) int {
	return slices.IndexFunc(s.players, func(p store.AuctionPlayer) bool { return p.ID == id })
}

// --- bids ---

type bidRepo Store

func (r *bidRepo) ListFor(_ context.Context, auctionPlayerID string) ([]store.Bid, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bids[auctionPlayerID]), nil
}

// --- teams ---

type teamRepo Store

func (r *teamRepo) Create(_ context.Context, t *store.Team) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.teams {
		if existing.Name == t.Name {
			return fmt.Errorf("creating team %q: %w", t.Name, store.ErrDuplicate)
		}
	}
	t.ID = uuid.NewString()
	t.CreatedAt = s.clock.Now().UTC()
	s.teams = append(s.teams, *t)
	return nil
}

func (r *teamRepo) GetByID(_ context.Context, id string) (*store.Team, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teams {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("getting team %s: %w", id, store.ErrNotFound)
}

func (r *teamRepo) List(_ context.Context) ([]store.Team, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.teams), nil
}

// --- accounts ---

type accountRepo Store

func (r *accountRepo) Create(_ context.Context, a *store.Account) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Username == a.Username || existing.Email == a.Email {
			return fmt.Errorf("creating account %q: %w", a.Username, store.ErrDuplicate)
		}
	}
	a.ID = uuid.NewString()
	a.CreatedAt = s.clock.Now().UTC()
	s.accounts = append(s.accounts, *a)
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id string) (*store.Account, error) {
	return r.find(func(a store.Account) bool { return a.ID == id })
}

func (r *accountRepo) GetByUsername(_ context.Context, username string) (*store.Account, error) {
	return r.find(func(a store.Account) bool { return a.Username == username })
}

func (r *accountRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	_, err := r.find(func(a store.Account) bool { return a.Username == username })
	return err == nil, nil
}

func (r *accountRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	_, err := r.find(func(a store.Account) bool { return a.Email == email })
	return err == nil, nil
}

func (r *accountRepo) find(match func(store.Account) bool) (*store.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.accounts, match)
	if i < 0 {
		return nil, fmt.Errorf("getting account: %w", store.ErrNotFound)
	}
	a := s.accounts[i]
	return &a, nil
}
