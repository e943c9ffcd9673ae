package auction_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"

	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/config"
	"github.com/jensholdgaard/live-auction/internal/store"
	"github.com/jensholdgaard/live-auction/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// team is a capability that may bid for exactly one team.
type team string

func (c team) CanBidFor(teamID string) bool { return string(c) == teamID }

type fixture struct {
	store    *memory.Store
	reg      *auction.Registry
	arbiter  *auction.Arbiter
	status   *auction.StatusController
	notifier *auction.Notifier
	cfg      config.BiddingConfig
}

func newFixture(t *testing.T, mutate func(*config.BiddingConfig)) *fixture {
	t.Helper()
	st := memory.New(clock.NewStepping(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), time.Millisecond))
	return newFixtureOn(t, st, mutate)
}

func newFixtureOn(t *testing.T, st *memory.Store, mutate func(*config.BiddingConfig)) *fixture {
	t.Helper()
	return newFixtureWith(t, st, st.Repositories(), mutate)
}

// newFixtureWith builds a fixture on repos, which may wrap st's repositories.
func newFixtureWith(t *testing.T, st *memory.Store, repos *store.Repositories, mutate func(*config.BiddingConfig)) *fixture {
	t.Helper()
	cfg := config.Defaults().Bidding
	if mutate != nil {
		mutate(&cfg)
	}
	tp := noop.NewTracerProvider()
	mp := metricnoop.NewMeterProvider()
	logger := slog.Default()
	clk := clock.NewStepping(time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC), time.Millisecond)

	reg := auction.NewRegistry(repos, cfg.WriteTimeout, logger, tp, clk)
	arb, err := auction.NewArbiter(reg, cfg, logger, tp, mp)
	if err != nil {
		t.Fatalf("NewArbiter: %v", err)
	}
	ctl, err := auction.NewStatusController(reg, logger, tp, mp)
	if err != nil {
		t.Fatalf("NewStatusController: %v", err)
	}
	return &fixture{
		store:    st,
		reg:      reg,
		arbiter:  arb,
		status:   ctl,
		notifier: auction.NewNotifier(reg, logger),
		cfg:      cfg,
	}
}

// player creates an auction with one NOT_STARTED player at base.
func (f *fixture) player(t *testing.T, base string) auction.Player {
	t.Helper()
	ctx := context.Background()
	a, err := f.reg.CreateAuction(ctx, "IPL "+t.Name())
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	p, err := f.reg.AddPlayer(ctx, a.ID, "Kohli", auction.CategoryBatter, d(base))
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	return p
}

// livePlayer creates a player at base and starts it.
func (f *fixture) livePlayer(t *testing.T, base string) auction.Player {
	t.Helper()
	p := f.player(t, base)
	p, err := f.status.Start(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func (f *fixture) bid(playerID, teamID, amount string) (auction.Bid, error) {
	return f.arbiter.PlaceBid(context.Background(), auction.BidRequest{
		PlayerID:   playerID,
		TeamID:     teamID,
		Amount:     d(amount),
		Capability: team(teamID),
	})
}

// lostReply wraps a player repository whose writes time out once armed.
// With commit set the write lands before the timeout is reported, like a
// commit whose reply never arrived.
type lostReply struct {
	store.AuctionPlayerRepository
	commit bool
	armed  atomic.Bool
}

func (r *lostReply) ApplyBid(ctx context.Context, expected decimal.Decimal, b *store.Bid) error {
	if r.armed.Load() && !r.commit {
		return fmt.Errorf("committing: %w", context.DeadlineExceeded)
	}
	if err := r.AuctionPlayerRepository.ApplyBid(ctx, expected, b); err != nil {
		return err
	}
	if r.armed.Load() {
		return fmt.Errorf("committing: %w", context.DeadlineExceeded)
	}
	return nil
}

func (r *lostReply) UpdateStatus(ctx context.Context, id, from, to string) error {
	if r.armed.Load() && !r.commit {
		return fmt.Errorf("updating status: %w", context.DeadlineExceeded)
	}
	if err := r.AuctionPlayerRepository.UpdateStatus(ctx, id, from, to); err != nil {
		return err
	}
	if r.armed.Load() {
		return fmt.Errorf("updating status: %w", context.DeadlineExceeded)
	}
	return nil
}

// newLostReplyFixture returns a fixture whose player writes go through a
// lostReply wrapper.
func newLostReplyFixture(t *testing.T, commit bool) (*fixture, *lostReply) {
	t.Helper()
	st := memory.New(clock.NewStepping(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), time.Millisecond))
	repos := st.Repositories()
	wrapped := &lostReply{AuctionPlayerRepository: repos.Players, commit: commit}
	repos.Players = wrapped
	return newFixtureWith(t, st, repos, nil), wrapped
}
