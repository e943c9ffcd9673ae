package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/store"
)

const tracerName = "github.com/jensholdgaard/live-auction/internal/auction"

// entry is the authoritative state of one player. The sem slot serializes
// commits and status transitions for that player; snap is read lock-free.
type entry struct {
	id   string
	sem  chan struct{}
	snap atomic.Pointer[Snapshot]

	// stale is set when a store write failed with an unknown outcome.
	// Guarded by sem.
	stale bool
}

func newEntry(s *Snapshot) *entry {
	e := &entry{id: s.Player.ID, sem: make(chan struct{}, 1)}
	e.snap.Store(s)
	return e
}

func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) release() { <-e.sem }

type auctionEntry struct {
	Auction
	players []string // creation order

	// startMu serializes Start within one auction.
	startMu sync.Mutex
}

// Registry owns the auction state of every player. It is safe for
// concurrent use; writers of different players never wait on each other.
type Registry struct {
	// mu guards the two maps, never a player's state.
	mu       sync.RWMutex
	entries  map[string]*entry
	auctions map[string]*auctionEntry
	order    []string // auction IDs in creation order

	observers []func(*Snapshot)

	ledger       *Ledger
	auctionRepo  store.AuctionRepository
	players      store.AuctionPlayerRepository
	bids         store.BidRepository
	writeTimeout time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
	clock        clock.Clock
}

// NewRegistry creates an empty Registry backed by repos. Call Recover to
// load existing state.
func NewRegistry(repos *store.Repositories, writeTimeout time.Duration, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		auctions:     make(map[string]*auctionEntry),
		auctionRepo:  repos.Auctions,
		players:      repos.Players,
		bids:         repos.Bids,
		writeTimeout: writeTimeout,
		logger:       logger,
		tracer:       tp.Tracer(tracerName),
		clock:        clk,
	}
	r.ledger = &Ledger{reg: r, clock: clk}
	return r
}

// Ledger returns the bid ledger fed by this registry.
func (r *Registry) Ledger() *Ledger { return r.ledger }

// CreateAuction persists a new auction.
func (r *Registry) CreateAuction(ctx context.Context, name string) (Auction, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.CreateAuction",
		trace.WithAttributes(attribute.String("auction.name", name)),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return Auction{}, errors.New("auction name must not be empty")
	}
	rec := &store.Auction{Name: name}
	if err := r.auctionRepo.Create(ctx, rec); err != nil {
		return Auction{}, fmt.Errorf("creating auction: %w", err)
	}
	a := Auction{ID: rec.ID, Name: rec.Name, CreatedAt: rec.CreatedAt}

	r.mu.Lock()
	r.auctions[a.ID] = &auctionEntry{Auction: a}
	r.order = append(r.order, a.ID)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("name", a.Name),
	)
	return a, nil
}

// Auctions lists every auction in creation order.
func (r *Registry) Auctions(_ context.Context) []Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Auction, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.auctions[id].Auction)
	}
	return out
}

// AddPlayer creates a NOT_STARTED player whose current price equals its
// base price.
func (r *Registry) AddPlayer(ctx context.Context, auctionID, name string, category Category, basePrice decimal.Decimal) (Player, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.AddPlayer",
		trace.WithAttributes(
			attribute.String("auction.id", auctionID),
			attribute.String("player.name", name),
		),
	)
	defer span.End()

	r.mu.RLock()
	_, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok {
		return Player{}, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	switch {
	case strings.TrimSpace(name) == "":
		return Player{}, fmt.Errorf("%w: name must not be empty", ErrInvalidPlayer)
	case !category.Valid():
		return Player{}, fmt.Errorf("%w: unknown category %q", ErrInvalidPlayer, category)
	case !validAmount(basePrice):
		return Player{}, fmt.Errorf("%w: base price %s", ErrInvalidPlayer, basePrice)
	}

	rec := &store.AuctionPlayer{
		AuctionID:    auctionID,
		Name:         strings.TrimSpace(name),
		Category:     string(category),
		Status:       string(StatusNotStarted),
		BasePrice:    basePrice,
		CurrentPrice: basePrice,
	}
	if err := r.players.Create(ctx, rec); err != nil {
		return Player{}, fmt.Errorf("creating auction player: %w", err)
	}
	snap := &Snapshot{Player: playerFromRecord(*rec), Version: rec.Version}

	r.mu.Lock()
	r.entries[rec.ID] = newEntry(snap)
	a := r.auctions[auctionID]
	a.players = append(a.players, rec.ID)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "auction player added",
		slog.String("auction_id", auctionID),
		slog.String("player_id", rec.ID),
		slog.String("base_price", basePrice.String()),
	)
	return snap.Player, nil
}

// Get returns the latest committed state of a player.
func (r *Registry) Get(_ context.Context, playerID string) (Player, error) {
	e, err := r.entry(playerID)
	if err != nil {
		return Player{}, err
	}
	return e.snap.Load().Player, nil
}

// List returns the players of an auction in creation order.
func (r *Registry) List(_ context.Context, auctionID string) ([]Player, error) {
	r.mu.RLock()
	a, ok := r.auctions[auctionID]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	entries := make([]*entry, 0, len(a.players))
	for _, id := range a.players {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	out := make([]Player, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snap.Load().Player)
	}
	return out, nil
}

// CompareAndApply records a bid of amount for teamID if the player is LIVE
// and its current price still equals expected. It returns ErrConflict when
// the price moved and ErrNotLive when the player left LIVE. A context error
// means nothing was applied; a failed store write after that point wraps
// ErrWriteFailed instead.
func (r *Registry) CompareAndApply(ctx context.Context, playerID string, expected, amount decimal.Decimal, teamID string) (Bid, error) {
	e, err := r.entry(playerID)
	if err != nil {
		return Bid{}, err
	}
	if !amount.GreaterThan(expected) {
		return Bid{}, fmt.Errorf("amount %s over %s: %w", amount, expected, ErrPriceTooLow)
	}
	if err := e.acquire(ctx); err != nil {
		return Bid{}, err
	}
	defer e.release()

	if err := r.refresh(ctx, e); err != nil {
		return Bid{}, err
	}
	cur := e.snap.Load()
	if cur.Player.Status != StatusLive {
		return Bid{}, fmt.Errorf("player %s is %s: %w", playerID, cur.Player.Status, ErrNotLive)
	}
	if !cur.Player.CurrentPrice.Equal(expected) {
		return Bid{}, fmt.Errorf("player %s at %s, expected %s: %w", playerID, cur.Player.CurrentPrice, expected, ErrConflict)
	}
	// Past this check the bid is committed and reported as accepted.
	if err := ctx.Err(); err != nil {
		return Bid{}, err
	}

	bids := r.ledger.append(cur.Bids, playerID, teamID, amount)
	bid := bids[len(bids)-1]

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	err = r.players.ApplyBid(wctx, expected, bid.record())
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.stale = true
			return Bid{}, fmt.Errorf("store rejected bid on %s: %w", playerID, errors.Join(ErrConflict, err))
		}
		// The write may have committed. Report what the store holds.
		if s := r.settle(ctx, e); s != nil {
			if i := slices.IndexFunc(s.Bids, func(b Bid) bool { return b.ID == bid.ID }); i >= 0 {
				r.logger.WarnContext(ctx, "bid committed despite store write error",
					slog.String("player_id", playerID),
					slog.String("bid_id", bid.ID),
					slog.Any("error", err),
				)
				return s.Bids[i], nil
			}
		}
		return Bid{}, fmt.Errorf("persisting bid on %s: %w", playerID, errors.Join(ErrWriteFailed, detach(err)))
	}

	next := &Snapshot{Player: cur.Player, Bids: bids, Version: cur.Version + 1}
	next.Player.CurrentPrice = amount
	next.Player.LeadingTeamID = teamID
	next.Player.Version = next.Version
	r.publish(e, next)
	return bid, nil
}

// transition moves a player from one status to another under its commit
// slot, so it never interleaves with a bid on the same player.
func (r *Registry) transition(ctx context.Context, playerID string, from, to Status) (Player, error) {
	e, err := r.entry(playerID)
	if err != nil {
		return Player{}, err
	}
	if err := e.acquire(ctx); err != nil {
		return Player{}, err
	}
	defer e.release()

	if err := r.refresh(ctx, e); err != nil {
		return Player{}, err
	}
	cur := e.snap.Load()
	if cur.Player.Status != from {
		return cur.Player, fmt.Errorf("player %s is %s, not %s: %w", playerID, cur.Player.Status, from, ErrInvalidTransition)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	err = r.players.UpdateStatus(wctx, playerID, string(from), string(to))
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.stale = true
		} else if s := r.settle(ctx, e); s != nil && s.Player.Status == to {
			return s.Player, nil
		}
		return cur.Player, fmt.Errorf("persisting status of %s: %w", playerID, errors.Join(ErrWriteFailed, detach(err)))
	}

	next := &Snapshot{Player: cur.Player, Bids: cur.Bids, Version: cur.Version + 1}
	next.Player.Status = to
	next.Player.Version = next.Version
	r.publish(e, next)
	return next.Player, nil
}

// refresh reloads a stale entry from the store. Callers hold the slot.
func (r *Registry) refresh(ctx context.Context, e *entry) error {
	if !e.stale {
		return nil
	}
	snap, err := r.load(ctx, e.id)
	if err != nil {
		return fmt.Errorf("reloading player %s: %w", e.id, err)
	}
	e.stale = false
	if snap.Version != e.snap.Load().Version {
		r.publish(e, snap)
	}
	r.logger.WarnContext(ctx, "auction player reloaded from store",
		slog.String("player_id", e.id),
		slog.Int64("version", snap.Version),
	)
	return nil
}

// settle re-reads a player after a store write failed with an unknown
// outcome and publishes what the store holds. It returns nil, leaving the
// entry stale, when the store cannot be read either. Callers hold the slot.
func (r *Registry) settle(ctx context.Context, e *entry) *Snapshot {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()
	snap, err := r.load(rctx, e.id)
	if err != nil {
		e.stale = true
		r.logger.ErrorContext(ctx, "auction player unreadable after failed write",
			slog.String("player_id", e.id),
			slog.Any("error", err),
		)
		return nil
	}
	e.stale = false
	if snap.Version != e.snap.Load().Version {
		r.publish(e, snap)
	}
	return snap
}

// detach keeps a store error's message but drops a context error from its
// chain, so callers do not mistake a write past the commit point for a
// caller timeout.
func detach(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.New(err.Error())
	}
	return err
}

func (r *Registry) load(ctx context.Context, playerID string) (*Snapshot, error) {
	rec, err := r.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	recs, err := r.bids.ListFor(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return snapshotFromRecords(*rec, recs), nil
}

func snapshotFromRecords(p store.AuctionPlayer, recs []store.Bid) *Snapshot {
	bids := make([]Bid, 0, len(recs))
	for _, b := range recs {
		bids = append(bids, bidFromRecord(b))
	}
	return &Snapshot{Player: playerFromRecord(p), Bids: bids[:len(bids):len(bids)], Version: p.Version}
}

// publish makes s the visible state of e and hands it to observers.
// Callers hold the slot, so observers see one player's snapshots in order.
func (r *Registry) publish(e *entry, s *Snapshot) {
	e.snap.Store(s)
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(s)
	}
}

func (r *Registry) addObserver(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers[:len(r.observers):len(r.observers)], fn)
}

func (r *Registry) entry(playerID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[playerID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auction player %s: %w", playerID, ErrNotFound)
	}
	return e, nil
}

func (r *Registry) auction(auctionID string) (*auctionEntry, error) {
	r.mu.RLock()
	a, ok := r.auctions[auctionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	return a, nil
}

// Recover replaces the in-memory state with everything in the store. It is
// called when this process becomes the bid authority.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Registry.Recover")
	defer span.End()

	auctions, err := r.auctionRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading auctions: %w", err)
	}
	players, err := r.players.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading auction players: %w", err)
	}

	byID := make(map[string]*auctionEntry, len(auctions))
	order := make([]string, 0, len(auctions))
	for _, a := range auctions {
		byID[a.ID] = &auctionEntry{Auction: Auction{ID: a.ID, Name: a.Name, CreatedAt: a.CreatedAt}}
		order = append(order, a.ID)
	}

	entries := make(map[string]*entry, len(players))
	live := 0
	for _, p := range players {
		a, ok := byID[p.AuctionID]
		if !ok {
			r.logger.WarnContext(ctx, "skipping auction player of unknown auction",
				slog.String("player_id", p.ID),
				slog.String("auction_id", p.AuctionID),
			)
			continue
		}
		recs, err := r.bids.ListFor(ctx, p.ID)
		if err != nil {
			return 0, fmt.Errorf("loading bids of %s: %w", p.ID, err)
		}
		entries[p.ID] = newEntry(snapshotFromRecords(p, recs))
		a.players = append(a.players, p.ID)
		if Status(p.Status) == StatusLive {
			live++
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.auctions = byID
	r.order = order
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "auction state recovered",
		slog.Int("auctions", len(order)),
		slog.Int("players", len(entries)),
		slog.Int("live", live),
	)
	return len(entries), nil
}
