package auction_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/config"
	"github.com/jensholdgaard/live-auction/internal/store"
)

func TestPlaceBid_Scenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.player(t, "1.0")

	if _, err := f.bid(p.ID, "csk", "1.2"); !errors.Is(err, auction.ErrNotLive) {
		t.Fatalf("bid before start error = %v, want ErrNotLive", err)
	}
	if _, err := f.status.Start(ctx, p.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := f.bid(p.ID, "csk", "1.0")
	if !errors.Is(err, auction.ErrPriceTooLow) {
		t.Fatalf("bid at current price error = %v, want ErrPriceTooLow", err)
	}
	var rej *auction.Rejection
	if !errors.As(err, &rej) || !rej.CurrentPrice.Equal(d("1.0")) {
		t.Errorf("rejection = %+v, want current price 1.0", rej)
	}

	b1, err := f.bid(p.ID, "csk", "1.2")
	if err != nil {
		t.Fatalf("bid 1.2: %v", err)
	}
	got, _ := f.reg.Get(ctx, p.ID)
	if !got.CurrentPrice.Equal(d("1.2")) || got.LeadingTeamID != "csk" {
		t.Errorf("after 1.2: price %s leader %q, want 1.2 csk", got.CurrentPrice, got.LeadingTeamID)
	}

	if _, err := f.bid(p.ID, "mi", "1.0"); !errors.Is(err, auction.ErrPriceTooLow) {
		t.Fatalf("bid 1.0 after 1.2 error = %v, want ErrPriceTooLow", err)
	}
	b2, err := f.bid(p.ID, "mi", "1.5")
	if err != nil {
		t.Fatalf("bid 1.5: %v", err)
	}

	bids, err := f.reg.Ledger().ListFor(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListFor: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("ledger has %d bids, want 2", len(bids))
	}
	if bids[0].ID != b1.ID || !bids[0].Amount.Equal(d("1.2")) || bids[1].ID != b2.ID || !bids[1].Amount.Equal(d("1.5")) {
		t.Errorf("ledger = %+v, want [1.2 1.5]", bids)
	}
	if !bids[0].AcceptedAt.Before(bids[1].AcceptedAt) || bids[0].Seq != 1 || bids[1].Seq != 2 {
		t.Errorf("ledger not in acceptance order: %+v", bids)
	}
	got, _ = f.reg.Get(ctx, p.ID)
	if got.LeadingTeamID != "mi" {
		t.Errorf("leader = %q, want mi", got.LeadingTeamID)
	}
}

func TestPlaceBid_NotLive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	notStarted := f.player(t, "2.0")
	sold := f.livePlayer(t, "2.0")
	if _, err := f.bid(sold.ID, "rcb", "2.5"); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := f.status.Finalize(ctx, sold.ID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	amounts := []string{"0.01", "1.99", "2.0", "2.01", "2.5", "3", "1000"}
	for _, p := range []auction.Player{notStarted, sold} {
		for _, amount := range amounts {
			t.Run(fmt.Sprintf("%s/%s", p.ID[:8], amount), func(t *testing.T) {
				_, err := f.bid(p.ID, "kkr", amount)
				if !errors.Is(err, auction.ErrNotLive) {
					t.Errorf("error = %v, want ErrNotLive", err)
				}
			})
		}
	}

	bids, _ := f.reg.Ledger().ListFor(ctx, sold.ID)
	if len(bids) != 1 {
		t.Errorf("sold player has %d bids, want 1", len(bids))
	}
}

func TestPlaceBid_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	p := f.livePlayer(t, "1.0")

	tests := []struct {
		name string
		req  auction.BidRequest
		want error
		// minimum is the MinimumNext the rejection must carry, if set.
		minimum string
	}{
		{
			name: "no capability",
			req:  auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("2")},
			want: auction.ErrUnauthorized,
		},
		{
			name: "capability for another team",
			req:  auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("2"), Capability: team("mi")},
			want: auction.ErrUnauthorized,
		},
		{
			name: "unknown player",
			req:  auction.BidRequest{PlayerID: "missing", TeamID: "csk", Amount: d("2"), Capability: team("csk")},
			want: auction.ErrNotFound,
		},
		{
			name: "sub-cent amount",
			req:  auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("1.234"), Capability: team("csk")},
			want: auction.ErrInvalidAmount,
		},
		{
			name: "amount beyond money range",
			req:  auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("1000000000000"), Capability: team("csk")},
			want: auction.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("-5"), Capability: team("csk")},
			want:    auction.ErrPriceTooLow,
			minimum: "1.01",
		},
		{
			name:    "zero amount",
			req:     auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("0"), Capability: team("csk")},
			want:    auction.ErrPriceTooLow,
			minimum: "1.01",
		},
		{
			name:    "sub-cent amount below price",
			req:     auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("0.001"), Capability: team("csk")},
			want:    auction.ErrPriceTooLow,
			minimum: "1.01",
		},
		{
			name:    "equal to current price",
			req:     auction.BidRequest{PlayerID: p.ID, TeamID: "csk", Amount: d("1.0"), Capability: team("csk")},
			want:    auction.ErrPriceTooLow,
			minimum: "1.01",
		},
		{
			name: "unauthorized checked before existence",
			req:  auction.BidRequest{PlayerID: "missing", TeamID: "csk", Amount: d("2"), Capability: team("mi")},
			want: auction.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.arbiter.PlaceBid(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !auction.IsRejection(err) {
				t.Errorf("IsRejection(%v) = false, want true", err)
			}
			if tt.minimum != "" {
				var rej *auction.Rejection
				if errors.As(err, &rej) && !rej.MinimumNext.Equal(d(tt.minimum)) {
					t.Errorf("MinimumNext = %s, want %s", rej.MinimumNext, tt.minimum)
				}
			}
		})
	}
}

func TestPlaceBid_TieredIncrement(t *testing.T) {
	f := newFixture(t, func(c *config.BiddingConfig) { c.IncrementPolicy = config.IncrementTiered })
	p := f.livePlayer(t, "1.0")

	_, err := f.bid(p.ID, "csk", "1.1")
	var rej *auction.Rejection
	if !errors.As(err, &rej) || !errors.Is(err, auction.ErrPriceTooLow) {
		t.Fatalf("bid 1.1 error = %v, want ErrPriceTooLow", err)
	}
	if !rej.MinimumNext.Equal(d("1.2")) {
		t.Errorf("minimum next = %s, want 1.2", rej.MinimumNext)
	}
	if _, err := f.bid(p.ID, "csk", "1.2"); err != nil {
		t.Fatalf("bid 1.2: %v", err)
	}
	if _, err := f.bid(p.ID, "mi", "5"); err != nil {
		t.Fatalf("bid 5: %v", err)
	}
	_, err = f.bid(p.ID, "csk", "5.4")
	if !errors.As(err, &rej) || !rej.MinimumNext.Equal(d("5.5")) {
		t.Fatalf("bid 5.4 error = %v, want minimum next 5.5", err)
	}
	if _, err := f.bid(p.ID, "csk", "5.5"); err != nil {
		t.Fatalf("bid 5.5: %v", err)
	}
}

func TestPlaceBid_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.livePlayer(t, "1.0")

	teams := []string{"csk", "mi", "rcb", "kkr"}
	const k = 25
	type sent struct{ team, amount string }
	var want []sent
	for i := range k {
		s := sent{team: teams[i%len(teams)], amount: fmt.Sprintf("%d.%02d", 1+i/10, (i%10)*10+5)}
		if _, err := f.bid(p.ID, s.team, s.amount); err != nil {
			t.Fatalf("bid %d (%s): %v", i, s.amount, err)
		}
		want = append(want, s)
	}

	bids, err := f.reg.Ledger().ListFor(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListFor: %v", err)
	}
	if len(bids) != k {
		t.Fatalf("ledger has %d bids, want %d", len(bids), k)
	}
	for i, b := range bids {
		if b.TeamID != want[i].team || !b.Amount.Equal(d(want[i].amount)) {
			t.Errorf("bid %d = %s/%s, want %s/%s", i, b.TeamID, b.Amount, want[i].team, want[i].amount)
		}
	}

	// The store holds the same history.
	recs, err := f.store.Repositories().Bids.ListFor(ctx, p.ID)
	if err != nil {
		t.Fatalf("store ListFor: %v", err)
	}
	if len(recs) != k {
		t.Errorf("store has %d bids, want %d", len(recs), k)
	}
}

func TestPlaceBid_ConcurrentHighestWins(t *testing.T) {
	const runs = 40
	for run := range runs {
		n := 2 + rand.IntN(14)
		f := newFixture(t, func(c *config.BiddingConfig) {
			c.MaxAttempts = n + 1
			c.Timeout = 10 * time.Second
			c.RetryBackoff = 100 * time.Microsecond
		})
		ctx := context.Background()
		p := f.livePlayer(t, "1.0")

		amounts := make([]string, n)
		for i := range n {
			amounts[i] = fmt.Sprintf("%d.%02d", 1+(i+1)/10, ((i+1)%10)*10)
		}
		order := rand.Perm(n)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted []auction.Bid
		)
		start := make(chan struct{})
		for _, i := range order {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				b, err := f.bid(p.ID, fmt.Sprintf("team-%d", i), amounts[i])
				if err != nil {
					if !errors.Is(err, auction.ErrPriceTooLow) && !errors.Is(err, auction.ErrContended) {
						t.Errorf("run %d: bid %s: unexpected error %v", run, amounts[i], err)
					}
					return
				}
				mu.Lock()
				accepted = append(accepted, b)
				mu.Unlock()
			}(i)
		}
		close(start)
		wg.Wait()

		snap, err := f.notifier.Observe(ctx, p.ID)
		if err != nil {
			t.Fatalf("Observe: %v", err)
		}
		top := d(amounts[n-1])
		if !snap.Player.CurrentPrice.Equal(top) {
			t.Fatalf("run %d: final price %s, want %s", run, snap.Player.CurrentPrice, top)
		}
		if snap.Player.LeadingTeamID != fmt.Sprintf("team-%d", n-1) {
			t.Errorf("run %d: leader %q, want team-%d", run, snap.Player.LeadingTeamID, n-1)
		}
		if len(snap.Bids) != len(accepted) {
			t.Errorf("run %d: ledger has %d bids, %d calls accepted", run, len(snap.Bids), len(accepted))
		}
		for i := 1; i < len(snap.Bids); i++ {
			if !snap.Bids[i].Amount.GreaterThan(snap.Bids[i-1].Amount) {
				t.Fatalf("run %d: ledger not strictly increasing at %d: %s then %s",
					run, i, snap.Bids[i-1].Amount, snap.Bids[i].Amount)
			}
		}
	}
}

func TestPlaceBid_PlayersProceedIndependently(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, _ := f.reg.CreateAuction(ctx, "two rooms")
	b, _ := f.reg.CreateAuction(ctx, "second room")
	p1, _ := f.reg.AddPlayer(ctx, a.ID, "Dhoni", auction.CategoryWicketKeeper, d("1"))
	p2, _ := f.reg.AddPlayer(ctx, b.ID, "Rashid", auction.CategoryBowler, d("1"))
	for _, p := range []auction.Player{p1, p2} {
		if _, err := f.status.Start(ctx, p.ID); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, p := range []auction.Player{p1, p2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				if _, err := f.bid(p.ID, "csk", fmt.Sprintf("%d", 2+i)); err != nil {
					t.Errorf("bid on %s: %v", p.Name, err)
				}
			}
		}()
	}
	wg.Wait()

	for _, p := range []auction.Player{p1, p2} {
		got, _ := f.reg.Get(ctx, p.ID)
		if !got.CurrentPrice.Equal(d("21")) {
			t.Errorf("%s price = %s, want 21", p.Name, got.CurrentPrice)
		}
	}
}

func TestPlaceBid_ContendedWhenStoreKeepsConflicting(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
	}{
		{name: "single attempt", maxAttempts: 1},
		{name: "three attempts", maxAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.BiddingConfig) { c.MaxAttempts = tt.maxAttempts })
			p := f.livePlayer(t, "1.0")
			f.store.FailApplyBid(store.ErrConflict)

			_, err := f.bid(p.ID, "csk", "1.5")
			var rej *auction.Rejection
			if !errors.As(err, &rej) || !errors.Is(err, auction.ErrContended) {
				t.Fatalf("error = %v, want ErrContended", err)
			}
			if rej.Attempts != tt.maxAttempts {
				t.Errorf("attempts = %d, want %d", rej.Attempts, tt.maxAttempts)
			}

			f.store.FailApplyBid(nil)
			b, err := f.bid(p.ID, "csk", "1.5")
			if err != nil {
				t.Fatalf("bid after store recovered: %v", err)
			}
			if b.Seq != 1 {
				t.Errorf("seq = %d, want 1", b.Seq)
			}
		})
	}
}

func TestPlaceBid_StoreFailureIsNotARejection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.livePlayer(t, "1.0")
	boom := errors.New("connection reset")
	f.store.FailApplyBid(boom)

	_, err := f.bid(p.ID, "csk", "1.5")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if auction.IsRejection(err) {
		t.Errorf("IsRejection(%v) = true, want false", err)
	}
	got, _ := f.reg.Get(ctx, p.ID)
	if !got.CurrentPrice.Equal(d("1.0")) || got.LeadingTeamID != "" {
		t.Errorf("state changed after failed write: %+v", got)
	}

	f.store.FailApplyBid(nil)
	if _, err := f.bid(p.ID, "csk", "1.5"); err != nil {
		t.Fatalf("bid after store recovered: %v", err)
	}
	bids, _ := f.reg.Ledger().ListFor(ctx, p.ID)
	if len(bids) != 1 {
		t.Errorf("ledger has %d bids, want 1", len(bids))
	}
}

func TestPlaceBid_CancelledContextTimesOut(t *testing.T) {
	f := newFixture(t, nil)
	p := f.livePlayer(t, "1.0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.arbiter.PlaceBid(ctx, auction.BidRequest{
		PlayerID: p.ID, TeamID: "csk", Amount: d("2"), Capability: team("csk"),
	})
	if !errors.Is(err, auction.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	snap, _ := f.notifier.Observe(context.Background(), p.ID)
	if len(snap.Bids) != 0 {
		t.Errorf("ledger has %d bids after timeout, want 0", len(snap.Bids))
	}
}

func TestPlaceBid_CommittedWriteWithLostReplyIsAccepted(t *testing.T) {
	f, players := newLostReplyFixture(t, true)
	ctx := context.Background()
	p := f.livePlayer(t, "1.0")
	players.armed.Store(true)

	bid, err := f.bid(p.ID, "csk", "1.5")
	if err != nil {
		t.Fatalf("bid reported %v although the store committed it", err)
	}
	if !bid.Amount.Equal(d("1.5")) || bid.TeamID != "csk" || bid.Seq != 1 {
		t.Errorf("bid = %+v, want csk 1.5 seq 1", bid)
	}
	snap, _ := f.notifier.Observe(ctx, p.ID)
	if !snap.Player.CurrentPrice.Equal(d("1.5")) || snap.Player.LeadingTeamID != "csk" || len(snap.Bids) != 1 {
		t.Errorf("observed %s led by %q with %d bids, want 1.5 led by csk with 1 bid",
			snap.Player.CurrentPrice, snap.Player.LeadingTeamID, len(snap.Bids))
	}

	players.armed.Store(false)
	if _, err := f.bid(p.ID, "mi", "2"); err != nil {
		t.Fatalf("next bid: %v", err)
	}
	bids, _ := f.reg.Ledger().ListFor(ctx, p.ID)
	if len(bids) != 2 || bids[0].ID != bid.ID {
		t.Errorf("ledger = %+v, want the committed bid followed by mi", bids)
	}
}

func TestPlaceBid_WriteTimeoutIsNotATimeoutRejection(t *testing.T) {
	f, players := newLostReplyFixture(t, false)
	ctx := context.Background()
	p := f.livePlayer(t, "1.0")
	players.armed.Store(true)

	_, err := f.bid(p.ID, "csk", "1.5")
	if err == nil {
		t.Fatal("bid accepted although the store write failed")
	}
	if errors.Is(err, auction.ErrTimeout) || auction.IsRejection(err) {
		t.Errorf("error = %v, want an infrastructure failure, not a rejection", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v still reads as a caller deadline", err)
	}
	if !errors.Is(err, auction.ErrWriteFailed) {
		t.Errorf("error = %v, want ErrWriteFailed", err)
	}
	snap, _ := f.notifier.Observe(ctx, p.ID)
	if len(snap.Bids) != 0 || !snap.Player.CurrentPrice.Equal(d("1.0")) {
		t.Errorf("observed %d bids at %s, want none at 1.0", len(snap.Bids), snap.Player.CurrentPrice)
	}
}

func TestPlaceBid_LogsCarryTraceIDs(t *testing.T) {
	f := newFixture(t, nil)
	p := f.livePlayer(t, "1.0")

	var buf bytes.Buffer
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	arb, err := auction.NewArbiter(f.reg, f.cfg, slog.New(slog.NewJSONHandler(&buf, nil)), tp, metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewArbiter: %v", err)
	}
	if _, err := arb.PlaceBid(context.Background(), auction.BidRequest{
		PlayerID: p.ID, TeamID: "csk", Amount: d("1.5"), Capability: team("csk"),
	}); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	var line struct {
		Msg     string `json:"msg"`
		TraceID string `json:"trace_id"`
		SpanID  string `json:"span_id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if line.Msg != "bid accepted" || line.TraceID == "" || line.SpanID == "" {
		t.Errorf("log line = %+v, want bid accepted with trace and span IDs", line)
	}
}
