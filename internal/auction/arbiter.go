package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/live-auction/internal/config"
	"github.com/jensholdgaard/live-auction/internal/telemetry"
)

// Capability answers whether a caller may bid on behalf of a team.
type Capability interface {
	CanBidFor(teamID string) bool
}

// BidRequest is one attempt by a caller to bid for a team.
type BidRequest struct {
	PlayerID   string
	TeamID     string
	Amount     decimal.Decimal
	Capability Capability
}

// Arbiter validates bids and applies accepted ones through the registry.
type Arbiter struct {
	reg    *Registry
	policy IncrementPolicy
	cfg    config.BiddingConfig
	logger *slog.Logger
	tracer trace.Tracer

	accepted metric.Int64Counter
	rejected metric.Int64Counter
	attempts metric.Int64Histogram
}

// NewArbiter creates an Arbiter over reg.
func NewArbiter(reg *Registry, cfg config.BiddingConfig, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Arbiter, error) {
	meter := mp.Meter(tracerName)
	accepted, err := meter.Int64Counter("auction.bids.accepted",
		metric.WithDescription("Bids accepted by the arbiter."))
	if err != nil {
		return nil, fmt.Errorf("creating accepted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("auction.bids.rejected",
		metric.WithDescription("Bids rejected by the arbiter, by reason."))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	attempts, err := meter.Int64Histogram("auction.bid.attempts",
		metric.WithDescription("Compare-and-apply attempts per bid."))
	if err != nil {
		return nil, fmt.Errorf("creating attempts histogram: %w", err)
	}
	return &Arbiter{
		reg:      reg,
		policy:   NewPolicy(cfg),
		cfg:      cfg,
		logger:   logger,
		tracer:   tp.Tracer(tracerName),
		accepted: accepted,
		rejected: rejected,
		attempts: attempts,
	}, nil
}

// PlaceBid validates req and, if it passes, records it as the new leading
// bid. Expected outcomes are returned as *Rejection; any other error is an
// infrastructure failure whose effect the caller should re-read.
func (a *Arbiter) PlaceBid(ctx context.Context, req BidRequest) (Bid, error) {
	ctx, span := a.tracer.Start(ctx, "Arbiter.PlaceBid",
		trace.WithAttributes(
			attribute.String("player.id", req.PlayerID),
			attribute.String("team.id", req.TeamID),
			attribute.String("bid.amount", req.Amount.String()),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	bid, attempts, err := a.place(ctx, req)
	a.attempts.Record(ctx, int64(attempts))
	logger := telemetry.LogWithTrace(ctx, a.logger)
	span.SetAttributes(attribute.Int("bid.attempts", attempts))

	var rej *Rejection
	switch {
	case err == nil:
		a.accepted.Add(ctx, 1)
		logger.InfoContext(ctx, "bid accepted",
			slog.String("player_id", req.PlayerID),
			slog.String("team_id", req.TeamID),
			slog.String("amount", bid.Amount.String()),
			slog.Int64("seq", bid.Seq),
			slog.Int("attempts", attempts),
		)
		return bid, nil
	case errors.As(err, &rej):
		rej.Attempts = attempts
		reason := reasonName(rej.Reason)
		a.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.SetAttributes(attribute.String("bid.rejected", reason))
		logger.InfoContext(ctx, "bid rejected",
			slog.String("player_id", req.PlayerID),
			slog.String("team_id", req.TeamID),
			slog.String("amount", req.Amount.String()),
			slog.String("reason", reason),
		)
		return Bid{}, rej
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "bid failed",
			slog.String("player_id", req.PlayerID),
			slog.String("team_id", req.TeamID),
			slog.Any("error", err),
		)
		return Bid{}, err
	}
}

func (a *Arbiter) place(ctx context.Context, req BidRequest) (Bid, int, error) {
	if req.Capability == nil || !req.Capability.CanBidFor(req.TeamID) {
		return Bid{}, 0, &Rejection{Reason: ErrUnauthorized, PlayerID: req.PlayerID}
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return Bid{}, attempt - 1, a.timeout(ctx, req.PlayerID)
		}
		p, err := a.reg.Get(ctx, req.PlayerID)
		if err != nil {
			return Bid{}, attempt - 1, &Rejection{Reason: ErrNotFound, PlayerID: req.PlayerID}
		}
		if p.Status != StatusLive {
			return Bid{}, attempt - 1, reject(ErrNotLive, &p)
		}
		minimum := a.policy.MinimumNext(p.CurrentPrice)
		if req.Amount.LessThan(minimum) {
			rej := reject(ErrPriceTooLow, &p)
			rej.MinimumNext = minimum
			return Bid{}, attempt - 1, rej
		}
		if !validAmount(req.Amount) {
			return Bid{}, attempt - 1, reject(ErrInvalidAmount, &p)
		}

		bid, err := a.reg.CompareAndApply(ctx, req.PlayerID, p.CurrentPrice, req.Amount, req.TeamID)
		switch {
		case err == nil:
			return bid, attempt, nil
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return Bid{}, attempt, a.timeout(ctx, req.PlayerID)
		case errors.Is(err, ErrNotLive):
			cur, _ := a.reg.Get(ctx, req.PlayerID)
			return Bid{}, attempt, reject(ErrNotLive, &cur)
		case errors.Is(err, ErrConflict):
			// Re-validate against the fresh price.
		default:
			return Bid{}, attempt, fmt.Errorf("applying bid on %s: %w", req.PlayerID, err)
		}

		if attempt >= a.cfg.MaxAttempts {
			cur, _ := a.reg.Get(ctx, req.PlayerID)
			rej := reject(ErrContended, &cur)
			rej.MinimumNext = a.policy.MinimumNext(cur.CurrentPrice)
			return Bid{}, attempt, rej
		}
		if err := a.backoff(ctx, attempt); err != nil {
			return Bid{}, attempt, a.timeout(ctx, req.PlayerID)
		}
	}
}

func (a *Arbiter) timeout(ctx context.Context, playerID string) *Rejection {
	p, err := a.reg.Get(ctx, playerID)
	if err != nil {
		return &Rejection{Reason: ErrTimeout, PlayerID: playerID}
	}
	return reject(ErrTimeout, &p)
}

// backoff waits a jittered, linearly growing pause before the next attempt.
func (a *Arbiter) backoff(ctx context.Context, attempt int) error {
	base := a.cfg.RetryBackoff
	if base <= 0 {
		return ctx.Err()
	}
	d := time.Duration(attempt)*base + rand.N(base)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reasonName is the metric and wire name of a rejection reason.
func reasonName(reason error) string {
	switch {
	case errors.Is(reason, ErrNotFound):
		return "not_found"
	case errors.Is(reason, ErrNotLive):
		return "not_live"
	case errors.Is(reason, ErrPriceTooLow):
		return "price_too_low"
	case errors.Is(reason, ErrContended):
		return "contended"
	case errors.Is(reason, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(reason, ErrAnotherPlayerLive):
		return "another_player_live"
	case errors.Is(reason, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(reason, ErrTimeout):
		return "timeout"
	case errors.Is(reason, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(reason, ErrInvalidPlayer):
		return "invalid_player"
	default:
		return "unknown"
	}
}

// ReasonName returns the stable name of the reason wrapped by err, or
// "unknown" when err wraps none.
func ReasonName(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return reasonName(rej.Reason)
	}
	return reasonName(err)
}
