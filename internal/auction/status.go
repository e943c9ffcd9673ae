package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StatusController moves players through NOT_STARTED, LIVE and SOLD on
// behalf of the control plane.
type StatusController struct {
	reg         *Registry
	logger      *slog.Logger
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

// NewStatusController creates a StatusController over reg.
func NewStatusController(reg *Registry, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*StatusController, error) {
	transitions, err := mp.Meter(tracerName).Int64Counter("auction.status.transitions",
		metric.WithDescription("Player status transitions, by target status."))
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}
	return &StatusController{
		reg:         reg,
		logger:      logger,
		tracer:      tp.Tracer(tracerName),
		transitions: transitions,
	}, nil
}

// Start opens bidding on a NOT_STARTED player. At most one player per
// auction is LIVE.
func (c *StatusController) Start(ctx context.Context, playerID string) (Player, error) {
	ctx, span := c.tracer.Start(ctx, "StatusController.Start",
		trace.WithAttributes(attribute.String("player.id", playerID)),
	)
	defer span.End()

	p, err := c.reg.Get(ctx, playerID)
	if err != nil {
		return Player{}, &Rejection{Reason: ErrNotFound, PlayerID: playerID}
	}
	a, err := c.reg.auction(p.AuctionID)
	if err != nil {
		return Player{}, fmt.Errorf("player %s: %w", playerID, err)
	}

	a.startMu.Lock()
	defer a.startMu.Unlock()

	others, err := c.reg.List(ctx, p.AuctionID)
	if err != nil {
		return Player{}, err
	}
	for _, o := range others {
		if o.ID != playerID && o.Status == StatusLive {
			return Player{}, reject(ErrAnotherPlayerLive, &p)
		}
	}
	return c.apply(ctx, span, playerID, StatusNotStarted, StatusLive)
}

// Finalize closes bidding on a LIVE player. No bid is accepted for the
// player once Finalize has committed.
func (c *StatusController) Finalize(ctx context.Context, playerID string) (Player, error) {
	ctx, span := c.tracer.Start(ctx, "StatusController.Finalize",
		trace.WithAttributes(attribute.String("player.id", playerID)),
	)
	defer span.End()

	return c.apply(ctx, span, playerID, StatusLive, StatusSold)
}

func (c *StatusController) apply(ctx context.Context, span trace.Span, playerID string, from, to Status) (Player, error) {
	p, err := c.reg.transition(ctx, playerID, from, to)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return Player{}, &Rejection{Reason: ErrNotFound, PlayerID: playerID}
	case errors.Is(err, ErrInvalidTransition):
		return Player{}, reject(ErrInvalidTransition, &p)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Player{}, &Rejection{Reason: ErrTimeout, PlayerID: playerID}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Player{}, err
	}

	c.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
	c.logger.InfoContext(ctx, "auction player status changed",
		slog.String("player_id", playerID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("price", p.CurrentPrice.String()),
		slog.String("leading_team_id", p.LeadingTeamID),
	)
	return p, nil
}
