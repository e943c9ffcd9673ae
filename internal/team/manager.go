package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/live-auction/internal/store"
)

// DefaultSquadSize is the squad limit given to new teams.
const DefaultSquadSize = 25

// Errors returned by team operations.
var (
	ErrInvalidTeam   = errors.New("invalid team")
	ErrDuplicateName = errors.New("team name already taken")
	ErrNotFound      = errors.New("team not found")
)

// Manager handles team operations.
type Manager struct {
	teams  store.TeamRepository
	logger *slog.Logger
	tracer trace.Tracer
}

// NewManager returns a new team Manager.
func NewManager(teams store.TeamRepository, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		teams:  teams,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/live-auction/internal/team"),
	}
}

// Create registers a new team with the given purse.
func (m *Manager) Create(ctx context.Context, name string, purse decimal.Decimal) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(
			attribute.String("team.name", name),
			attribute.String("team.purse", purse.String()),
		),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidTeam)
	}
	if !purse.IsPositive() {
		return nil, fmt.Errorf("%w: purse must be positive", ErrInvalidTeam)
	}

	t := &store.Team{
		Name:         name,
		Purse:        purse,
		MaxSquadSize: DefaultSquadSize,
	}
	if err := m.teams.Create(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return nil, fmt.Errorf("creating team: %w", err)
	}

	m.logger.InfoContext(ctx, "team created",
		slog.String("team_id", t.ID),
		slog.String("name", name),
		slog.String("purse", purse.String()),
	)
	return t, nil
}

// Get returns a team by ID.
func (m *Manager) Get(ctx context.Context, id string) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get")
	defer span.End()

	t, err := m.teams.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// List returns all teams.
func (m *Manager) List(ctx context.Context) ([]store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.List")
	defer span.End()

	return m.teams.List(ctx)
}
