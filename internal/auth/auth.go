// Package auth issues and verifies session credentials for accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/jensholdgaard/live-auction/internal/clock"
	"github.com/jensholdgaard/live-auction/internal/config"
	"github.com/jensholdgaard/live-auction/internal/store"
)

// Role is an account's authority.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleTeamUser Role = "TEAM_USER"
)

// Errors returned by the auth service.
var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidSession      = errors.New("invalid or expired session")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Credential is an opaque session token handed to a client.
type Credential string

// Account is an authenticated identity.
type Account struct {
	ID        string
	Username  string
	Email     string
	Role      Role
	TeamID    string // set for TEAM_USER
	CreatedAt time.Time
}

// CanBidFor reports whether the account may bid on behalf of teamID.
func (a *Account) CanBidFor(teamID string) bool {
	return a != nil && a.Role == RoleTeamUser && teamID != "" && a.TeamID == teamID
}

// IsAdmin reports whether the account may drive the control plane.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// Session is a credential together with the account it belongs to.
type Session struct {
	Credential Credential
	ExpiresAt  time.Time
	Account    *Account
}

// Registration holds the fields of a new account.
type Registration struct {
	Username string
	Password string
	Email    string
	Role     Role
	TeamID   string
}

// Service registers accounts and manages their sessions.
type Service struct {
	accounts store.AccountRepository
	teams    store.TeamRepository
	secret   []byte
	ttl      time.Duration
	cost     int
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewService returns a new Service.
func NewService(accounts store.AccountRepository, teams store.TeamRepository, cfg config.AuthConfig, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Service {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		accounts: accounts,
		teams:    teams,
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.TokenTTL,
		cost:     cost,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/live-auction/internal/auth"),
		clock:    clk,
	}
}

// Register creates an account and opens a session for it. TeamID is
// required for TEAM_USER and rejected otherwise.
func (s *Service) Register(ctx context.Context, r Registration) (Session, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Register",
		trace.WithAttributes(
			attribute.String("username", r.Username),
			attribute.String("role", string(r.Role)),
		),
	)
	defer span.End()

	if err := s.validate(ctx, &r); err != nil {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hashing password: %w", err)
	}
	rec := &store.Account{
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: string(hash),
		Role:         string(r.Role),
	}
	if r.TeamID != "" {
		rec.TeamID = &r.TeamID
	}
	if err := s.accounts.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, s.duplicate(ctx, r)
		}
		return Session{}, fmt.Errorf("creating account: %w", err)
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", rec.ID),
		slog.String("username", rec.Username),
		slog.String("role", rec.Role),
	)
	return s.issue(fromRecord(rec))
}

// duplicate names the field a concurrent registration claimed between
// validate and Create.
func (s *Service) duplicate(ctx context.Context, r Registration) error {
	if taken, err := s.accounts.ExistsByUsername(ctx, r.Username); err == nil && !taken {
		if taken, err := s.accounts.ExistsByEmail(ctx, r.Email); err == nil && taken {
			return fmt.Errorf("%w: %s", ErrEmailTaken, r.Email)
		}
	}
	return fmt.Errorf("%w: %s", ErrUsernameTaken, r.Username)
}

func (s *Service) validate(ctx context.Context, r *Registration) error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	switch {
	case r.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidRegistration)
	case len(r.Password) < 6:
		return fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidRegistration)
	case len(r.Password) > 72:
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidRegistration)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidRegistration, r.Email)
	}

	switch r.Role {
	case RoleTeamUser:
		if r.TeamID == "" {
			return fmt.Errorf("%w: team is required for %s", ErrInvalidRegistration, r.Role)
		}
		if _, err := s.teams.GetByID(ctx, r.TeamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: team %s does not exist", ErrInvalidRegistration, r.TeamID)
			}
			return fmt.Errorf("looking up team: %w", err)
		}
	case RoleAdmin:
		if r.TeamID != "" {
			return fmt.Errorf("%w: %s accounts have no team", ErrInvalidRegistration, r.Role)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRegistration, r.Role)
	}

	taken, err := s.accounts.ExistsByUsername(ctx, r.Username)
	if err != nil {
		return fmt.Errorf("checking username: %w", err)
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, r.Username)
	}
	taken, err = s.accounts.ExistsByEmail(ctx, r.Email)
	if err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrEmailTaken, r.Email)
	}
	return nil
}

// Authenticate verifies a username and password and opens a session. Both an
// unknown user and a wrong password yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Session, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Authenticate",
		trace.WithAttributes(attribute.String("username", username)),
	)
	defer span.End()

	rec, err := s.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("looking up account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		s.logger.InfoContext(ctx, "login failed", slog.String("username", rec.Username))
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(fromRecord(rec))
}

// CurrentAccount resolves a credential to its account.
func (s *Service) CurrentAccount(ctx context.Context, cred Credential) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CurrentAccount")
	defer span.End()

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(string(cred), &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	rec, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	return fromRecord(rec), nil
}

func (s *Service) issue(a *Account) (Session, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   a.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("signing session token: %w", err)
	}
	return Session{Credential: Credential(signed), ExpiresAt: expires, Account: a}, nil
}

func fromRecord(r *store.Account) *Account {
	a := &Account{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		Role:      Role(r.Role),
		CreatedAt: r.CreatedAt,
	}
	if r.TeamID != nil {
		a.TeamID = *r.TeamID
	}
	return a
}
