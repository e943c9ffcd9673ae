// Package api exposes the bid authority over JSON/HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/auth"
	"github.com/jensholdgaard/live-auction/internal/team"
)

const maxBodyBytes = 1 << 20

// Services bundles what the API serves.
type Services struct {
	Registry *auction.Registry
	Arbiter  *auction.Arbiter
	Status   *auction.StatusController
	Notifier *auction.Notifier
	Auth     *auth.Service
	Teams    *team.Manager
}

// Server routes HTTP requests to the auction services.
type Server struct {
	svc    Services
	logger *slog.Logger
	tracer trace.Tracer
	mux    *http.ServeMux
}

// NewServer creates a Server with every route registered.
func NewServer(svc Services, logger *slog.Logger, tp trace.TracerProvider) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/live-auction/internal/api"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("POST /auth/register", s.handleRegister)
	s.handle("POST /auth/login", s.handleLogin)
	s.handle("GET /auth/me", s.authed(s.handleMe))

	s.handle("GET /teams", s.handleListTeams)
	s.handle("POST /teams", s.admin(s.handleCreateTeam))

	s.handle("GET /auctions", s.handleListAuctions)
	s.handle("POST /auctions", s.admin(s.handleCreateAuction))
	s.handle("GET /auctions/{auctionID}/players", s.handleListPlayers)
	s.handle("POST /auctions/{auctionID}/players", s.admin(s.handleAddPlayer))

	s.handle("GET /players/{playerID}", s.handleObserve)
	s.handle("GET /players/{playerID}/bids", s.handleBidHistory)
	s.handle("POST /players/{playerID}/bids", s.authed(s.handlePlaceBid))
	s.handle("GET /players/{playerID}/stream", s.handleStream)
	s.handle("POST /players/{playerID}/start", s.admin(s.handleStart))
	s.handle("POST /players/{playerID}/finalize", s.admin(s.handleFinalize))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handle registers h under pattern with one span per request.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), pattern,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()
		h(w, r.WithContext(ctx))
	})
}

// accountHandler receives the account resolved from the request credential.
type accountHandler func(w http.ResponseWriter, r *http.Request, acct *auth.Account)

// authed resolves the Bearer credential of each request and passes the
// account explicitly to h.
func (s *Server) authed(h accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, ok := bearer(r)
		if !ok {
			s.writeError(w, r, auth.ErrInvalidSession)
			return
		}
		acct, err := s.svc.Auth.CurrentAccount(r.Context(), cred)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("account.id", acct.ID))
		h(w, r, acct)
	}
}

// admin is authed restricted to ADMIN accounts.
func (s *Server) admin(h accountHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, acct *auth.Account) {
		if !acct.IsAdmin() {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "admin role required"})
			return
		}
		h(w, r, acct)
	})
}

func bearer(r *http.Request) (auth.Credential, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return auth.Credential(strings.TrimSpace(token)), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
