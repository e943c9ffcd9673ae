package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TeamID   string `json:"team_id,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Auth.Register(r.Context(), auth.Registration{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		Role:     auth.Role(req.Role),
		TeamID:   req.TeamID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, acct *auth.Account) {
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.svc.Teams.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]teamView, 0, len(teams))
	for _, t := range teams {
		out = append(out, newTeamView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type createTeamRequest struct {
	Name  string          `json:"name"`
	Purse decimal.Decimal `json:"purse"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request, _ *auth.Account) {
	var req createTeamRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.svc.Teams.Create(r.Context(), req.Name, req.Purse)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTeamView(*t))
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions := s.svc.Registry.Auctions(r.Context())
	out := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, auctionView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

type createAuctionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request, _ *auth.Account) {
	var req createAuctionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.svc.Registry.CreateAuction(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auctionView(a))
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.svc.Registry.List(r.Context(), r.PathValue("auctionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]playerView, 0, len(players))
	for _, p := range players {
		out = append(out, newPlayerView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type addPlayerRequest struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	BasePrice decimal.Decimal `json:"base_price"`
}

func (s *Server) handleAddPlayer(w http.ResponseWriter, r *http.Request, _ *auth.Account) {
	var req addPlayerRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Registry.AddPlayer(r.Context(), r.PathValue("auctionID"), req.Name, auction.Category(req.Category), req.BasePrice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlayerView(p))
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Notifier.Observe(r.Context(), r.PathValue("playerID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView{
		Player: newPlayerView(snap.Player),
		Bids:   newBidViews(snap.Bids, s.teamNames(r.Context())),
	})
}

// handleBidHistory returns the ledger in acceptance order, or newest first
// with ?order=desc.
func (s *Server) handleBidHistory(w http.ResponseWriter, r *http.Request) {
	bids, err := s.svc.Registry.Ledger().ListFor(r.Context(), r.PathValue("playerID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch r.URL.Query().Get("order") {
	case "", "asc":
	case "desc":
		slices.Reverse(bids)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "order must be asc or desc"})
		return
	}
	writeJSON(w, http.StatusOK, newBidViews(bids, s.teamNames(r.Context())))
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// handlePlaceBid bids for the caller's own team.
func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request, acct *auth.Account) {
	var req placeBidRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	playerID := r.PathValue("playerID")
	bid, err := s.svc.Arbiter.PlaceBid(r.Context(), auction.BidRequest{
		PlayerID:   playerID,
		TeamID:     acct.TeamID,
		Amount:     req.Amount,
		Capability: acct,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Registry.Get(r.Context(), playerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names := s.teamNames(r.Context())
	writeJSON(w, http.StatusCreated, placedView{
		Bid:    newBidViews([]auction.Bid{bid}, names)[0],
		Player: newPlayerView(p),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, _ *auth.Account) {
	p, err := s.svc.Status.Start(r.Context(), r.PathValue("playerID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerView(p))
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request, _ *auth.Account) {
	p, err := s.svc.Status.Finalize(r.Context(), r.PathValue("playerID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerView(p))
}

// teamNames maps team IDs to names for display. A lookup failure only
// drops the names.
func (s *Server) teamNames(ctx context.Context) map[string]string {
	teams, err := s.svc.Teams.List(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "listing teams for display failed")
		return nil
	}
	names := make(map[string]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	return names
}
