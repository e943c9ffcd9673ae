package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/auth"
	"github.com/jensholdgaard/live-auction/internal/store"
)

type playerView struct {
	ID            string          `json:"id"`
	AuctionID     string          `json:"auction_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Status        string          `json:"status"`
	BasePrice     decimal.Decimal `json:"base_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	LeadingTeamID string          `json:"leading_team_id,omitempty"`
	Version       int64           `json:"version"`
}

func newPlayerView(p auction.Player) playerView {
	return playerView{
		ID:            p.ID,
		AuctionID:     p.AuctionID,
		Name:          p.Name,
		Category:      string(p.Category),
		Status:        string(p.Status),
		BasePrice:     p.BasePrice,
		CurrentPrice:  p.CurrentPrice,
		LeadingTeamID: p.LeadingTeamID,
		Version:       p.Version,
	}
}

type bidView struct {
	ID         string          `json:"id"`
	PlayerID   string          `json:"player_id"`
	TeamID     string          `json:"team_id"`
	TeamName   string          `json:"team_name,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Seq        int64           `json:"seq"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

func newBidViews(bids []auction.Bid, teamNames map[string]string) []bidView {
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{
			ID:         b.ID,
			PlayerID:   b.AuctionPlayerID,
			TeamID:     b.TeamID,
			TeamName:   teamNames[b.TeamID],
			Amount:     b.Amount,
			Seq:        b.Seq,
			AcceptedAt: b.AcceptedAt,
		})
	}
	return out
}

type snapshotView struct {
	Player playerView `json:"player"`
	Bids   []bidView  `json:"bids"`
}

type placedView struct {
	Bid    bidView    `json:"bid"`
	Player playerView `json:"player"`
}

type auctionView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type teamView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Purse        decimal.Decimal `json:"purse"`
	MaxSquadSize int             `json:"max_squad_size"`
}

func newTeamView(t store.Team) teamView {
	return teamView{ID: t.ID, Name: t.Name, Purse: t.Purse, MaxSquadSize: t.MaxSquadSize}
}

type accountView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TeamID   string `json:"team_id,omitempty"`
}

func newAccountView(a *auth.Account) accountView {
	return accountView{ID: a.ID, Username: a.Username, Email: a.Email, Role: string(a.Role), TeamID: a.TeamID}
}

type sessionView struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Account   accountView `json:"account"`
}

func newSessionView(s auth.Session) sessionView {
	return sessionView{Token: string(s.Credential), ExpiresAt: s.ExpiresAt, Account: newAccountView(s.Account)}
}

type errorBody struct {
	Error        string           `json:"error"`
	Message      string           `json:"message"`
	Status       string           `json:"status,omitempty"`
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
	MinimumNext  *decimal.Decimal `json:"minimum_next,omitempty"`
	Attempts     int              `json:"attempts,omitempty"`
}
