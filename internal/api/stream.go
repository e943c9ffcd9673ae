package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jensholdgaard/live-auction/internal/auction"
)

// heartbeat keeps idle event streams open through proxies.
const heartbeat = 15 * time.Second

// handleStream pushes every new snapshot of a player as a server-sent event
// until the client goes away. Versions on the wire never decrease.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "streaming unsupported"})
		return
	}
	ctx := r.Context()
	playerID := r.PathValue("playerID")
	snaps, err := s.svc.Notifier.Subscribe(ctx, playerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	names := nameCache{load: s.teamNames}
	last := int64(-1)
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if snap.Version <= last {
				continue
			}
			last = snap.Version
			data, err := json.Marshal(snapshotView{
				Player: newPlayerView(snap.Player),
				Bids:   newBidViews(snap.Bids, names.resolve(ctx, snap.Bids)),
			})
			if err != nil {
				s.logger.ErrorContext(ctx, "encoding snapshot", slog.Any("error", err))
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// nameCache holds team names for one stream. Teams are listed again only
// when a bid names a team the cache has not seen.
type nameCache struct {
	load  func(context.Context) map[string]string
	names map[string]string
}

func (c *nameCache) resolve(ctx context.Context, bids []auction.Bid) map[string]string {
	for _, b := range bids {
		if _, ok := c.names[b.TeamID]; !ok {
			c.names = c.load(ctx)
			break
		}
	}
	return c.names
}
