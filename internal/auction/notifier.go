package auction

import (
	"context"
	"log/slog"
	"sync"
)

type subscriber struct {
	playerID string
	ch       chan Snapshot
}

// Notifier serves the latest committed state of players to readers, either
// on demand or as a stream of snapshots.
type Notifier struct {
	reg    *Registry
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewNotifier creates a Notifier fed by every commit of reg.
func NewNotifier(reg *Registry, logger *slog.Logger) *Notifier {
	n := &Notifier{
		reg:    reg,
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
	reg.addObserver(n.publish)
	return n
}

// Observe returns the player and its ledger as of the latest commit. Every
// commit that finished before Observe was called is included.
func (n *Notifier) Observe(_ context.Context, playerID string) (Snapshot, error) {
	e, err := n.reg.entry(playerID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snap.Load().clone(), nil
}

// Subscribe streams snapshots of a player until ctx is done, starting with
// the current one. A slow reader skips intermediate snapshots but never
// receives an older one after a newer one. The channel is closed after ctx
// is done.
func (n *Notifier) Subscribe(ctx context.Context, playerID string) (<-chan Snapshot, error) {
	e, err := n.reg.entry(playerID)
	if err != nil {
		return nil, err
	}
	s := &subscriber{playerID: playerID, ch: make(chan Snapshot, 1)}

	n.mu.Lock()
	set, ok := n.subs[playerID]
	if !ok {
		set = make(map[*subscriber]struct{})
		n.subs[playerID] = set
	}
	set[s] = struct{}{}
	// Seed under the lock so a concurrent publish cannot be overtaken.
	s.ch <- e.snap.Load().clone()
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.remove(s)
	}()
	return s.ch, nil
}

func (n *Notifier) remove(s *subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set := n.subs[s.playerID]
	delete(set, s)
	if len(set) == 0 {
		delete(n.subs, s.playerID)
	}
	close(s.ch)
}

// publish never blocks: a pending undelivered snapshot is replaced.
func (n *Notifier) publish(snap *Snapshot) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for s := range n.subs[snap.Player.ID] {
		v := snap.clone()
		select {
		case s.ch <- v:
			continue
		default:
		}
		select {
		case old := <-s.ch:
			if old.Version > v.Version {
				v = old
			}
		default:
		}
		select {
		case s.ch <- v:
		default:
			n.logger.Warn("dropped snapshot for slow subscriber",
				slog.String("player_id", snap.Player.ID),
				slog.Int64("version", snap.Version),
			)
		}
	}
}

// Subscribers returns the number of open subscriptions for a player.
func (n *Notifier) Subscribers(playerID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[playerID])
}
