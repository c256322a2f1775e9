package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// entry is one session's row in the room hash. ExpiresAt lets readers age
// out sessions that died without sending leave.
type entry struct {
	Payload
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RoomOptions configures a join.
type RoomOptions struct {
	// OnSync receives the full collaborator roster after every sync
	// event. The slice is freshly built per call and sorted by peer id.
	OnSync func(roster []Collaborator)
	// Editor, when set, gets a cursor marker created for every remote
	// collaborator on first sight.
	Editor CursorEditor
}

// Room is one session's membership in a file's presence topic. Acquire
// with Adapter.Join, release unconditionally with Leave.
type Room struct {
	adapter     *Adapter
	fileID      string
	localUserID string
	sessionID   string
	opts        RoomOptions

	pubsub *redis.PubSub
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	tracked bool
	seen    map[string]bool
	roster  []Collaborator

	leaveOnce sync.Once
	leaveErr  error
}

// Join subscribes to the file's presence topic and starts delivering
// roster syncs. Joining alone does not announce the local user — call
// Track for that; a session that joins without tracking still sees peers
// but is invisible to them.
func (a *Adapter) Join(ctx context.Context, fileID, localUserID string, opts RoomOptions) (*Room, error) {
	pubsub := a.client.Subscribe(ctx, syncChannel(fileID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe presence topic %s: %w", fileID, err)
	}

	room := &Room{
		adapter:     a,
		fileID:      fileID,
		localUserID: localUserID,
		sessionID:   uuid.NewString(),
		opts:        opts,
		pubsub:      pubsub,
		done:        make(chan struct{}),
		seen:        map[string]bool{},
	}

	room.wg.Add(1)
	go room.receive()
	return room, nil
}

// Track announces the local user's presence payload to the room. It runs
// exactly once per subscription: repeat calls are no-ops. Callers that
// fail to resolve the local profile simply never call Track (degraded but
// non-fatal: invisible to peers, still receiving their presence).
func (r *Room) Track(ctx context.Context, payload Payload) error {
	r.mu.Lock()
	if r.tracked {
		r.mu.Unlock()
		return nil
	}
	r.tracked = true
	r.mu.Unlock()

	if err := r.writeEntry(ctx, payload); err != nil {
		r.mu.Lock()
		r.tracked = false
		r.mu.Unlock()
		return err
	}
	if err := r.adapter.client.Publish(ctx, syncChannel(r.fileID), "sync").Err(); err != nil {
		return fmt.Errorf("publish presence sync: %w", err)
	}

	r.wg.Add(1)
	go r.heartbeat(payload)
	return nil
}

// Roster returns the collaborator list from the most recent sync.
func (r *Room) Roster() []Collaborator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Collaborator(nil), r.roster...)
}

// Leave tears the membership down: removes the session's roster entry,
// wakes the peers, and closes the subscription. Safe to call on every exit
// path; only the first call does work.
func (r *Room) Leave(ctx context.Context) error {
	r.leaveOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		tracked := r.tracked
		r.mu.Unlock()

		if tracked {
			if err := r.adapter.client.HDel(ctx, roomKey(r.fileID), r.sessionID).Err(); err != nil {
				r.leaveErr = fmt.Errorf("remove presence entry: %w", err)
			}
			if err := r.adapter.client.Publish(ctx, syncChannel(r.fileID), "sync").Err(); err != nil && r.leaveErr == nil {
				r.leaveErr = fmt.Errorf("publish presence leave: %w", err)
			}
		}

		if err := r.pubsub.Close(); err != nil && r.leaveErr == nil {
			r.leaveErr = fmt.Errorf("close presence subscription: %w", err)
		}
		r.wg.Wait()
	})
	return r.leaveErr
}

func (r *Room) writeEntry(ctx context.Context, payload Payload) error {
	e := entry{
		Payload:   payload,
		SessionID: r.sessionID,
		ExpiresAt: time.Now().Add(r.adapter.ttl),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	key := roomKey(r.fileID)
	if err := r.adapter.client.HSet(ctx, key, r.sessionID, raw).Err(); err != nil {
		return fmt.Errorf("write presence entry: %w", err)
	}
	// The hash itself expires a while after the last writer stops
	// refreshing it, so an abandoned room leaves nothing behind.
	if err := r.adapter.client.Expire(ctx, key, 2*r.adapter.ttl).Err(); err != nil {
		return fmt.Errorf("expire presence room: %w", err)
	}
	return nil
}

func (r *Room) heartbeat(payload Payload) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.adapter.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.writeEntry(ctx, payload); err != nil {
				log.Printf("presence: heartbeat for %s: %v", r.fileID, err)
			}
			cancel()
		}
	}
}

func (r *Room) receive() {
	defer r.wg.Done()

	// Initial roster before any peer publishes.
	r.resync()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			r.resync()
		}
	}
}

// resync reads the whole room hash and replaces the roster. Each sync is
// authoritative for "who is here now"; nothing is applied incrementally.
func (r *Room) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := r.adapter.client.HGetAll(ctx, roomKey(r.fileID)).Result()
	if err != nil {
		log.Printf("presence: read roster for %s: %v", r.fileID, err)
		return
	}

	now := time.Now()
	byUser := map[string]Collaborator{}
	for field, value := range raw {
		var e entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			log.Printf("presence: malformed entry in %s: %v", r.fileID, err)
			continue
		}
		if now.After(e.ExpiresAt) {
			// A session that stopped heartbeating without leaving;
			// drop it lazily so the roster cannot grow without bound.
			_ = r.adapter.client.HDel(ctx, roomKey(r.fileID), field).Err()
			continue
		}
		// Flatten multiple sessions of one user into one collaborator.
		if _, present := byUser[e.ID]; !present {
			byUser[e.ID] = Collaborator(e.Payload)
		}
	}

	roster := make([]Collaborator, 0, len(byUser))
	for _, collaborator := range byUser {
		roster = append(roster, collaborator)
	}
	sortRoster(roster)

	r.mu.Lock()
	r.roster = roster
	var newPeers []Collaborator
	if r.opts.Editor != nil {
		for _, collaborator := range roster {
			if collaborator.ID == r.localUserID || r.seen[collaborator.ID] {
				continue
			}
			r.seen[collaborator.ID] = true
			newPeers = append(newPeers, collaborator)
		}
	}
	r.mu.Unlock()

	for _, peer := range newPeers {
		r.opts.Editor.CreateCursor(peer.ID, Label(peer.Email), ColorFor())
	}
	if r.opts.OnSync != nil {
		r.opts.OnSync(roster)
	}
}
