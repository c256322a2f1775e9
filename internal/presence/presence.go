// Package presence tracks which users currently have a file open. Each
// file maps to a room backed by a Redis hash (the authoritative roster)
// and a pub/sub channel that peers poke whenever the roster changes. Every
// sync recomputes the full collaborator set from the hash — syncs are
// full-state replacements, never deltas, so out-of-order delivery cannot
// corrupt the roster.
package presence

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Payload is what a session tracks about its local user.
type Payload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

// Collaborator is one logical peer currently in the room. A user joined
// from several sessions still appears once.
type Collaborator struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

// CursorEditor is the collaborative editor engine's cursor surface. The
// engine itself is an external collaborator; this package only asks it to
// materialize markers for newly seen peers.
type CursorEditor interface {
	CreateCursor(peerID, label, color string)
}

// Adapter hands out rooms on a shared Redis client.
type Adapter struct {
	client    *redis.Client
	heartbeat time.Duration
	ttl       time.Duration
}

// NewAdapter connects to Redis and verifies the connection, mirroring the
// durable-store bring-up: a presence backend that cannot be reached is
// reported at construction, not on first join.
func NewAdapter(redisURL string, heartbeat, ttl time.Duration) (*Adapter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewAdapterWithClient(client, heartbeat, ttl), nil
}

// NewAdapterWithClient wraps an existing Redis client.
func NewAdapterWithClient(client *redis.Client, heartbeat, ttl time.Duration) *Adapter {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if ttl <= 0 {
		ttl = 3 * heartbeat
	}
	return &Adapter{client: client, heartbeat: heartbeat, ttl: ttl}
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func roomKey(fileID string) string {
	return "presence:room:" + fileID
}

func syncChannel(fileID string) string {
	return "presence:sync:" + fileID
}

// Label derives a collaborator's display label from their identity: the
// local part of an email-like identifier.
func Label(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}

// ColorFor returns a random "#rrggbb" cursor color. Colors are reassigned
// per observation and carry no meaning beyond telling cursors apart.
func ColorFor() string {
	return fmt.Sprintf("#%06x", rand.Intn(0x1000000))
}

func sortRoster(roster []Collaborator) {
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
}
