package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupAdapter(t *testing.T) (*Adapter, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	adapter := NewAdapterWithClient(client, 50*time.Millisecond, time.Minute)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter, s
}

func waitForRoster(t *testing.T, room *Room, want ...string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var got []string
	for time.Now().Before(deadline) {
		got = nil
		for _, collaborator := range room.Roster() {
			got = append(got, collaborator.ID)
		}
		if reflect.DeepEqual(got, want) || (len(got) == 0 && len(want) == 0) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("roster = %v, want %v", got, want)
}

func TestTrackPublishesPresenceToPeers(t *testing.T) {
	adapter, _ := setupAdapter(t)
	ctx := context.Background()

	alice, err := adapter.Join(ctx, "file-1", "user-a", RoomOptions{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer alice.Leave(ctx)

	bob, err := adapter.Join(ctx, "file-1", "user-b", RoomOptions{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer bob.Leave(ctx)

	if err := alice.Track(ctx, Payload{ID: "user-a", Email: "alice@acme.dev"}); err != nil {
		t.Fatalf("track alice: %v", err)
	}
	if err := bob.Track(ctx, Payload{ID: "user-b", Email: "bob@acme.dev"}); err != nil {
		t.Fatalf("track bob: %v", err)
	}

	waitForRoster(t, alice, "user-a", "user-b")
	waitForRoster(t, bob, "user-a", "user-b")
}

func TestJoinWithoutTrackSeesPeersButStaysInvisible(t *testing.T) {
	adapter, _ := setupAdapter(t)
	ctx := context.Background()

	// Profile resolution failed for the watcher: it joins but never tracks.
	watcher, err := adapter.Join(ctx, "file-1", "user-w", RoomOptions{})
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}
	defer watcher.Leave(ctx)

	peer, err := adapter.Join(ctx, "file-1", "user-p", RoomOptions{})
	if err != nil {
		t.Fatalf("join peer: %v", err)
	}
	defer peer.Leave(ctx)
	if err := peer.Track(ctx, Payload{ID: "user-p", Email: "peer@acme.dev"}); err != nil {
		t.Fatalf("track peer: %v", err)
	}

	waitForRoster(t, watcher, "user-p")
	waitForRoster(t, peer, "user-p")
}

func TestCompleteRosterTurnoverLeavesNoResiduals(t *testing.T) {
	adapter, _ := setupAdapter(t)
	ctx := context.Background()

	watcher, err := adapter.Join(ctx, "file-1", "user-w", RoomOptions{})
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}
	defer watcher.Leave(ctx)

	// R1: a and b.
	var r1 []*Room
	for _, id := range []string{"user-a", "user-b"} {
		room, err := adapter.Join(ctx, "file-1", id, RoomOptions{})
		if err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		if err := room.Track(ctx, Payload{ID: id, Email: id + "@acme.dev"}); err != nil {
			t.Fatalf("track %s: %v", id, err)
		}
		r1 = append(r1, room)
	}
	waitForRoster(t, watcher, "user-a", "user-b")

	// Complete turnover: R1 leaves, a disjoint R2 arrives.
	for _, room := range r1 {
		if err := room.Leave(ctx); err != nil {
			t.Fatalf("leave: %v", err)
		}
	}
	for _, id := range []string{"user-c", "user-d"} {
		room, err := adapter.Join(ctx, "file-1", id, RoomOptions{})
		if err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		defer room.Leave(ctx)
		if err := room.Track(ctx, Payload{ID: id, Email: id + "@acme.dev"}); err != nil {
			t.Fatalf("track %s: %v", id, err)
		}
	}

	waitForRoster(t, watcher, "user-c", "user-d")
}

func TestMultipleSessionsFlattenToOneCollaborator(t *testing.T) {
	adapter, _ := setupAdapter(t)
	ctx := context.Background()

	watcher, err := adapter.Join(ctx, "file-1", "user-w", RoomOptions{})
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}
	defer watcher.Leave(ctx)

	// The same user from two browser tabs.
	for i := 0; i < 2; i++ {
		room, err := adapter.Join(ctx, "file-1", "user-a", RoomOptions{})
		if err != nil {
			t.Fatalf("join session %d: %v", i, err)
		}
		defer room.Leave(ctx)
		if err := room.Track(ctx, Payload{ID: "user-a", Email: "alice@acme.dev"}); err != nil {
			t.Fatalf("track session %d: %v", i, err)
		}
	}

	waitForRoster(t, watcher, "user-a")
}

func TestTrackRunsExactlyOncePerSubscription(t *testing.T) {
	adapter, s := setupAdapter(t)
	ctx := context.Background()

	room, err := adapter.Join(ctx, "file-1", "user-a", RoomOptions{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer room.Leave(ctx)

	payload := Payload{ID: "user-a", Email: "alice@acme.dev"}
	if err := room.Track(ctx, payload); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := room.Track(ctx, payload); err != nil {
		t.Fatalf("repeat track: %v", err)
	}

	fields, err := s.HKeys(roomKey("file-1"))
	if err != nil {
		t.Fatalf("inspect room hash: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("room hash has %d entries after double track, want 1", len(fields))
	}
}

type fakeEditor struct {
	mu      sync.Mutex
	cursors map[string][]string // peer id -> labels seen
	colors  []string
}

func (f *fakeEditor) CreateCursor(peerID, label, color string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursors == nil {
		f.cursors = map[string][]string{}
	}
	f.cursors[peerID] = append(f.cursors[peerID], label)
	f.colors = append(f.colors, color)
}

func TestCursorCreatedOnFirstSightOfEachPeer(t *testing.T) {
	adapter, _ := setupAdapter(t)
	ctx := context.Background()
	editor := &fakeEditor{}

	local, err := adapter.Join(ctx, "file-1", "user-local", RoomOptions{Editor: editor})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer local.Leave(ctx)
	if err := local.Track(ctx, Payload{ID: "user-local", Email: "me@acme.dev"}); err != nil {
		t.Fatalf("track local: %v", err)
	}

	peer, err := adapter.Join(ctx, "file-1", "user-peer", RoomOptions{})
	if err != nil {
		t.Fatalf("join peer: %v", err)
	}
	defer peer.Leave(ctx)
	if err := peer.Track(ctx, Payload{ID: "user-peer", Email: "peer@acme.dev"}); err != nil {
		t.Fatalf("track peer: %v", err)
	}
	waitForRoster(t, local, "user-local", "user-peer")

	// Extra syncs must not duplicate the marker.
	if err := peer.Track(ctx, Payload{ID: "user-peer", Email: "peer@acme.dev"}); err != nil {
		t.Fatalf("re-track: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	editor.mu.Lock()
	defer editor.mu.Unlock()
	if labels := editor.cursors["user-peer"]; len(labels) != 1 || labels[0] != "peer" {
		t.Fatalf("cursor calls for peer = %v, want one call labelled %q", labels, "peer")
	}
	if _, ok := editor.cursors["user-local"]; ok {
		t.Fatal("cursor created for the local user")
	}
	colorPattern := regexp.MustCompile(`^#[0-9a-f]{6}$`)
	for _, color := range editor.colors {
		if !colorPattern.MatchString(color) {
			t.Fatalf("cursor color %q is not #rrggbb", color)
		}
	}
}

func TestExpiredSessionsAgeOutOfTheRoster(t *testing.T) {
	adapter, s := setupAdapter(t)
	ctx := context.Background()

	watcher, err := adapter.Join(ctx, "file-1", "user-w", RoomOptions{})
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}
	defer watcher.Leave(ctx)

	// A session that died without leaving: entry already expired.
	dead, _ := json.Marshal(entry{
		Payload:   Payload{ID: "user-dead", Email: "dead@acme.dev"},
		SessionID: "dead-session",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	s.HSet(roomKey("file-1"), "dead-session", string(dead))

	live, err := adapter.Join(ctx, "file-1", "user-live", RoomOptions{})
	if err != nil {
		t.Fatalf("join live: %v", err)
	}
	defer live.Leave(ctx)
	if err := live.Track(ctx, Payload{ID: "user-live", Email: "live@acme.dev"}); err != nil {
		t.Fatalf("track live: %v", err)
	}

	waitForRoster(t, watcher, "user-live")
}

func TestLeaveIsIdempotentAndRemovesEntry(t *testing.T) {
	adapter, s := setupAdapter(t)
	ctx := context.Background()

	room, err := adapter.Join(ctx, "file-1", "user-a", RoomOptions{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := room.Track(ctx, Payload{ID: "user-a", Email: "alice@acme.dev"}); err != nil {
		t.Fatalf("track: %v", err)
	}

	if err := room.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := room.Leave(ctx); err != nil {
		t.Fatalf("second leave: %v", err)
	}

	fields, err := s.HKeys(roomKey("file-1"))
	if err != nil && err != miniredis.ErrKeyNotFound {
		t.Fatalf("inspect room hash: %v", err)
	}
	if len(fields) != 0 {
		t.Fatalf("room hash still has %v after leave", fields)
	}
}

func TestLabelUsesEmailLocalPart(t *testing.T) {
	cases := []struct{ in, want string }{
		{"alice@acme.dev", "alice"},
		{"bob", "bob"},
		{"c@d@e", "c"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Label(tc.in); got != tc.want {
			t.Errorf("Label(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRosterSyncDeliversFullState(t *testing.T) {
	adapter, _ := setupAdapter(t)
	ctx := context.Background()

	var mu sync.Mutex
	var syncs [][]string
	room, err := adapter.Join(ctx, "file-1", "user-w", RoomOptions{
		OnSync: func(roster []Collaborator) {
			ids := make([]string, 0, len(roster))
			for _, collaborator := range roster {
				ids = append(ids, collaborator.ID)
			}
			mu.Lock()
			syncs = append(syncs, ids)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer room.Leave(ctx)

	peer, err := adapter.Join(ctx, "file-1", "user-a", RoomOptions{})
	if err != nil {
		t.Fatalf("join peer: %v", err)
	}
	defer peer.Leave(ctx)
	if err := peer.Track(ctx, Payload{ID: "user-a", Email: "a@acme.dev"}); err != nil {
		t.Fatalf("track: %v", err)
	}
	waitForRoster(t, room, "user-a")

	mu.Lock()
	defer mu.Unlock()
	if len(syncs) == 0 {
		t.Fatal("no sync callbacks delivered")
	}
	last := syncs[len(syncs)-1]
	if fmt.Sprint(last) != fmt.Sprint([]string{"user-a"}) {
		t.Fatalf("last sync = %v, want [user-a]", last)
	}
}
