package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const debounce = 30 * time.Millisecond

// recorder collects the values flushed by writes.
type recorder struct {
	mu     sync.Mutex
	values []string
	wrote  chan string
}

func newRecorder() *recorder {
	return &recorder{wrote: make(chan string, 16)}
}

func (r *recorder) write(value string) WriteFunc {
	return func(context.Context) error {
		r.mu.Lock()
		r.values = append(r.values, value)
		r.mu.Unlock()
		r.wrote <- value
		return nil
	}
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func awaitWrite(t *testing.T, r *recorder) string {
	t.Helper()
	select {
	case v := <-r.wrote:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a durable write")
		return ""
	}
}

func awaitStatus(t *testing.T, s *Scheduler, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", s.Status(), want)
}

func TestBurstCoalescesIntoOneWriteWithLastValue(t *testing.T) {
	r := newRecorder()
	s := NewScheduler(debounce, nil)
	defer s.Close()

	// Three edits inside one quiet window: t, t+eps, t+2*eps.
	s.Schedule(r.write("H"))
	time.Sleep(debounce / 4)
	s.Schedule(r.write("He"))
	time.Sleep(debounce / 4)
	s.Schedule(r.write("Hello"))

	if got := awaitWrite(t, r); got != "Hello" {
		t.Fatalf("flushed %q, want the last edit %q", got, "Hello")
	}
	awaitStatus(t, s, Idle)

	if all := r.all(); len(all) != 1 {
		t.Fatalf("issued %d writes %v, want exactly 1", len(all), all)
	}
}

func TestEditWhileSavingQueuesOneMoreCycle(t *testing.T) {
	r := newRecorder()
	release := make(chan struct{})
	started := make(chan struct{})
	s := NewScheduler(debounce, nil)
	defer s.Close()

	s.Schedule(func(ctx context.Context) error {
		close(started)
		<-release
		return r.write("first")(ctx)
	})

	<-started // write is in flight
	s.Schedule(r.write("second"))
	if got := s.Status(); got != Saving {
		t.Fatalf("status while write in flight = %v, want Saving", got)
	}
	close(release)

	if got := awaitWrite(t, r); got != "first" {
		t.Fatalf("first flush = %q", got)
	}
	if got := awaitWrite(t, r); got != "second" {
		t.Fatalf("queued flush = %q, want %q", got, "second")
	}
	awaitStatus(t, s, Idle)
}

func TestFailedWriteRetriesWithPayloadRetained(t *testing.T) {
	r := newRecorder()
	var attempts int
	var mu sync.Mutex
	s := NewScheduler(debounce, nil)
	defer s.Close()

	s.Schedule(func(ctx context.Context) error {
		mu.Lock()
		attempts++
		failing := attempts == 1
		mu.Unlock()
		if failing {
			return errors.New("durable store unavailable")
		}
		return r.write("kept")(ctx)
	})

	if got := awaitWrite(t, r); got != "kept" {
		t.Fatalf("retried flush = %q", got)
	}
	awaitStatus(t, s, Idle)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (one failure, one retry)", attempts)
	}
}

func TestStatusTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	r := newRecorder()
	s := NewScheduler(debounce, func(status Status) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})
	defer s.Close()

	s.Schedule(r.write("x"))
	awaitWrite(t, r)
	awaitStatus(t, s, Idle)

	// The Idle notification lands just after the status flips; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{Pending, Saving, Idle}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestCloseCancelsArmedTimer(t *testing.T) {
	r := newRecorder()
	s := NewScheduler(debounce, nil)

	s.Schedule(r.write("abandoned"))
	s.Close()

	select {
	case v := <-r.wrote:
		t.Fatalf("write %q fired after Close", v)
	case <-time.After(3 * debounce):
	}
	if len(r.all()) != 0 {
		t.Fatal("abandoned timer issued a write")
	}
}

func TestScheduleAfterCloseIsNoOp(t *testing.T) {
	r := newRecorder()
	s := NewScheduler(debounce, nil)
	s.Close()

	s.Schedule(r.write("late"))
	select {
	case <-r.wrote:
		t.Fatal("write issued after Close")
	case <-time.After(3 * debounce):
	}
}

func TestFlushSkipsQuietWindow(t *testing.T) {
	r := newRecorder()
	s := NewScheduler(time.Hour, nil) // window long enough to never fire on its own
	defer s.Close()

	s.Schedule(r.write("now"))
	s.Flush()

	if got := awaitWrite(t, r); got != "now" {
		t.Fatalf("flush wrote %q", got)
	}
	awaitStatus(t, s, Idle)
}
