// Package autosave debounces field-level edits into durable writes. One
// Scheduler belongs to one entity; edits arriving inside the quiet window
// coalesce into a single write carrying the latest value.
package autosave

import (
	"context"
	"log"
	"sync"
	"time"
)

// Status is the saving signal exposed to UIs: Idle (everything persisted),
// Pending (an edit is waiting on the debounce timer), Saving (a write is in
// flight).
type Status int

const (
	Idle Status = iota
	Pending
	Saving
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Saving:
		return "saving"
	default:
		return "idle"
	}
}

// WriteFunc performs the durable write for the edit that armed the timer.
type WriteFunc func(ctx context.Context) error

// Scheduler is the per-entity debounce state machine
// Idle -> Pending -> Saving -> Idle. A new edit while Pending resets the
// timer; a new edit while Saving is queued and runs one more cycle after
// the in-flight write resolves, so two writes for the same entity never
// overlap. A failed write falls back to Pending with the payload retained
// and the timer re-armed.
type Scheduler struct {
	delay    time.Duration
	onStatus func(Status)

	mu     sync.Mutex
	status Status
	timer  *time.Timer
	write  WriteFunc // latest edit's write; overwritten on every edit
	queued bool      // edit arrived while Saving
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler with the given quiet window. onStatus
// may be nil; when set it is called outside the scheduler lock on every
// status transition.
func NewScheduler(delay time.Duration, onStatus func(Status)) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		delay:    delay,
		onStatus: onStatus,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule records an edit. The supplied write replaces any not-yet-flushed
// one, so a burst of edits issues exactly one write with the last value.
func (s *Scheduler) Schedule(write WriteFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.write = write

	switch s.status {
	case Saving:
		// The in-flight write carries an older value; run another
		// Pending->Saving cycle once it resolves.
		s.queued = true
		s.mu.Unlock()
		return
	case Pending:
		s.timer.Reset(s.delay)
		s.mu.Unlock()
		return
	}

	s.status = Pending
	s.timer = time.AfterFunc(s.delay, s.fire)
	s.mu.Unlock()
	s.notify(Pending)
}

// Status returns the current saving signal.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Flush runs a pending write immediately instead of waiting out the quiet
// window. No-op unless the scheduler is Pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.closed || s.status != Pending {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.fire()
}

// Close cancels the debounce timer and any in-flight write and waits for
// the writer goroutine to finish. An abandoned timer never fires a write
// after its owner is gone.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.closed || s.status != Pending {
		s.mu.Unlock()
		return
	}
	s.status = Saving
	write := s.write
	s.wg.Add(1)
	s.mu.Unlock()
	s.notify(Saving)

	go func() {
		defer s.wg.Done()
		err := write(s.ctx)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		switch {
		case err != nil:
			// Keep the payload and retry after another quiet window;
			// the optimistic local value is never rolled back.
			log.Printf("autosave: write failed, retrying: %v", err)
			s.status = Pending
			s.timer = time.AfterFunc(s.delay, s.fire)
			s.mu.Unlock()
			s.notify(Pending)
		case s.queued:
			s.queued = false
			s.status = Pending
			s.timer = time.AfterFunc(s.delay, s.fire)
			s.mu.Unlock()
			s.notify(Pending)
		default:
			s.status = Idle
			s.mu.Unlock()
			s.notify(Idle)
		}
	}()
}

func (s *Scheduler) notify(status Status) {
	if s.onStatus != nil {
		s.onStatus(status)
	}
}
