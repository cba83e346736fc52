package production

import (
	"context"
	"log"
	"sync"
	"time"

	"fournil/backend/internal/domain"
)

// Subscriber delivers stored program snapshots for a date range.
type Subscriber interface {
	Subscribe(ctx context.Context, from string, to string) (<-chan domain.ProductionProgram, error)
}

// Event reports what replaced the local state of a session, or why a
// background write failed.
type Event struct {
	Program domain.ProductionProgram
	Source  string
	Err     error
}

const (
	EventSourceLocal  = "local"
	EventSourceReload = "reload"
	EventSourceLive   = "live"
)

// Session is an operator's optimistic view of one program. Edits apply to the
// local copy at once; persistence runs in the background and the stored
// document replaces the local copy when it comes back. A live snapshot may
// overwrite local state at any time, so the last arrival wins.
type Session struct {
	manager *Manager
	date    string
	notify  func(Event)
	now     func() time.Time

	mu    sync.Mutex
	local domain.ProductionProgram
	wg    sync.WaitGroup
}

func OpenSession(ctx context.Context, manager *Manager, date string, notify func(Event)) (*Session, error) {
	program, err := manager.Program(ctx, date)
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func(Event) {}
	}
	return &Session{manager: manager, date: date, notify: notify, now: manager.now, local: *program}, nil
}

// Snapshot returns a copy of the current local state.
func (s *Session) Snapshot() domain.ProductionProgram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.Clone()
}

// Do applies cmd locally and schedules the background write. Only validation
// errors are returned; write failures arrive as events.
func (s *Session) Do(ctx context.Context, cmd Command) error {
	catalog, err := s.manager.catalog.Catalog(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	next := s.local.Clone()
	if err := cmd.Apply(&next, catalog, s.now()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.local = next
	snapshot := next.Clone()
	s.mu.Unlock()
	s.notify(Event{Program: snapshot, Source: EventSourceLocal})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.persist(context.WithoutCancel(ctx), snapshot)
	}()
	return nil
}

func (s *Session) persist(ctx context.Context, snapshot domain.ProductionProgram) {
	if _, err := s.manager.Replace(ctx, snapshot); err != nil {
		log.Printf("[session] WARN: persist program date=%s: %v", s.date, err)
		s.notify(Event{Program: snapshot, Source: EventSourceLocal, Err: err})
		return
	}
	reloaded, err := s.manager.programs.GetProgram(ctx, s.date)
	if err != nil {
		log.Printf("[session] WARN: reload program date=%s: %v", s.date, err)
		s.notify(Event{Program: snapshot, Source: EventSourceReload, Err: err})
		return
	}
	s.replace(*reloaded, EventSourceReload)
}

// Watch applies live snapshots of the session's date until ctx ends.
func (s *Session) Watch(ctx context.Context, sub Subscriber) error {
	updates, err := sub.Subscribe(ctx, s.date, s.date)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case program, ok := <-updates:
				if !ok {
					return
				}
				if program.Date == s.date {
					s.replace(program, EventSourceLive)
				}
			}
		}
	}()
	return nil
}

// Wait blocks until background writes and watchers have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) replace(program domain.ProductionProgram, source string) {
	s.mu.Lock()
	s.local = program.Clone()
	snapshot := s.local.Clone()
	s.mu.Unlock()
	s.notify(Event{Program: snapshot, Source: source})
}
