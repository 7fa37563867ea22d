// Package matchmaking pairs anonymous ranked entrants by rating proximity.
// Tickets wait in a queue; every pass widens each ticket's acceptable
// rating distance with its wait time so nobody starves.
package matchmaking

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pongd/internal/engine"
	"pongd/internal/protocol"
	"pongd/internal/session"
)

// ErrAlreadyQueued marks a duplicate join; re-sending the join request is
// routine, not a failure.
var ErrAlreadyQueued = eris.New("user already queued")

// Ratings reads a player's current skill rating from the external
// persistence collaborator. An error means "no rating on file" and falls
// back to the configured baseline.
type Ratings interface {
	Rating(userID string) (int, error)
}

// Baseline is a Ratings that answers the same value for everyone, used
// when no rating store is wired in.
type Baseline struct {
	Value int
}

func (b Baseline) Rating(string) (int, error) { return b.Value, nil }

// Sessions is the slice of the registry the scheduler needs.
type Sessions interface {
	Create(mode session.Mode, participants []session.Participant) (*session.Session, error)
	InSession(userID string) bool
}

type Config struct {
	InitialRange   int
	WidenStep      int
	MaxRange       int
	WidenInterval  time.Duration
	PassInterval   time.Duration
	BaselineRating int
}

type ticket struct {
	userID     string
	name       string
	conn       session.Conn
	rating     int
	enqueuedAt time.Time
}

// Scheduler owns the waiting queue. All mutation goes through its methods.
type Scheduler struct {
	mu    sync.Mutex
	queue []*ticket

	sessions Sessions
	ratings  Ratings
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(cfg Config, sessions Sessions, ratings Ratings, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		sessions: sessions,
		ratings:  ratings,
		cfg:      cfg,
		log:      log.With().Str("component", "matchmaking").Logger(),
		now:      time.Now,
	}
}

// Enqueue adds a waiting ticket and immediately attempts a pairing pass.
// Joining twice, or while already in a match, is rejected but routine.
func (s *Scheduler) Enqueue(userID, name string, conn session.Conn) error {
	if s.sessions.InSession(userID) {
		return eris.Wrapf(session.ErrAlreadyInSession, "user %s", userID)
	}

	// Rating lookup may hit external storage; never do it under the queue
	// lock.
	rating, err := s.ratings.Rating(userID)
	if err != nil {
		rating = s.cfg.BaselineRating
	}

	s.mu.Lock()
	for _, t := range s.queue {
		if t.userID == userID {
			s.mu.Unlock()
			return eris.Wrapf(ErrAlreadyQueued, "user %s", userID)
		}
	}
	s.queue = append(s.queue, &ticket{
		userID:     userID,
		name:       name,
		conn:       conn,
		rating:     rating,
		enqueuedAt: s.now(),
	})
	s.mu.Unlock()

	s.log.Info().Str("user", userID).Int("rating", rating).Msg("queued for ranked match")
	s.Pass()
	return nil
}

// Remove deletes a ticket without side effects (disconnect while queued).
func (s *Scheduler) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.queue {
		if t.userID == userID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Run drives the periodic pairing pass until stop closes.
func (s *Scheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PassInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Pass()
		}
	}
}

// Pass walks the queue in order. Each unmatched ticket scans all later
// unmatched tickets for the smallest rating difference inside its current
// tolerance; pairs are removed in one batch and everyone left gets a
// queue-position update.
func (s *Scheduler) Pass() {
	now := s.now()

	s.mu.Lock()
	paired := make(map[int]bool)
	var matches [][2]*ticket
	for i, a := range s.queue {
		if paired[i] {
			continue
		}
		tol := s.tolerance(now.Sub(a.enqueuedAt))
		best := -1
		bestDiff := 0
		for j := i + 1; j < len(s.queue); j++ {
			if paired[j] {
				continue
			}
			diff := a.rating - s.queue[j].rating
			if diff < 0 {
				diff = -diff
			}
			if diff <= tol && (best < 0 || diff < bestDiff) {
				best, bestDiff = j, diff
			}
		}
		if best >= 0 {
			paired[i], paired[best] = true, true
			matches = append(matches, [2]*ticket{a, s.queue[best]})
		}
	}

	if len(paired) > 0 {
		remaining := s.queue[:0]
		for i, t := range s.queue {
			if !paired[i] {
				remaining = append(remaining, t)
			}
		}
		s.queue = remaining
	}
	waiting := make([]*ticket, len(s.queue))
	copy(waiting, s.queue)
	s.mu.Unlock()

	for _, m := range matches {
		s.startMatch(m[0], m[1])
	}
	for i, t := range waiting {
		if data, err := protocol.Marshal(protocol.TypeWaiting, protocol.Waiting{Position: i + 1}); err == nil {
			_ = t.conn.Send(data)
		}
	}
}

// tolerance widens with wait time and is capped, so it is non-decreasing
// and bounded.
func (s *Scheduler) tolerance(wait time.Duration) int {
	steps := 0
	if s.cfg.WidenInterval > 0 {
		steps = int(wait / s.cfg.WidenInterval)
	}
	tol := s.cfg.InitialRange + s.cfg.WidenStep*steps
	if tol > s.cfg.MaxRange {
		tol = s.cfg.MaxRange
	}
	return tol
}

func (s *Scheduler) startMatch(a, b *ticket) {
	_, err := s.sessions.Create(session.ModeRanked, []session.Participant{
		{Side: engine.Left, UserID: a.userID, Name: a.name, Conn: a.conn},
		{Side: engine.Right, UserID: b.userID, Name: b.name, Conn: b.conn},
	})
	if err == nil {
		s.log.Info().Str("left", a.userID).Str("right", b.userID).
			Int("diff", absDiff(a.rating, b.rating)).Msg("ranked match created")
		return
	}

	// A ticket can lose the race against an invite session formed after it
	// queued. Drop whoever is busy and put the other back with their
	// original wait time.
	s.log.Warn().Err(err).Msg("ranked session create failed")
	for _, t := range [2]*ticket{a, b} {
		if s.sessions.InSession(t.userID) {
			if data, merr := protocol.Marshal(protocol.TypeError, protocol.Error{
				Reason: protocol.ReasonAlreadyInMatch,
			}); merr == nil {
				_ = t.conn.Send(data)
			}
			continue
		}
		s.requeue(t)
	}
}

func (s *Scheduler) requeue(t *ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queue {
		if q.userID == t.userID {
			return
		}
	}
	s.queue = append(s.queue, t)
}

// Len reports the number of waiting tickets.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
