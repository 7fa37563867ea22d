package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pongd/internal/engine"
)

// ErrAlreadyInSession is returned when a participant already has a live
// session; one identifier never holds two matches at once.
var ErrAlreadyInSession = eris.New("participant already in a session")

// Results records finished matches. Implementations talk to the external
// persistence collaborator; the registry treats the call as
// fire-and-forget.
type Results interface {
	ReportMatchResult(winnerID, loserID string, scoreWinner, scoreLoser int) error
}

// Registry is the authoritative map from session id to Session and from
// participant id to their current session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byPlayer map[string]*Session

	params  engine.Params
	results Results
	log     zerolog.Logger
}

func NewRegistry(params engine.Params, results Results, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byPlayer: make(map[string]*Session),
		params:   params,
		results:  results,
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// Create builds a session for the given participants and starts its tick
// loop. It fails with ErrAlreadyInSession if any identified participant is
// already mapped to a live session.
func (r *Registry) Create(mode Mode, participants []Participant) (*Session, error) {
	if len(participants) == 0 || len(participants) > 2 {
		return nil, eris.Errorf("session needs one or two participants, got %d", len(participants))
	}

	r.mu.Lock()
	for _, p := range participants {
		if p.UserID == "" {
			continue
		}
		if _, ok := r.byPlayer[p.UserID]; ok {
			r.mu.Unlock()
			return nil, eris.Wrapf(ErrAlreadyInSession, "user %s", p.UserID)
		}
	}

	eng := engine.New(r.params)
	tickEvery := time.Second / time.Duration(r.params.TickRate)
	sess := newSession(uuid.NewString(), mode, eng, tickEvery, r.onSessionEnd, r.log)
	for _, p := range participants {
		sess.AddParticipant(p)
	}

	r.sessions[sess.ID] = sess
	for _, p := range participants {
		if p.UserID != "" {
			r.byPlayer[p.UserID] = sess
		}
	}
	r.mu.Unlock()

	r.log.Info().Str("session", sess.ID).Str("mode", string(mode)).Msg("session created")
	sess.Start()
	return sess, nil
}

// End removes all mappings for the session. Calling it again, or for an
// unknown id, is a no-op.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	for uid, s := range r.byPlayer {
		if s == sess {
			delete(r.byPlayer, uid)
		}
	}
}

// Lookup returns the live session a user is playing in, if any.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPlayer[userID]
	return s, ok
}

// InSession reports whether the user currently has a live session.
func (r *Registry) InSession(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Shutdown terminates every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Shutdown("shutdown")
	}
}

// onSessionEnd reports the result and evicts the session. Reporting is
// fire-and-forget: a storage failure is logged and never stalls teardown.
func (r *Registry) onSessionEnd(s *Session, res engine.Result) {
	if (res.Reason == "win" || res.Reason == "forfeit") && res.Winner.UserID != "" && res.Loser.UserID != "" {
		go func() {
			if err := r.results.ReportMatchResult(res.Winner.UserID, res.Loser.UserID, res.Winner.Score, res.Loser.Score); err != nil {
				r.log.Warn().Err(err).Str("session", s.ID).Msg("failed to report match result")
			}
		}()
	}
	r.End(s.ID)
}
