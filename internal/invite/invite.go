// Package invite tracks pending direct challenges between two known
// users. Every invite is a tiny state machine: pending until exactly one
// of accept, decline, or expiry wins.
package invite

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pongd/internal/engine"
	"pongd/internal/protocol"
	"pongd/internal/session"
)

var (
	// ErrInviteExists marks a duplicate request for a pair that already
	// has a pending invite; the original keeps its expiry.
	ErrInviteExists = eris.New("invite already pending for this pair")

	// ErrInviteExpired covers every accept/cancel that finds no live
	// invite: it expired, was already resolved, or never existed.
	ErrInviteExpired = eris.New("no pending invite")

	// ErrNotOnline means a party's connection is gone at accept time.
	ErrNotOnline = eris.New("user is not online")
)

// Roster is the online-user directory: it delivers invite events and
// locates the parties' connections when an invite converts to a session.
// Delivery to an offline user is a no-op.
type Roster interface {
	Notify(userIDs []string, msgType string, payload any)
	Member(userID string) (name string, conn session.Conn, ok bool)
}

// Sessions is the slice of the registry the scheduler needs.
type Sessions interface {
	Create(mode session.Mode, participants []session.Participant) (*session.Session, error)
}

type inviteState int

const (
	statePending inviteState = iota
	stateAccepted
	stateExpired
	stateDeclined
)

type invite struct {
	from      string
	to        string
	createdAt time.Time
	expiresAt time.Time
	timer     *time.Timer
	state     inviteState
}

// Scheduler owns the invite map; one invite may exist per unordered pair.
type Scheduler struct {
	mu      sync.Mutex
	invites map[string]*invite

	sessions Sessions
	roster   Roster
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(ttl time.Duration, sessions Sessions, roster Roster, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		invites:  make(map[string]*invite),
		sessions: sessions,
		roster:   roster,
		ttl:      ttl,
		log:      log.With().Str("component", "invite").Logger(),
		now:      time.Now,
	}
}

// pairKey derives the canonical unordered key for two user ids.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Create records a new invite with a fixed TTL and notifies both parties.
// A second request while one is pending reports ErrInviteExists without
// touching the original timer.
func (s *Scheduler) Create(from, to string) error {
	if from == to || from == "" || to == "" {
		return eris.Errorf("invalid invite pair %q -> %q", from, to)
	}
	key := pairKey(from, to)

	s.mu.Lock()
	if inv, ok := s.invites[key]; ok && inv.state == statePending {
		s.mu.Unlock()
		return eris.Wrapf(ErrInviteExists, "%s and %s", from, to)
	}

	now := s.now()
	inv := &invite{
		from:      from,
		to:        to,
		createdAt: now,
		expiresAt: now.Add(s.ttl),
		state:     statePending,
	}
	inv.timer = time.AfterFunc(s.ttl, func() { s.expire(key) })
	s.invites[key] = inv
	s.mu.Unlock()

	s.log.Info().Str("from", from).Str("to", to).Time("expires", inv.expiresAt).Msg("invite created")
	s.roster.Notify([]string{from, to}, protocol.TypeInvite, protocol.Invite{
		From:      from,
		To:        to,
		CreatedAt: inv.createdAt.UnixMilli(),
		ExpiresAt: inv.expiresAt.UnixMilli(),
	})
	return nil
}

// expire is the timer callback. It transitions pending -> expired; if
// accept or decline already won, it does nothing.
func (s *Scheduler) expire(key string) {
	s.mu.Lock()
	inv, ok := s.invites[key]
	if !ok || inv.state != statePending {
		s.mu.Unlock()
		return
	}
	inv.state = stateExpired
	delete(s.invites, key)
	s.mu.Unlock()

	s.log.Info().Str("from", inv.from).Str("to", inv.to).Msg("invite expired")
	s.roster.Notify([]string{inv.from, inv.to}, protocol.TypeInviteExpired, protocol.InvitePair{
		From: inv.from,
		To:   inv.to,
	})
}

// Accept converts the invite into a session. Only the invited party may
// accept. A race with expiry resolves to whichever transition ran first;
// the loser sees a clean failure, never a dangling session.
func (s *Scheduler) Accept(accepter, inviter string) (*session.Session, error) {
	key := pairKey(accepter, inviter)

	s.mu.Lock()
	inv, ok := s.invites[key]
	if !ok || inv.state != statePending || inv.to != accepter {
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrInviteExpired, "%s and %s", inviter, accepter)
	}
	inv.state = stateAccepted
	inv.timer.Stop()
	delete(s.invites, key)
	s.mu.Unlock()

	fromName, fromConn, ok := s.roster.Member(inv.from)
	if !ok {
		return nil, eris.Wrapf(ErrNotOnline, "user %s", inv.from)
	}
	toName, toConn, ok := s.roster.Member(inv.to)
	if !ok {
		return nil, eris.Wrapf(ErrNotOnline, "user %s", inv.to)
	}

	sess, err := s.sessions.Create(session.ModeInvite, []session.Participant{
		{Side: engine.Left, UserID: inv.from, Name: fromName, Conn: fromConn},
		{Side: engine.Right, UserID: inv.to, Name: toName, Conn: toConn},
	})
	if err != nil {
		return nil, eris.Wrap(err, "convert invite to session")
	}
	s.log.Info().Str("from", inv.from).Str("to", inv.to).Str("session", sess.ID).Msg("invite accepted")
	return sess, nil
}

// Cancel withdraws (inviter) or declines (invitee) a pending invite and
// tells the other party.
func (s *Scheduler) Cancel(by, other string) error {
	key := pairKey(by, other)

	s.mu.Lock()
	inv, ok := s.invites[key]
	if !ok || inv.state != statePending || (inv.from != by && inv.to != by) {
		s.mu.Unlock()
		return eris.Wrapf(ErrInviteExpired, "%s and %s", by, other)
	}
	inv.state = stateDeclined
	inv.timer.Stop()
	delete(s.invites, key)
	s.mu.Unlock()

	s.log.Info().Str("by", by).Str("from", inv.from).Str("to", inv.to).Msg("invite cancelled")
	s.roster.Notify([]string{other}, protocol.TypeInviteDeclined, protocol.InvitePair{
		From: inv.from,
		To:   inv.to,
	})
	return nil
}

// Pending reports the live invite for a pair, if any.
func (s *Scheduler) Pending(a, b string) (protocol.Invite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[pairKey(a, b)]
	if !ok || inv.state != statePending {
		return protocol.Invite{}, false
	}
	return protocol.Invite{
		From:      inv.from,
		To:        inv.to,
		CreatedAt: inv.createdAt.UnixMilli(),
		ExpiresAt: inv.expiresAt.UnixMilli(),
	}, true
}

// CancelAllFor drops every pending invite involving the user, used when
// they disconnect from the lobby.
func (s *Scheduler) CancelAllFor(userID string) {
	s.mu.Lock()
	var dropped []*invite
	for key, inv := range s.invites {
		if inv.state != statePending {
			continue
		}
		if inv.from == userID || inv.to == userID {
			inv.state = stateDeclined
			inv.timer.Stop()
			delete(s.invites, key)
			dropped = append(dropped, inv)
		}
	}
	s.mu.Unlock()

	for _, inv := range dropped {
		other := inv.from
		if other == userID {
			other = inv.to
		}
		s.roster.Notify([]string{other}, protocol.TypeInviteDeclined, protocol.InvitePair{
			From: inv.from,
			To:   inv.to,
		})
	}
}
