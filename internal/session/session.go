// Package session owns running matches: each Session drives one engine on
// its own timer and broadcasts snapshots, and the Registry is the single
// authority mapping sessions and participants to live matches.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pongd/internal/engine"
	"pongd/internal/protocol"
)

type Mode string

const (
	ModeLocal  Mode = "local"  // self-pair, one viewer drives both paddles
	ModeRanked Mode = "ranked" // formed by the matchmaking queue
	ModeInvite Mode = "invite" // formed by an accepted invite
)

// Conn is the narrow connection handle the session layer needs. The
// gateway provides websocket-backed implementations.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Participant binds one paddle slot to a connection.
type Participant struct {
	Side   engine.Side
	UserID string // empty for local participants
	Name   string
	Conn   Conn
}

// PlayerRef names a paddle either by side (local sessions) or by user id
// (identity-tracked sessions). The resolution strategy is fixed per
// session at creation; a ref of the wrong kind is silently ignored.
type PlayerRef struct {
	bySide bool
	side   engine.Side
	userID string
}

func BySide(s engine.Side) PlayerRef { return PlayerRef{bySide: true, side: s} }

func ByUserID(id string) PlayerRef { return PlayerRef{userID: id} }

// Session runs one match to completion.
type Session struct {
	ID   string
	Mode Mode

	mu           sync.Mutex
	eng          *engine.Engine
	participants []Participant
	byUser       map[string]engine.Side
	conns        []Conn

	tickEvery time.Duration
	quit      chan struct{}
	finished  sync.Once
	onEnd     func(*Session, engine.Result)
	log       zerolog.Logger
}

func newSession(id string, mode Mode, eng *engine.Engine, tickEvery time.Duration, onEnd func(*Session, engine.Result), log zerolog.Logger) *Session {
	return &Session{
		ID:        id,
		Mode:      mode,
		eng:       eng,
		byUser:    make(map[string]engine.Side),
		tickEvery: tickEvery,
		quit:      make(chan struct{}),
		onEnd:     onEnd,
		log:       log.With().Str("session", id).Str("mode", string(mode)).Logger(),
	}
}

// AddParticipant binds a paddle to a connection. In local mode both sides
// may share one connection; the broadcast still goes out once per conn.
func (s *Session) AddParticipant(p Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participants = append(s.participants, p)
	s.eng.BindPlayer(p.Side, p.UserID, p.Name)
	if p.UserID != "" {
		s.byUser[p.UserID] = p.Side
	}

	for _, c := range s.conns {
		if c == p.Conn {
			return
		}
	}
	s.conns = append(s.conns, p.Conn)
}

// HasConn reports whether the connection carries this session. Cleanup
// paths use it so only the socket a session was created with can trigger a
// forfeit.
func (s *Session) HasConn(c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cc := range s.conns {
		if cc == c {
			return true
		}
	}
	return false
}

// Start launches the tick loop.
func (s *Session) Start() {
	go s.run()
}

func (s *Session) run() {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			res := s.eng.Tick()
			snap := s.eng.Snapshot()
			s.mu.Unlock()

			// Broadcast happens outside the lock: a slow peer must not
			// stall move handling, and staleness stays bounded because the
			// push is unconditional, countdown included.
			s.broadcast(snap)

			if res != nil {
				s.finish(*res)
				return
			}
		}
	}
}

func (s *Session) broadcast(snap engine.Snapshot) {
	data, err := protocol.Marshal(protocol.TypeState, protocol.State{
		Tick:      snap.Tick,
		Countdown: snap.Countdown,
		Ball:      protocol.BallState{X: snap.Ball.Pos.X, Y: snap.Ball.Pos.Y, VX: snap.Ball.Vel.X, VY: snap.Ball.Vel.Y},
		Left:      protocol.PaddleState{Name: snap.Left.Name, Y: snap.Left.Y, Score: snap.Left.Score},
		Right:     protocol.PaddleState{Name: snap.Right.Name, Y: snap.Right.Y, Score: snap.Right.Score},
	})
	if err != nil {
		s.log.Error().Err(err).Msg("marshal state broadcast")
		return
	}

	s.mu.Lock()
	conns := make([]Conn, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(data); err != nil {
			// The read loop notices the broken peer and routes the close
			// through Forfeit; dropping the frame here is enough.
			s.log.Debug().Err(err).Msg("dropping state frame")
		}
	}
}

// HandleMove resolves the ref to a paddle and forwards the move. Unknown
// identifiers and refs of the wrong kind for this session are ignored, as
// is a move rejected by the engine's rate limit.
func (s *Session) HandleMove(ref PlayerRef, dir engine.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var side engine.Side
	switch {
	case ref.bySide:
		if s.Mode != ModeLocal {
			return
		}
		side = ref.side
	default:
		sd, ok := s.byUser[ref.userID]
		if !ok {
			return
		}
		side = sd
	}
	s.eng.MovePaddle(side, dir)
}

// Forfeit ends the session because the named participant left. The
// remaining participant wins with the scores as they stand.
func (s *Session) Forfeit(userID string) {
	s.mu.Lock()
	side, ok := s.byUser[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	snap := s.eng.Snapshot()
	s.mu.Unlock()

	s.finish(engine.Result{
		Reason: "forfeit",
		Winner: sideView(snap, side.Other()),
		Loser:  sideView(snap, side),
	})
}

// Shutdown ends the session for an external reason (inactivity, process
// stop). The current leader is recorded as the winner; no rating result is
// reported for this reason.
func (s *Session) Shutdown(reason string) {
	s.mu.Lock()
	snap := s.eng.Snapshot()
	s.mu.Unlock()

	winner, loser := sideView(snap, engine.Left), sideView(snap, engine.Right)
	if loser.Score > winner.Score {
		winner, loser = loser, winner
	}
	s.finish(engine.Result{Reason: reason, Winner: winner, Loser: loser})
}

// finish is the single termination path. Safe to call concurrently with an
// in-flight tick and from multiple triggers; only the first caller runs.
func (s *Session) finish(res engine.Result) {
	s.finished.Do(func() {
		close(s.quit)

		data, err := protocol.Marshal(protocol.TypeGameOver, protocol.GameOver{
			Reason: res.Reason,
			Winner: displayName(res.Winner),
			Loser:  displayName(res.Loser),
			Score:  [2]int{res.Winner.Score, res.Loser.Score},
		})
		if err != nil {
			s.log.Error().Err(err).Msg("marshal gameover")
		}

		s.mu.Lock()
		conns := make([]Conn, len(s.conns))
		copy(conns, s.conns)
		s.mu.Unlock()

		for _, c := range conns {
			if data != nil {
				_ = c.Send(data)
			}
			_ = c.Close()
		}

		s.log.Info().Str("reason", res.Reason).Str("winner", displayName(res.Winner)).Msg("session ended")
		if s.onEnd != nil {
			s.onEnd(s, res)
		}
	})
}

func sideView(snap engine.Snapshot, side engine.Side) engine.PaddleView {
	if side == engine.Left {
		return snap.Left
	}
	return snap.Right
}

func displayName(v engine.PaddleView) string {
	if v.Name != "" {
		return v.Name
	}
	return v.UserID
}
