// Package lobby tracks the authenticated connections that are currently
// online and delivers targeted notifications to them. It is the presence
// directory the invite scheduler consults.
package lobby

import (
	"sync"

	"github.com/rs/zerolog"

	"pongd/internal/protocol"
	"pongd/internal/session"
)

type member struct {
	userID string
	name   string
	conn   session.Conn
}

type Lobby struct {
	members sync.Map // userID -> *member
	log     zerolog.Logger
}

func New(log zerolog.Logger) *Lobby {
	return &Lobby{log: log.With().Str("component", "lobby").Logger()}
}

// Register makes the user reachable for notifications. A second login for
// the same user replaces the old connection and closes it.
func (l *Lobby) Register(userID, name string, conn session.Conn) {
	prev, loaded := l.members.Swap(userID, &member{userID: userID, name: name, conn: conn})
	if loaded {
		_ = prev.(*member).conn.Close()
		l.log.Info().Str("user", userID).Msg("replaced existing lobby connection")
	}
}

// Unregister drops the user, but only if the given connection is still the
// registered one, so a reconnect is not torn down by the stale socket's
// close handler. It reports whether it removed the registration; a false
// return tells the caller the rest of its cleanup belongs to the fresh
// connection.
func (l *Lobby) Unregister(userID string, conn session.Conn) bool {
	if cur, ok := l.members.Load(userID); ok && cur.(*member).conn == conn {
		l.members.Delete(userID)
		return true
	}
	return false
}

// Member returns the display name and connection of an online user.
func (l *Lobby) Member(userID string) (string, session.Conn, bool) {
	v, ok := l.members.Load(userID)
	if !ok {
		return "", nil, false
	}
	m := v.(*member)
	return m.name, m.conn, true
}

// Online reports whether the user has a live lobby connection.
func (l *Lobby) Online(userID string) bool {
	_, ok := l.members.Load(userID)
	return ok
}

// Notify marshals the payload once and delivers it to each listed user.
// Offline targets are skipped.
func (l *Lobby) Notify(userIDs []string, msgType string, payload any) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		l.log.Error().Err(err).Str("type", msgType).Msg("marshal notification")
		return
	}
	for _, id := range userIDs {
		v, ok := l.members.Load(id)
		if !ok {
			continue
		}
		if err := v.(*member).conn.Send(data); err != nil {
			l.log.Debug().Err(err).Str("user", id).Msg("notification send failed")
		}
	}
}
