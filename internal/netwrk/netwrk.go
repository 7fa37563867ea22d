// Package netwrk is the websocket edge of the server. It upgrades incoming
// connections, resolves their identity, and routes decoded messages to the
// matchmaking, invite, and session layers.
package netwrk

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pongd/internal/engine"
	"pongd/internal/invite"
	"pongd/internal/lobby"
	"pongd/internal/matchmaking"
	"pongd/internal/protocol"
	"pongd/internal/session"
)

type Gateway struct {
	registry *session.Registry
	match    *matchmaking.Scheduler
	invites  *invite.Scheduler
	lobby    *lobby.Lobby
	identity Identity
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewGateway(registry *session.Registry, match *matchmaking.Scheduler, invites *invite.Scheduler, members *lobby.Lobby, identity Identity, log zerolog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		match:    match,
		invites:  invites,
		lobby:    members,
		identity: identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "netwrk").Logger(),
	}
}

// Routes returns the gateway's HTTP mux.
//
//	/ranked  join the anonymous ranked queue
//	/lobby   go online for direct invites
//	/local   practice session driving both paddles
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ranked", g.handleRanked)
	mux.HandleFunc("/lobby", g.handleLobby)
	mux.HandleFunc("/local", g.handleLocal)
	return mux
}

func (g *Gateway) upgrade(w http.ResponseWriter, r *http.Request) (string, string, *wsConn, bool) {
	userID, name, err := g.identity.Resolve(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return "", "", nil, false
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return "", "", nil, false
	}
	return userID, name, newWSConn(ws), true
}

// handleRanked puts the caller in the matchmaking queue and then relays
// paddle moves for whatever session they end up in. Disconnecting while
// queued removes the ticket; disconnecting mid-match forfeits.
func (g *Gateway) handleRanked(w http.ResponseWriter, r *http.Request) {
	userID, name, conn, ok := g.upgrade(w, r)
	if !ok {
		return
	}
	log := g.log.With().Str("user", userID).Logger()

	// A rejected enqueue closes this socket before any cleanup is armed:
	// the user's ticket or match belongs to another connection, and this
	// one must not be able to remove or forfeit it on close.
	if err := g.match.Enqueue(userID, name, conn); err != nil {
		g.sendError(conn, err)
		_ = conn.Close()
		return
	}

	defer func() {
		g.match.Remove(userID)
		if sess, ok := g.registry.Lookup(userID); ok && sess.HasConn(conn) {
			sess.Forfeit(userID)
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("ranked connection closed")
			return
		}
		msg, err := protocol.UnmarshalInbound(data)
		if err != nil {
			g.sendReason(conn, protocol.ReasonBadMessage, err.Error())
			continue
		}
		if mv, ok := msg.Payload.(*protocol.Move); ok && msg.Type == protocol.TypeMove {
			g.dispatchMove(userID, mv)
		}
	}
}

// handleLobby registers the caller as online and routes invite traffic.
// The same connection carries paddle moves once an invite converts to a
// session.
func (g *Gateway) handleLobby(w http.ResponseWriter, r *http.Request) {
	userID, name, conn, ok := g.upgrade(w, r)
	if !ok {
		return
	}
	log := g.log.With().Str("user", userID).Logger()

	g.lobby.Register(userID, name, conn)
	log.Info().Msg("joined lobby")

	defer func() {
		// Invites follow the registered lobby connection; a stale socket
		// that was already replaced must not cancel the fresh one's
		// invites. A match only forfeits if it runs on this socket, so
		// dropping the lobby never kills a game played elsewhere.
		if g.lobby.Unregister(userID, conn) {
			g.invites.CancelAllFor(userID)
		}
		if sess, ok := g.registry.Lookup(userID); ok && sess.HasConn(conn) {
			sess.Forfeit(userID)
		}
		_ = conn.Close()
		log.Info().Msg("left lobby")
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("lobby connection closed")
			return
		}
		msg, err := protocol.UnmarshalInbound(data)
		if err != nil {
			g.sendReason(conn, protocol.ReasonBadMessage, err.Error())
			continue
		}

		switch p := msg.Payload.(type) {
		case *protocol.InviteRequest:
			if !g.lobby.Online(p.To) {
				g.sendReason(conn, protocol.ReasonNotOnline, "user "+p.To+" is not online")
				continue
			}
			if err := g.invites.Create(userID, p.To); err != nil {
				g.sendError(conn, err)
			}
		case *protocol.AcceptRequest:
			if _, err := g.invites.Accept(userID, p.From); err != nil {
				g.sendError(conn, err)
			}
		case *protocol.CancelRequest:
			if err := g.invites.Cancel(userID, p.With); err != nil {
				g.sendError(conn, err)
			}
		case *protocol.Move:
			g.dispatchMove(userID, p)
		}
	}
}

// handleLocal starts a practice session where one connection drives both
// paddles by naming a side on each move.
func (g *Gateway) handleLocal(w http.ResponseWriter, r *http.Request) {
	userID, name, conn, ok := g.upgrade(w, r)
	if !ok {
		return
	}
	log := g.log.With().Str("user", userID).Logger()

	sess, err := g.registry.Create(session.ModeLocal, []session.Participant{
		{Side: engine.Left, UserID: userID, Name: name, Conn: conn},
		{Side: engine.Right, Name: name, Conn: conn},
	})
	if err != nil {
		g.sendError(conn, err)
		_ = conn.Close()
		return
	}

	defer func() {
		sess.Shutdown("disconnect")
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("local connection closed")
			return
		}
		msg, err := protocol.UnmarshalInbound(data)
		if err != nil {
			g.sendReason(conn, protocol.ReasonBadMessage, err.Error())
			continue
		}
		mv, ok := msg.Payload.(*protocol.Move)
		if !ok || msg.Type != protocol.TypeMove {
			continue
		}
		dir, ok := parseDirection(mv.Direction)
		if !ok {
			g.sendReason(conn, protocol.ReasonBadMessage, "unknown direction "+mv.Direction)
			continue
		}
		side := engine.Left
		if mv.Side == engine.Right.String() {
			side = engine.Right
		}
		sess.HandleMove(session.BySide(side), dir)
	}
}

func (g *Gateway) dispatchMove(userID string, mv *protocol.Move) {
	dir, ok := parseDirection(mv.Direction)
	if !ok {
		return
	}
	if sess, ok := g.registry.Lookup(userID); ok {
		sess.HandleMove(session.ByUserID(userID), dir)
	}
}

func parseDirection(s string) (engine.Direction, bool) {
	switch s {
	case "up":
		return engine.Up, true
	case "down":
		return engine.Down, true
	}
	return 0, false
}

// sendError translates a scheduler error into a wire error frame with a
// stable reason code.
func (g *Gateway) sendError(conn *wsConn, err error) {
	g.sendReason(conn, reasonFor(err), err.Error())
}

func (g *Gateway) sendReason(conn *wsConn, reason, message string) {
	data, err := protocol.Marshal(protocol.TypeError, protocol.Error{Reason: reason, Message: message})
	if err != nil {
		g.log.Error().Err(err).Msg("marshal error frame")
		return
	}
	_ = conn.Send(data)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyInSession):
		return protocol.ReasonAlreadyInMatch
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		return protocol.ReasonAlreadyQueued
	case errors.Is(err, invite.ErrInviteExists):
		return protocol.ReasonInviteExists
	case errors.Is(err, invite.ErrInviteExpired):
		return protocol.ReasonInviteExpired
	case errors.Is(err, invite.ErrNotOnline):
		return protocol.ReasonNotOnline
	}
	return protocol.ReasonBadMessage
}
