// Package protocol defines the per-connection message envelope and every
// payload variant the server speaks. All wire traffic is JSON.
package protocol

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Outbound message types.
const (
	TypeState          = "state"
	TypeWaiting        = "waiting"
	TypeError          = "error"
	TypeInvite         = "invite"
	TypeInviteExpired  = "invite:expired"
	TypeInviteDeclined = "invite:declined"
	TypeGameOver       = "gameover"
)

// Inbound message types.
const (
	TypeMove   = "move"
	TypeAccept = "accept"
	TypeCancel = "cancel"
)

// Stable machine-readable reasons carried by Error payloads.
const (
	ReasonBlocked        = "blocked"
	ReasonAlreadyInMatch = "already-in-match"
	ReasonAlreadyQueued  = "already-queued"
	ReasonInviteExists   = "invite-exists"
	ReasonInviteExpired  = "invite-expired"
	ReasonNotOnline      = "not-online"
	ReasonBadMessage     = "bad-message"
)

// Message is the wire envelope. Payload holds one of the typed structs
// below after Unmarshal, and is encoded from one of them by Marshal.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BallState is the ball portion of a state payload.
type BallState struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// PaddleState is one side of a state payload.
type PaddleState struct {
	Name  string  `json:"name"`
	Y     float64 `json:"y"`
	Score int     `json:"score"`
}

// State is the per-tick broadcast.
type State struct {
	Tick      uint64      `json:"tick"`
	Countdown int         `json:"countdown"`
	Ball      BallState   `json:"ball"`
	Left      PaddleState `json:"left"`
	Right     PaddleState `json:"right"`
}

// Waiting reports the queue position of a ranked entrant.
type Waiting struct {
	Position int `json:"position"`
}

// Error carries a stable reason plus a human-readable message.
type Error struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Invite announces a pending invite to both parties. Timestamps are Unix
// milliseconds.
type Invite struct {
	From      string `json:"from"`
	To        string `json:"to"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// InvitePair identifies an invite that reached a terminal state.
type InvitePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GameOver closes out a session.
type GameOver struct {
	Reason string `json:"reason"`
	Winner string `json:"winner"`
	Loser  string `json:"loser"`
	Score  [2]int `json:"score"`
}

// Move is the inbound paddle command. Side is only honored in local
// self-pair sessions where one connection drives both paddles.
type Move struct {
	Direction string `json:"direction"` // "up" or "down"
	Side      string `json:"side,omitempty"`
}

// InviteRequest asks the server to invite another user.
type InviteRequest struct {
	To string `json:"to"`
}

// AcceptRequest accepts a pending invite from the named user.
type AcceptRequest struct {
	From string `json:"from"`
}

// CancelRequest withdraws or declines a pending invite with the named user.
type CancelRequest struct {
	With string `json:"with"`
}

// Marshal encodes an envelope around the given payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrapf(err, "marshal %s payload", msgType)
		}
		raw = b
	}
	return json.Marshal(envelope{Type: msgType, Payload: raw})
}

// Unmarshal decodes a server-to-client envelope into the matching typed
// struct. Use a type switch on Message.Payload to get at the fields.
func Unmarshal(b []byte) (Message, error) {
	return decode(b, func(msgType string) any {
		switch msgType {
		case TypeState:
			return &State{}
		case TypeWaiting:
			return &Waiting{}
		case TypeError:
			return &Error{}
		case TypeInvite:
			return &Invite{}
		case TypeInviteExpired, TypeInviteDeclined:
			return &InvitePair{}
		case TypeGameOver:
			return &GameOver{}
		}
		return nil
	})
}

// UnmarshalInbound decodes a client-to-server envelope. The "invite" type
// appears in both directions with different payloads, which is why this is
// not folded into Unmarshal.
func UnmarshalInbound(b []byte) (Message, error) {
	return decode(b, func(msgType string) any {
		switch msgType {
		case TypeMove:
			return &Move{}
		case TypeInvite:
			return &InviteRequest{}
		case TypeAccept:
			return &AcceptRequest{}
		case TypeCancel:
			return &CancelRequest{}
		}
		return nil
	})
}

func decode(b []byte, newPayload func(msgType string) any) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, eris.Wrap(err, "decode envelope")
	}

	msg := Message{Type: env.Type}
	payload := newPayload(env.Type)
	if payload == nil {
		return msg, eris.Errorf("unknown message type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return msg, eris.Wrapf(err, "decode %s payload", env.Type)
		}
	}
	msg.Payload = payload
	return msg, nil
}
