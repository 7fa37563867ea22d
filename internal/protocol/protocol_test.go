package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundRoundTrip(t *testing.T) {
	cases := []struct {
		msgType string
		payload any
	}{
		{TypeState, State{Tick: 42, Countdown: 2, Ball: BallState{X: 400, Y: 300, VX: 8, VY: -4},
			Left: PaddleState{Name: "alice", Y: 250, Score: 3}, Right: PaddleState{Name: "bob", Y: 100, Score: 9}}},
		{TypeWaiting, Waiting{Position: 3}},
		{TypeError, Error{Reason: ReasonAlreadyInMatch, Message: "already playing"}},
		{TypeInvite, Invite{From: "u1", To: "u2", CreatedAt: 1000, ExpiresAt: 61000}},
		{TypeInviteExpired, InvitePair{From: "u1", To: "u2"}},
		{TypeGameOver, GameOver{Reason: "win", Winner: "alice", Loser: "bob", Score: [2]int{10, 4}}},
	}

	for _, tc := range cases {
		t.Run(tc.msgType, func(t *testing.T) {
			b, err := Marshal(tc.msgType, tc.payload)
			require.NoError(t, err)

			msg, err := Unmarshal(b)
			require.NoError(t, err)
			assert.Equal(t, tc.msgType, msg.Type)

			// Unmarshal hands back pointers; compare against the value.
			switch want := tc.payload.(type) {
			case State:
				assert.Equal(t, &want, msg.Payload)
			case Waiting:
				assert.Equal(t, &want, msg.Payload)
			case Error:
				assert.Equal(t, &want, msg.Payload)
			case Invite:
				assert.Equal(t, &want, msg.Payload)
			case InvitePair:
				assert.Equal(t, &want, msg.Payload)
			case GameOver:
				assert.Equal(t, &want, msg.Payload)
			}
		})
	}
}

func TestInboundInviteDecodesAsRequest(t *testing.T) {
	b, err := Marshal(TypeInvite, InviteRequest{To: "u2"})
	require.NoError(t, err)

	msg, err := UnmarshalInbound(b)
	require.NoError(t, err)
	req, ok := msg.Payload.(*InviteRequest)
	require.True(t, ok)
	assert.Equal(t, "u2", req.To)
}

func TestInboundMove(t *testing.T) {
	b, err := Marshal(TypeMove, Move{Direction: "up"})
	require.NoError(t, err)

	msg, err := UnmarshalInbound(b)
	require.NoError(t, err)
	mv, ok := msg.Payload.(*Move)
	require.True(t, ok)
	assert.Equal(t, "up", mv.Direction)
}

func TestUnknownTypeRejected(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)

	_, err = UnmarshalInbound([]byte(`{"type":"state"}`))
	assert.Error(t, err, "outbound types are not valid inbound")
}
