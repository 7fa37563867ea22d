package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func testParams() Params {
	p := DefaultParams()
	p.Countdown = 0 // most tests want physics immediately
	return p
}

func newTestEngine(p Params) *Engine {
	return New(p, WithRand(rand.New(rand.NewSource(1))))
}

func TestTickAdvancesBallInStraightLine(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	e.ball.Pos = Vec{X: p.Width / 2, Y: p.Height / 2}
	e.ball.Vel = Vec{X: 8, Y: 2}

	res := e.Tick()

	require.Nil(t, res)
	snap := e.Snapshot()
	assert.Equal(t, p.Width/2+8, snap.Ball.Pos.X)
	assert.Equal(t, p.Height/2+2, snap.Ball.Pos.Y)
	assert.Equal(t, uint64(1), snap.Tick)
}

func TestCountdownHoldsBall(t *testing.T) {
	p := DefaultParams()
	p.Countdown = 100 * time.Millisecond // 6 ticks at 60 Hz
	e := newTestEngine(p)

	start := e.Snapshot()
	require.Equal(t, CountingDown, e.Phase())
	assert.Equal(t, 1, start.Countdown)

	for i := 0; i < 6; i++ {
		require.Nil(t, e.Tick())
		assert.Equal(t, start.Ball.Pos, e.Snapshot().Ball.Pos, "ball moved during countdown")
	}
	assert.Equal(t, Running, e.Phase())
	assert.Equal(t, 0, e.Snapshot().Countdown)
}

func TestCountdownDisplayNeverExceedsWholeSeconds(t *testing.T) {
	p := DefaultParams() // 3.1 s at 60 Hz
	e := newTestEngine(p)

	assert.Equal(t, 3, e.Snapshot().Countdown, "padding above a whole second must not show as 4")

	seen := map[int]bool{}
	for e.Phase() == CountingDown {
		seen[e.Snapshot().Countdown] = true
		require.Nil(t, e.Tick())
	}
	assert.Equal(t, map[int]bool{3: true, 2: true, 1: true}, seen)
	assert.Equal(t, 0, e.Snapshot().Countdown)
}

func TestWallBounceReflectsAndClampsPosition(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	e.ball.Pos = Vec{X: p.Width / 2, Y: 6}
	e.ball.Vel = Vec{X: 4, Y: -8}

	e.Tick()

	snap := e.Snapshot()
	assert.Equal(t, p.BallSize/2, snap.Ball.Pos.Y, "ball should sit exactly on the wall")
	assert.Equal(t, 8.0, snap.Ball.Vel.Y, "vertical velocity should reverse")
}

func TestPaddleBounceFlipsHorizontalAndClampsVertical(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	padTop := e.paddles[Left].Pos.Y

	// Dead-center hit: the vertical offset is tiny, so the recomputed
	// vertical speed must be pulled up to the minimum of the band.
	e.ball.Pos = Vec{X: 12, Y: padTop + p.PaddleHeight/2 - 2}
	e.ball.Vel = Vec{X: -8, Y: 2}

	e.Tick()

	snap := e.Snapshot()
	assert.Positive(t, snap.Ball.Vel.X, "horizontal velocity should flip")
	assert.GreaterOrEqual(t, math.Abs(snap.Ball.Vel.Y), p.MinSpeed)
	assert.LessOrEqual(t, math.Abs(snap.Ball.Vel.Y), p.MaxSpeed)
	assert.GreaterOrEqual(t, snap.Ball.Pos.X, p.PaddleWidth+p.BallSize/2,
		"ball should be clamped outside the paddle's leading edge")
}

func TestGoalScoresOnceAndResetsBallWithinBand(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)

	// Heading out on the left, far from the paddle.
	e.ball.Pos = Vec{X: 5, Y: 50}
	e.ball.Vel = Vec{X: -12, Y: 0}

	e.Tick()

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Right.Score)
	assert.Equal(t, 0, snap.Left.Score)
	assert.Equal(t, Vec{X: p.Width / 2, Y: p.Height / 2}, snap.Ball.Pos)
	for _, v := range []float64{snap.Ball.Vel.X, snap.Ball.Vel.Y} {
		assert.GreaterOrEqual(t, math.Abs(v), p.MinSpeed)
		assert.LessOrEqual(t, math.Abs(v), p.MaxSpeed)
	}
}

func TestWinEndsEngineExactlyOnce(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	e.BindPlayer(Left, "u1", "alice")
	e.BindPlayer(Right, "u2", "bob")
	e.paddles[Left].Score = p.WinScore
	e.paddles[Right].Score = 3

	res := e.Tick()
	require.NotNil(t, res)
	assert.Equal(t, "win", res.Reason)
	assert.Equal(t, "u1", res.Winner.UserID)
	assert.Equal(t, "u2", res.Loser.UserID)
	assert.Equal(t, Ended, e.Phase())

	frozen := e.Snapshot()
	for i := 0; i < 10; i++ {
		assert.Nil(t, e.Tick(), "termination must not re-fire")
		assert.Equal(t, frozen, e.Snapshot(), "ended engine must not mutate")
	}
}

func TestTieAtThresholdDoesNotEndGame(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	e.paddles[Left].Score = p.WinScore
	e.paddles[Right].Score = p.WinScore

	assert.Nil(t, e.Tick())
	assert.NotEqual(t, Ended, e.Phase())
}

func TestMoveUpAtTopStaysClamped(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	e.paddles[Left].Pos.Y = 0

	require.True(t, e.MovePaddle(Left, Up))
	assert.Equal(t, 0.0, e.paddles[Left].Pos.Y)
}

func TestMoveRateLimit(t *testing.T) {
	p := testParams()
	now := time.Unix(1000, 0)
	e := New(p, WithRand(rand.New(rand.NewSource(1))), WithClock(func() time.Time { return now }))

	require.True(t, e.MovePaddle(Left, Down))
	assert.False(t, e.MovePaddle(Left, Down), "second move inside the interval must be rejected")

	// The other paddle has its own limiter.
	assert.True(t, e.MovePaddle(Right, Down))

	now = now.Add(p.MoveInterval)
	assert.True(t, e.MovePaddle(Left, Down))
}

func TestMoveRejectedAfterEnd(t *testing.T) {
	p := testParams()
	e := newTestEngine(p)
	e.paddles[Left].Score = p.WinScore
	require.NotNil(t, e.Tick())

	assert.False(t, e.MovePaddle(Left, Up))
}
