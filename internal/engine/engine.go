// Package engine implements the fixed-step pong simulation. It is pure
// state: no I/O, no timers, no goroutines. The owner drives it by calling
// Tick at a fixed rate and feeds it move commands in between.
package engine

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
)

// Engine advances one match through CountingDown -> Running -> Ended.
type Engine struct {
	p Params

	ball    Ball
	paddles [2]Paddle

	tick           uint64
	countdownTicks int
	phase          Phase

	rng *rand.Rand
	now func() time.Time
}

type Option func(*Engine)

// WithRand pins the serve randomization, mainly for tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock pins the clock used for the move rate limit, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(p Params, opts ...Option) *Engine {
	e := &Engine{
		p:   p,
		rng: rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	midY := (p.Height - p.PaddleHeight) / 2
	e.paddles[Left] = Paddle{Side: Left, Pos: Vec{X: 0, Y: midY}}
	e.paddles[Right] = Paddle{Side: Right, Pos: Vec{X: p.Width - p.PaddleWidth, Y: midY}}

	ticks := int(math.Ceil(p.Countdown.Seconds() * float64(p.TickRate)))
	if ticks < 0 {
		ticks = 0
	}
	e.countdownTicks = ticks
	if ticks == 0 {
		e.phase = Running
	}

	e.resetBall()
	return e
}

// BindPlayer attaches an owning identity to a paddle slot.
func (e *Engine) BindPlayer(side Side, userID, name string) {
	e.paddles[side].UserID = userID
	e.paddles[side].Name = name
}

// Tick advances the simulation by one step. It returns a non-nil Result
// exactly once, on the transition to Ended; every call after that is a
// no-op returning nil.
func (e *Engine) Tick() *Result {
	if e.phase == Ended {
		return nil
	}
	e.tick++

	// Win check runs before physics so a decisive score ends the match on
	// the following tick, and a tie at the threshold keeps play going.
	if res := e.winResult(); res != nil {
		e.phase = Ended
		return res
	}

	if e.phase == CountingDown {
		e.countdownTicks--
		if e.countdownTicks <= 0 {
			e.phase = Running
		}
		return nil
	}

	e.ball.Pos.X += e.ball.Vel.X
	e.ball.Pos.Y += e.ball.Vel.Y

	e.collide(Left)
	e.collide(Right)
	e.checkGoal()
	e.bounceWalls()
	return nil
}

// collide performs a symmetric axis-aligned overlap test between the ball
// and one paddle. On contact the ball is clamped just outside the paddle's
// leading edge so it can neither tunnel through nor stick inside.
func (e *Engine) collide(side Side) {
	p := &e.paddles[side]
	half := e.p.BallSize / 2

	movingToward := (side == Left && e.ball.Vel.X < 0) || (side == Right && e.ball.Vel.X > 0)
	if !movingToward {
		return
	}

	overlapX := e.ball.Pos.X-half <= p.Pos.X+e.p.PaddleWidth && e.ball.Pos.X+half >= p.Pos.X
	overlapY := e.ball.Pos.Y+half >= p.Pos.Y && e.ball.Pos.Y-half <= p.Pos.Y+e.p.PaddleHeight
	if !overlapX || !overlapY {
		return
	}

	if side == Left {
		e.ball.Pos.X = p.Pos.X + e.p.PaddleWidth + half
	} else {
		e.ball.Pos.X = p.Pos.X - half
	}
	e.ball.Vel.X = -e.ball.Vel.X

	offset := e.ball.Pos.Y - (p.Pos.Y + e.p.PaddleHeight/2)
	e.ball.Vel.Y = e.clampVertical(offset * e.p.BounceCoeff)
}

// clampVertical bounds a vertical speed into the configured band while
// preserving its direction. A zero input keeps the ball's current vertical
// direction so center hits do not produce a dead ball.
func (e *Engine) clampVertical(v float64) float64 {
	sign := 1.0
	if v < 0 || (v == 0 && e.ball.Vel.Y < 0) {
		sign = -1
	}
	mag := math.Abs(v)
	if mag < e.p.MinSpeed {
		mag = e.p.MinSpeed
	}
	if mag > e.p.MaxSpeed {
		mag = e.p.MaxSpeed
	}
	return sign * mag
}

func (e *Engine) checkGoal() {
	switch {
	case e.ball.Pos.X < 0:
		e.paddles[Right].Score++
		e.resetBall()
	case e.ball.Pos.X > e.p.Width:
		e.paddles[Left].Score++
		e.resetBall()
	}
}

func (e *Engine) bounceWalls() {
	half := e.p.BallSize / 2
	if e.ball.Pos.Y-half < 0 && e.ball.Vel.Y < 0 {
		e.ball.Pos.Y = half
		e.ball.Vel.Y = -e.ball.Vel.Y
	}
	if e.ball.Pos.Y+half > e.p.Height && e.ball.Vel.Y > 0 {
		e.ball.Pos.Y = e.p.Height - half
		e.ball.Vel.Y = -e.ball.Vel.Y
	}
}

// resetBall recenters the ball and serves it with per-axis speeds drawn
// uniformly from the configured band, each direction chosen at random.
func (e *Engine) resetBall() {
	e.ball.Pos = Vec{X: e.p.Width / 2, Y: e.p.Height / 2}
	e.ball.Vel = Vec{X: e.randSpeed(), Y: e.randSpeed()}
}

func (e *Engine) randSpeed() float64 {
	mag := e.p.MinSpeed + e.rng.Float64()*(e.p.MaxSpeed-e.p.MinSpeed)
	if e.rng.Intn(2) == 0 {
		return -mag
	}
	return mag
}

func (e *Engine) winResult() *Result {
	for _, side := range []Side{Left, Right} {
		p := e.paddles[side]
		o := e.paddles[side.Other()]
		if p.Score >= e.p.WinScore && p.Score != o.Score {
			return &Result{Reason: "win", Winner: e.view(side), Loser: e.view(side.Other())}
		}
	}
	return nil
}

// MovePaddle applies one move command. It reports false when the move was
// rejected: the match already ended, or the paddle moved again before the
// minimum interval elapsed.
func (e *Engine) MovePaddle(side Side, dir Direction) bool {
	if e.phase == Ended {
		return false
	}
	p := &e.paddles[side]

	now := e.now()
	if !p.lastMove.IsZero() && now.Sub(p.lastMove) < e.p.MoveInterval {
		return false
	}
	p.lastMove = now

	if dir == Up {
		p.Pos.Y -= e.p.PaddleStep
	} else {
		p.Pos.Y += e.p.PaddleStep
	}
	if p.Pos.Y < 0 {
		p.Pos.Y = 0
	}
	if max := e.p.Height - e.p.PaddleHeight; p.Pos.Y > max {
		p.Pos.Y = max
	}
	return true
}

// Snapshot returns a value copy of the observable state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Tick:      e.tick,
		Countdown: e.countdownSeconds(),
		Ended:     e.phase == Ended,
		Ball:      e.ball,
		Left:      e.view(Left),
		Right:     e.view(Right),
	}
}

// countdownSeconds is the whole-seconds display value. Any fraction above
// a whole second in the configured window pads the top value so it holds a
// full second; it never shows as its own number.
func (e *Engine) countdownSeconds() int {
	if e.phase != CountingDown {
		return 0
	}
	secs := (e.countdownTicks + e.p.TickRate - 1) / e.p.TickRate
	if limit := int(e.p.Countdown.Seconds()); limit >= 1 && secs > limit {
		secs = limit
	}
	return secs
}

func (e *Engine) view(side Side) PaddleView {
	p := e.paddles[side]
	return PaddleView{UserID: p.UserID, Name: p.Name, Y: p.Pos.Y, Score: p.Score}
}

// Phase exposes the state machine position, mainly for the owning session.
func (e *Engine) Phase() Phase {
	return e.phase
}
