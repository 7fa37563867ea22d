package engine

import "time"

// Side identifies one of the two paddles.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

// Direction of a paddle move command.
type Direction int

const (
	Up Direction = iota
	Down
)

// Phase of the engine state machine.
type Phase int

const (
	CountingDown Phase = iota
	Running
	Ended
)

type Vec struct {
	X float64
	Y float64
}

type Ball struct {
	Pos Vec
	Vel Vec
}

// Paddle holds one player's slot. Pos.Y is the top edge of the paddle;
// Pos.X is fixed by the side and never changes.
type Paddle struct {
	Side   Side
	UserID string // empty for a non-tracked local participant
	Name   string
	Pos    Vec
	Score  int

	lastMove time.Time
}

// Params are the physics and pacing tunables for one engine instance.
type Params struct {
	Width        float64
	Height       float64
	PaddleWidth  float64
	PaddleHeight float64
	PaddleStep   float64
	BallSize     float64
	MinSpeed     float64 // per-axis lower speed bound
	MaxSpeed     float64 // per-axis upper speed bound
	BounceCoeff  float64 // vertical velocity per unit of paddle-center offset
	WinScore     int
	TickRate     int
	Countdown    time.Duration
	MoveInterval time.Duration // minimum gap between accepted moves per paddle
}

func DefaultParams() Params {
	return Params{
		Width:        800,
		Height:       600,
		PaddleWidth:  10,
		PaddleHeight: 100,
		PaddleStep:   12,
		BallSize:     10,
		MinSpeed:     4,
		MaxSpeed:     12,
		BounceCoeff:  0.35,
		WinScore:     10,
		TickRate:     60,
		Countdown:    3100 * time.Millisecond,
		MoveInterval: 40 * time.Millisecond,
	}
}

// PaddleView is the immutable per-paddle slice of a snapshot.
type PaddleView struct {
	UserID string
	Name   string
	Y      float64
	Score  int
}

// Snapshot is a value copy of the observable engine state. It is safe to
// read any number of times between ticks.
type Snapshot struct {
	Tick      uint64
	Countdown int // whole seconds remaining; 0 once running
	Ended     bool
	Ball      Ball
	Left      PaddleView
	Right     PaddleView
}

// Result is reported exactly once, on the transition to Ended.
type Result struct {
	Reason string
	Winner PaddleView
	Loser  PaddleView
}
