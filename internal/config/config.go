package config

import (
	"os"
	"time"

	envconfig "github.com/JeremyLoy/config"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Config holds every tunable the server reads at startup. Values are
// resolved in three layers: built-in defaults, then an optional JSON file,
// then environment variables (LISTEN_ADDR, TICK_RATE, ...).
type Config struct {
	ListenAddr string `json:"listenAddr"`

	// Simulation.
	TickRate           int     `json:"tickRate"`
	CountdownMillis    int     `json:"countdownMillis"`
	FieldWidth         float64 `json:"fieldWidth"`
	FieldHeight        float64 `json:"fieldHeight"`
	PaddleWidth        float64 `json:"paddleWidth"`
	PaddleHeight       float64 `json:"paddleHeight"`
	PaddleStep         float64 `json:"paddleStep"`
	BallSize           float64 `json:"ballSize"`
	MinBallSpeed       float64 `json:"minBallSpeed"`
	MaxBallSpeed       float64 `json:"maxBallSpeed"`
	BounceCoeff        float64 `json:"bounceCoeff"`
	WinScore           int     `json:"winScore"`
	MoveIntervalMillis int     `json:"moveIntervalMillis"`

	// Matchmaking.
	MatchInitialRange        int `json:"matchInitialRange"`
	MatchWidenStep           int `json:"matchWidenStep"`
	MatchMaxRange            int `json:"matchMaxRange"`
	MatchWidenIntervalMillis int `json:"matchWidenIntervalMillis"`
	MatchPassIntervalMillis  int `json:"matchPassIntervalMillis"`
	BaselineRating           int `json:"baselineRating"`

	// Invites.
	InviteTTLSeconds int `json:"inviteTtlSeconds"`
}

func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		TickRate:           60,
		CountdownMillis:    3100,
		FieldWidth:         800,
		FieldHeight:        600,
		PaddleWidth:        10,
		PaddleHeight:       100,
		PaddleStep:         12,
		BallSize:           10,
		MinBallSpeed:       4,
		MaxBallSpeed:       12,
		BounceCoeff:        0.35,
		WinScore:           10,
		MoveIntervalMillis: 40,

		MatchInitialRange:        150,
		MatchWidenStep:           100,
		MatchMaxRange:            800,
		MatchWidenIntervalMillis: 5000,
		MatchPassIntervalMillis:  2000,
		BaselineRating:           1200,

		InviteTTLSeconds: 60,
	}
}

// Load resolves the configuration. An empty path skips the file layer; a
// path that does not exist is an error so a typoed -config flag is not
// silently ignored.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return c, eris.Wrap(err, "read config file")
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return c, eris.Wrap(err, "parse config file")
		}
	}

	if err := envconfig.FromEnv().To(&c); err != nil {
		return c, eris.Wrap(err, "load config from environment")
	}
	return c, nil
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) Countdown() time.Duration {
	return time.Duration(c.CountdownMillis) * time.Millisecond
}

func (c Config) MoveInterval() time.Duration {
	return time.Duration(c.MoveIntervalMillis) * time.Millisecond
}

func (c Config) MatchWidenInterval() time.Duration {
	return time.Duration(c.MatchWidenIntervalMillis) * time.Millisecond
}

func (c Config) MatchPassInterval() time.Duration {
	return time.Duration(c.MatchPassIntervalMillis) * time.Millisecond
}

func (c Config) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLSeconds) * time.Second
}
