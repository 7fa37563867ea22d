package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pongd/internal/config"
	"pongd/internal/engine"
	"pongd/internal/invite"
	"pongd/internal/lobby"
	"pongd/internal/matchmaking"
	"pongd/internal/netwrk"
	"pongd/internal/session"
)

// loggedResults stands in for the external match-history store. Results
// are reported fire-and-forget, so swapping in a real store later does not
// change any caller.
type loggedResults struct {
	log zerolog.Logger
}

func (r loggedResults) ReportMatchResult(winnerID, loserID string, scoreW, scoreL int) error {
	r.log.Info().
		Str("winner", winnerID).Str("loser", loserID).
		Int("scoreWinner", scoreW).Int("scoreLoser", scoreL).
		Msg("match result")
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	addr := flag.String("addr", "", "listen address, overrides config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	params := engine.Params{
		Width:        cfg.FieldWidth,
		Height:       cfg.FieldHeight,
		PaddleWidth:  cfg.PaddleWidth,
		PaddleHeight: cfg.PaddleHeight,
		PaddleStep:   cfg.PaddleStep,
		BallSize:     cfg.BallSize,
		MinSpeed:     cfg.MinBallSpeed,
		MaxSpeed:     cfg.MaxBallSpeed,
		BounceCoeff:  cfg.BounceCoeff,
		WinScore:     cfg.WinScore,
		TickRate:     cfg.TickRate,
		Countdown:    cfg.Countdown(),
		MoveInterval: cfg.MoveInterval(),
	}

	registry := session.NewRegistry(params, loggedResults{log: log}, log)
	match := matchmaking.NewScheduler(matchmaking.Config{
		InitialRange:   cfg.MatchInitialRange,
		WidenStep:      cfg.MatchWidenStep,
		MaxRange:       cfg.MatchMaxRange,
		WidenInterval:  cfg.MatchWidenInterval(),
		PassInterval:   cfg.MatchPassInterval(),
		BaselineRating: cfg.BaselineRating,
	}, registry, matchmaking.Baseline{Value: cfg.BaselineRating}, log)
	members := lobby.New(log)
	invites := invite.NewScheduler(cfg.InviteTTL(), registry, members, log)

	stop := make(chan struct{})
	go match.Run(stop)

	gateway := netwrk.NewGateway(registry, match, invites, members, netwrk.QueryIdentity{}, log)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: gateway.Routes(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	close(stop)
	registry.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
}
