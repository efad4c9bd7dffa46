package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/classroom/internal/adapters/auth"
	router "github.com/dkeye/classroom/internal/adapters/http"
	"github.com/dkeye/classroom/internal/adapters/rtc"
	wssignal "github.com/dkeye/classroom/internal/adapters/signal"
	"github.com/dkeye/classroom/internal/app"
	"github.com/dkeye/classroom/internal/app/orch"
	"github.com/dkeye/classroom/internal/app/sfu"
	"github.com/dkeye/classroom/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("roomd", pflag.ExitOnError)
	flags.Int("port", 8080, "listen port")
	flags.String("static", "./web", "static files directory")
	flags.String("secret", "", "token and session secret; empty disables login tokens")
	flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(
		config.WithFlag("server.port", flags.Lookup("port")),
		config.WithFlag("server.static_path", flags.Lookup("static")),
		config.WithFlag("server.secret", flags.Lookup("secret")),
		config.WithFlag("log_level", flags.Lookup("log-level")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	api, err := rtc.NewAPI(rtc.NewLoggerFactory(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Relays:   sfu.NewRelayManager(),
	}

	var (
		verifier wssignal.Verifier
		issuer   router.TokenIssuer
	)
	if cfg.Server.Secret != "" {
		tokens := auth.NewTokens(cfg.Server.Secret, cfg.Server.TokenTTL)
		verifier, issuer = tokens, tokens
	} else {
		log.Warn().Msg("server.secret is empty, logins are not authenticated")
	}

	ctl := wssignal.NewSignalWSController(o, api, rtc.Configuration(cfg.WebRTC.ICEServers), verifier, wssignal.Options{
		ReadLimit:    cfg.Server.ReadLimit,
		PingPeriod:   cfg.Server.PingPeriod,
		RateLimit:    cfg.Server.RateLimit,
		RateInterval: cfg.Server.RateInterval,
	})

	r := router.SetupRouter(ctx, cfg.Server, router.Deps{Orch: o, Signal: ctl, Tokens: issuer})
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("classroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
