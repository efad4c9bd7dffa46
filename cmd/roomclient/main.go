package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/classroom/internal/adapters/pionclient"
	"github.com/dkeye/classroom/internal/adapters/recorder"
	"github.com/dkeye/classroom/internal/adapters/rtc"
	"github.com/dkeye/classroom/internal/adapters/wsclient"
	"github.com/dkeye/classroom/internal/config"
	"github.com/dkeye/classroom/internal/feed"
	"github.com/dkeye/classroom/internal/identity"
	"github.com/dkeye/classroom/internal/participants"
	"github.com/dkeye/classroom/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("roomclient", pflag.ExitOnError)
	flags.String("server", "http://localhost:8080", "room server base url")
	flags.String("room", "", "room to join (default main)")
	flags.String("name", "", "display name, remembered for next time")
	flags.String("data-dir", "./data", "where the session identity is kept")
	flags.String("audio", "media/output.ogg", "Ogg/Opus file used as microphone")
	flags.String("video", "media/output.ivf", "IVF/VP8 file used as camera")
	flags.String("screen", "", "IVF/VP8 file offered when sharing the screen")
	flags.String("record", "", "directory for recordings of remote media")
	flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(
		config.WithFlag("client.server_url", flags.Lookup("server")),
		config.WithFlag("client.room", flags.Lookup("room")),
		config.WithFlag("client.name", flags.Lookup("name")),
		config.WithFlag("client.data_dir", flags.Lookup("data-dir")),
		config.WithFlag("client.audio_file", flags.Lookup("audio")),
		config.WithFlag("client.video_file", flags.Lookup("video")),
		config.WithFlag("client.screen_file", flags.Lookup("screen")),
		config.WithFlag("client.record_dir", flags.Lookup("record")),
		config.WithFlag("log_level", flags.Lookup("log-level")),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}
	zerolog.SetGlobalLevel(cfg.Level())
	cc := cfg.Client

	store, err := identity.OpenBadgerStore(cc.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("open identity store")
		return 1
	}
	defer store.Close()
	if cc.Name != "" {
		if err := store.Set(identity.KeyDisplayName, cc.Name); err != nil {
			log.Warn().Err(err).Msg("remember display name")
		}
	}
	id := identity.NewResolver(store).Resolve(url.Values{identity.QueryRoom: {cc.Room}})

	reqCtx, reqCancel := context.WithTimeout(ctx, cc.RequestTimeout)
	token, err := fetchToken(reqCtx, http.DefaultClient, cc.ServerURL, id.ParticipantID)
	reqCancel()
	if err != nil {
		log.Error().Err(err).Msg("could not get a login token")
		return 1
	}

	wsURL, err := signalURL(cc.ServerURL)
	if err != nil {
		log.Error().Err(err).Msg("bad server url")
		return 1
	}
	conn, err := wsclient.Dial(ctx, wsURL, wsclient.Options{RequestTimeout: cc.RequestTimeout})
	if err != nil {
		log.Error().Err(err).Msg("could not reach the room server")
		return 1
	}
	defer conn.Close()

	api, err := rtc.NewAPI(rtc.NewLoggerFactory(log.Logger))
	if err != nil {
		log.Error().Err(err).Msg("failed to build webrtc api")
		return 1
	}
	mediaClient := pionclient.New(conn, api, rtc.Configuration(cfg.WebRTC.ICEServers))
	mediaClient.SubscribeTimeout = cc.SubscribeTimeout

	var renderer participants.Renderer = participants.DiscardRenderer{}
	if cc.RecordDir != "" {
		rec, err := recorder.New(cc.RecordDir)
		if err != nil {
			log.Error().Err(err).Msg("open recorder")
			return 1
		}
		defer rec.Close()
		renderer = rec
	}

	f := feed.New()
	f.Subscribe(func(m feed.Message) { printMessage(os.Stdout, m) })

	ctl := session.New(session.Deps{
		Identity:  id,
		Token:     token,
		Messaging: wsclient.NewMessaging(conn),
		Media:     mediaClient,
		Devices:   pionclient.NewFileDevices(cc.AudioFile, cc.VideoFile, cc.ScreenFile),
		Feed:      f,
		Renderer:  renderer,
		Audio:     cfg.Media.Audio,
		Video:     cfg.Media.Video,
	})
	defer ctl.Close()

	if err := ctl.Join(ctx); err != nil {
		log.Error().Err(err).Msg("join failed")
		return 1
	}

	con := &console{
		ctl:          ctl,
		local:        ctl.LocalTile(),
		layout:       ctl.Layout.Snapshot,
		participants: ctl.Remote.Snapshot,
		out:          os.Stdout,
	}
	left, err := con.run(ctx, os.Stdin)
	if !left && ctl.State() == session.StateJoined {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), cc.RequestTimeout)
		err = ctl.Leave(leaveCtx)
		leaveCancel()
		left = err == nil
	}
	if !left {
		log.Error().Err(err).Msg("leave failed")
		return 1
	}
	fmt.Fprintf(os.Stdout, "You left the class. Lobby: %s\n", lobbyURL(cc.ServerURL, cc.LobbyPath))
	return 0
}
