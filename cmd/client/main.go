// Command client is a headless roulette peer driven from stdin. It captures
// synthetic audio and video so two instances can be paired on one machine.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Roulette/internal/adapters/http"
	"github.com/dkeye/Roulette/internal/adapters/media"
	"github.com/dkeye/Roulette/internal/adapters/rtc"
	"github.com/dkeye/Roulette/internal/app/presence"
	"github.com/dkeye/Roulette/internal/app/session"
	"github.com/dkeye/Roulette/internal/config"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/transport/ws"
)

const help = `commands: start | skip | report <reason> | end | mute | video | switch | say <text> | friend | status | quit`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig) error {
	identity, err := newIdentity(cfg)
	if err != nil {
		return err
	}
	serverURL, err := signalURL(cfg, identity.ID)
	if err != nil {
		return err
	}

	peers, err := rtc.NewManager(rtc.Config{ICEServers: config.WebRTCServers(cfg.ICEServers)})
	if err != nil {
		return err
	}
	device := media.SyntheticDevice{Facings: []core.FacingMode{core.FacingFront, core.FacingBack}}
	ctl := media.NewController(device, peers)
	counter := presence.NewCounter()
	transport := ws.NewClient(ws.Options{
		URL:              serverURL,
		Retry:            cfg.Retry,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	defer transport.Close()

	m := session.New(session.Deps{
		Transport: transport,
		Media:     ctl,
		Peers:     peers,
		Identity:  identity,
		Presence:  counter,
		Notify: func(n core.Notice) {
			ev := log.Info()
			switch n.Level {
			case core.NoticeWarn:
				ev = log.Warn()
			case core.NoticeError:
				ev = log.Error()
			}
			ev.Err(n.Err).Str("module", "client").Msg(n.Text)
		},
		Observer: session.Observer{
			OnState: func(from, to domain.SessionState) {
				fmt.Printf("* %s -> %s\n", from, to)
			},
			OnMatched: func(r domain.MatchResult) {
				fmt.Printf("* matched with %s (%s) shared %v\n", r.PartnerProfile.Username, r.PartnerID, r.Interests)
			},
			OnMessage: func(from, text string) {
				fmt.Printf("<%s> %s\n", from, text)
			},
			OnFriendRequest: func(p domain.FriendRequestPayload) {
				fmt.Printf("* friend request from %s (%s)\n", p.Username, p.From)
			},
			OnRemoteTrack: func(partnerID string, t *webrtc.TrackRemote) {
				fmt.Printf("* receiving %s from %s\n", t.Kind(), partnerID)
			},
		},
	}, session.Config{
		Interests: cfg.Interests,
		DeviceID:  cfg.DeviceID,
		Filters:   domain.Filters{GenderPreference: domain.GenderAny},
		Media: core.MediaConstraints{
			Audio:     true,
			Video:     true,
			Facing:    core.FacingFront,
			Width:     cfg.Media.Width,
			Height:    cfg.Media.Height,
			FrameRate: cfg.Media.FrameRate,
		},
	})
	transport.SetListener(m)

	if err := transport.Connect(ctx); err != nil {
		return err
	}
	log.Info().Str("module", "client").Str("id", transport.ID()).Str("user", string(identity.ID)).Msg("connected")

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = m.Run(loopCtx)
	}()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := command(ctx, m, ctl, counter, peers, line); quit {
				m.End()
				time.Sleep(100 * time.Millisecond)
				return nil
			}
		}
	}
}

func command(ctx context.Context, m *session.Machine, ctl *media.Controller, counter *presence.Counter, peers *rtc.Manager, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
	case "start":
		m.Start()
	case "skip":
		m.Skip()
	case "report":
		m.Report(arg)
	case "end":
		m.End()
	case "mute":
		fmt.Printf("* audio enabled: %v\n", ctl.ToggleAudio())
	case "video":
		fmt.Printf("* video enabled: %v\n", ctl.ToggleVideo())
	case "switch":
		if err := ctl.SwitchCamera(ctx); err != nil {
			fmt.Printf("! %v\n", err)
		} else {
			fmt.Printf("* camera: %s\n", ctl.Facing())
		}
	case "say":
		if err := m.Send(arg); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "friend":
		if err := m.SendFriendRequest(); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "status":
		s := counter.Snapshot()
		fmt.Printf("* state=%s online=%d link=%v media=%s peer=%s packets=%d\n",
			m.State(), s.Count, s.TransportUp, s.Media, peers.State(), peers.PacketsReceived())
	case "quit", "exit":
		return true
	default:
		fmt.Println(help)
	}
	return false
}

func newIdentity(cfg *config.ClientConfig) (session.StaticIdentity, error) {
	id := cfg.UserID
	if id == "" {
		id = uuid.NewString()
	}
	p, err := domain.NewUserProfile(cfg.Profile.Username, domain.Gender(cfg.Profile.Gender), cfg.Profile.Country, cfg.Profile.AvatarURL)
	if err != nil {
		return session.StaticIdentity{}, fmt.Errorf("profile: %w", err)
	}
	return session.StaticIdentity{ID: domain.UserID(id), Info: *p}, nil
}

// signalURL appends the identity token, minting one when only the secret is configured.
func signalURL(cfg *config.ClientConfig, user domain.UserID) (string, error) {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	token := cfg.Token
	if token == "" && cfg.JWTSecret != "" {
		token, err = router.IssueUserToken(cfg.JWTSecret, string(user), 24*time.Hour)
		if err != nil {
			return "", fmt.Errorf("issue token: %w", err)
		}
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
