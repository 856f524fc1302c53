package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adwski/audiorooms/backend/model"
	"github.com/adwski/audiorooms/client/negotiation"
	"github.com/adwski/audiorooms/client/reconnect"
	"github.com/adwski/audiorooms/client/session"
	"github.com/adwski/audiorooms/client/signaling"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagName          string
	flagStatsInterval time.Duration
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a room and stay until interrupted",
	Long: `Join a room as a headless peer. Audio links are negotiated with every
member, received packets are counted and printed periodically.

Examples:
  audiorooms join 3f1c2a9e-... --name Ann
  audiorooms join 3f1c2a9e-... --server wss://relay.example.com/ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return join(cmd.Context(), args[0])
	},
}

func join(ctx context.Context, roomID string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	sink := negotiation.NewPacketCounter()
	engine, err := negotiation.NewPionEngine(negotiation.PionConfig{
		ICEServers: cfg.STUNServers,
		Sink:       sink,
		Logger:     &logger,
	})
	if err != nil {
		return err
	}

	s := session.New(session.Config{
		Engine: engine,
		Logger: &logger,
	})
	if err = s.Join(roomID, flagName); err != nil {
		return err
	}

	mgr := reconnect.NewManager(s.ReconnectConfig(func(ctx context.Context) (session.Link, error) {
		conn, dErr := signaling.Dial(ctx, cfg.ServerURL, &logger)
		if dErr != nil {
			return nil, dErr
		}
		return conn, nil
	}))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go watchEvents(ctx, cancel, s, &logger)
	go printStats(ctx, s, sink)

	err = mgr.Run(ctx)
	s.Detach()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchEvents stops the client once it is removed from the room.
func watchEvents(ctx context.Context, cancel context.CancelFunc, s *session.Session, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.Events():
			switch ev.Type {
			case session.EventLinkState:
				logger.Info().Str("state", ev.State.String()).Msg("relay link")
			case model.TypeKicked:
				logger.Error().Str("reason", ev.Envelope.Reason).Msg("kicked from room")
				cancel()
			case model.TypeRoomDeleted:
				logger.Error().Msg("room was deleted")
				cancel()
			case model.TypeError:
				if s.RoomID() == "" {
					logger.Error().Str("message", ev.Envelope.Message).Msg("cannot join room")
					cancel()
				}
			}
		}
	}
}

func printStats(ctx context.Context, s *session.Session, sink *negotiation.PacketCounter) {
	if flagStatsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(flagStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peers := s.Peers()
		if len(peers) == 0 {
			continue
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.SetTitle("room " + s.RoomID())
		t.AppendHeader(table.Row{"Peer", "Name", "Role", "State", "Packets", "Bytes"})
		for _, p := range peers {
			st := sink.Stats(p.ID)
			t.AppendRow(table.Row{p.ID, p.Name, p.Role, p.State, st.Packets, st.Bytes})
		}
		t.Render()
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name, relay assigns a default when empty")
	joinCmd.Flags().DurationVar(&flagStatsInterval, "stats-interval", 10*time.Second, "how often to print peer stats, 0 disables")
}
