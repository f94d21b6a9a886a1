package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/waygate/internal/command"
	"github.com/soyeahso/waygate/internal/config"
	"github.com/soyeahso/waygate/internal/inbound"
	"github.com/soyeahso/waygate/internal/media"
	"github.com/soyeahso/waygate/internal/protocol"
	"github.com/soyeahso/waygate/internal/queue"
	"github.com/soyeahso/waygate/internal/ratelimit"
	"github.com/soyeahso/waygate/internal/relay"
	"github.com/soyeahso/waygate/internal/session"
	"github.com/soyeahso/waygate/internal/store"
)

func newRunCmd() *cobra.Command {
	var fakeDial bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config, paths)
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			dialer, ok := protocol.RegisteredDialer()
			if !ok {
				if !fakeDial {
					return errors.New("no protocol dialer registered in this build")
				}
				log.Warn().Msg("using fake protocol dialer, sessions will not reach the network")
				dialer = protocol.NewFakeDialer()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rdb, err := queue.Connect(ctx, queue.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, log)
			if err != nil {
				return err
			}
			defer rdb.Close()

			db, err := store.Open(cfg.Database.Path, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			sessions := store.NewSessionStore(db)
			settings := store.NewSettingsStore(db)
			messages := store.NewMessageStore(db)

			publisher := queue.NewPublisher(rdb, log)
			normalizer := inbound.NewNormalizer(publisher, log)
			creds := session.NewCredentials(cfg.Sessions.CredentialsDir)

			manager := session.NewManager(
				dialer, sessions, settings, creds, publisher, normalizer,
				session.ManagerConfig{
					KeepAliveInterval:    time.Duration(cfg.Sessions.KeepAliveSeconds) * time.Second,
					MaxReconnectAttempts: cfg.Sessions.MaxReconnectAttempts,
				},
				log,
			)
			defer manager.Shutdown(context.Background())

			recovery := session.NewRecovery(manager, sessions, log)
			if err := recovery.Run(ctx); err != nil {
				return fmt.Errorf("session recovery: %w", err)
			}

			limiter := ratelimit.New(rdb, log)
			downloader := media.NewDownloader(nil, cfg.Media.TempDir, log)
			handlers := command.NewHandlers(manager, messages, limiter, downloader, publisher, log)
			router := command.NewRouter(handlers, log)

			consumer := queue.NewConsumer(rdb, router, queue.ConsumerConfig{
				Group: cfg.Streams.Group,
				Name:  cfg.Streams.Consumer,
			}, log)

			sweeper := media.NewSweeper(cfg.Media.TempDir,
				time.Duration(cfg.Media.SweepIntervalHours)*time.Hour, 0, log)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			if cfg.Relay.Enabled {
				relaySrv := relay.New(rdb, cfg.Relay.Addr, log)
				go func() {
					if err := relaySrv.Start(ctx); err != nil {
						log.Error().Err(err).Msg("relay server exited")
					}
				}()
			}

			return consumer.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&fakeDial, "fake-dial", false, "run with an in-memory protocol fake (development only)")

	return cmd
}
