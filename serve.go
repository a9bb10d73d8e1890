package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dischat/auth"
	"dischat/backend"
	"dischat/discovery"
	"dischat/realtime"
	"dischat/server"
	"dischat/storage"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server: accounts, messages and the live feed",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (default: listen_address from config.json)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := env.cfg

	store, dbPath, err := storage.Open(env.dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()

	secret, err := cfg.Secret()
	if err != nil {
		return err
	}
	identity, err := auth.NewService(auth.Options{
		Store:    store,
		Secret:   secret,
		TokenTTL: cfg.TokenLifetime(),
	})
	if err != nil {
		return fmt.Errorf("start identity service: %w", err)
	}

	hub := realtime.NewHub(realtime.DefaultBufferSize, nil)
	defer hub.Close()

	svc, err := backend.New(backend.Options{Store: store, Auth: identity, Hub: hub})
	if err != nil {
		return err
	}

	address := cfg.ListenAddress
	if flagListen != "" {
		address = flagListen
	}
	srv, err := server.New(server.Options{Backend: svc, ListenAddress: address})
	if err != nil {
		return err
	}
	addr, err := srv.Listen()
	if err != nil {
		return err
	}

	log.Info().
		Str("instance_id", cfg.InstanceID).
		Str("name", cfg.DisplayName).
		Str("address", addr.String()).
		Str("database", dbPath).
		Str("config", env.cfgPath).
		Msg("server starting")

	if cfg.AdvertiseEnabled() {
		if tcp, ok := addr.(*net.TCPAddr); ok {
			broadcaster, err := discovery.Advertise(discovery.Config{
				InstanceID: cfg.InstanceID,
				Name:       cfg.DisplayName,
				Port:       tcp.Port,
			})
			if err != nil {
				log.Warn().Err(err).Msg("mDNS advertise failed")
			} else {
				defer broadcaster.Stop()
				log.Info().Int("port", tcp.Port).Msg("advertising on the local network")
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
