package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dischat/client"
	"dischat/config"
	"dischat/discovery"
	"dischat/sessionstore"
)

var rootCmd = &cobra.Command{
	Use:               "dischat",
	Short:             "Direct messages with delivery and read receipts",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	flagDataDir  string
	flagBackend  string
	flagDiscover bool
	flagLogLevel string
)

// environment is resolved once per invocation by setup.
var env struct {
	cfg     *config.Config
	cfgPath string
	dataDir string
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagDataDir, "data-dir", "", "data directory (default: $"+config.DataDirEnv+" or the OS config dir)")
	flags.StringVar(&flagBackend, "backend", "", "server base URL (default: backend_url from config.json)")
	flags.BoolVar(&flagDiscover, "discover", false, "find a server on the local network over mDNS")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (default: log_level from config.json)")

	rootCmd.AddCommand(serveCmd, signupCmd, loginCmd, logoutCmd, whoamiCmd, contactsCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := config.LoadOrCreate(flagDataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env.cfg = cfg
	env.cfgPath = cfgPath
	env.dataDir = flagDataDir
	if env.dataDir == "" {
		env.dataDir, err = config.ResolveDataDir()
		if err != nil {
			return err
		}
	}

	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return configureLogging(level)
}

func configureLogging(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	return nil
}

// backendURL picks the server: --backend, then --discover, then config.
func backendURL(ctx context.Context) (string, error) {
	if flagBackend != "" {
		return flagBackend, nil
	}
	if flagDiscover {
		found, err := discovery.Lookup(ctx, discovery.Config{})
		if err != nil {
			return "", fmt.Errorf("discover servers: %w", err)
		}
		if len(found) == 0 {
			return "", errors.New("no dischat server found on the local network")
		}
		log.Info().Str("name", found[0].Name).Str("url", found[0].URL()).Msg("discovered server")
		return found[0].URL(), nil
	}
	return env.cfg.BackendURL, nil
}

// openRemote returns a Remote whose session persists under the data dir.
// The caller closes the returned store.
func openRemote(ctx context.Context) (*client.Remote, *sessionstore.Store, error) {
	baseURL, err := backendURL(ctx)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := sessionstore.Open(env.dataDir)
	if err != nil {
		return nil, nil, err
	}

	remote, err := client.New(client.Options{BaseURL: baseURL, Sessions: sessions})
	if err != nil {
		_ = sessions.Close()
		return nil, nil, err
	}
	return remote, sessions, nil
}
