// Command gameserver runs the network protocol core: TLS-terminated,
// length-framed, stateful binary protocol server with a four-phase
// connection lifecycle (handshake, ping or encryption, login).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wyrmforge/gameserver/internal/config"
	"github.com/wyrmforge/gameserver/internal/netio"
	"github.com/wyrmforge/gameserver/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		certPath   string
		keyPath    string
		listenAddr string
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "gameserver",
		Short: "Runs the game server's network protocol core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(certPath, keyPath, listenAddr, configPath, debug)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&certPath, "tls-cert", "C", "", "path to the TLS certificate (PEM)")
	flags.StringVarP(&keyPath, "tls-key", "K", "", "path to the TLS private key (RSA PEM)")
	flags.StringVarP(&listenAddr, "listen", "l", "", "address to listen on (default 127.0.0.1:25252)")
	flags.StringVarP(&configPath, "config", "c", "", "optional YAML overlay for MOTD, seed rooms, listen address")
	flags.BoolVar(&debug, "debug", false, "enable debug-level logging")

	cmd.MarkFlagRequired("tls-cert")
	cmd.MarkFlagRequired("tls-key")

	return cmd
}

func run(certPath, keyPath, listenAddr, configPath string, debug bool) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
	log.Logger = logger

	overlay, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("gameserver: %w", err)
	}

	tlsConfig, err := config.LoadTLS(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("gameserver: %w", err)
	}

	keypair, err := netio.NewKeypair()
	if err != nil {
		return fmt.Errorf("gameserver: %w", err)
	}

	acceptorCfg := config.BuildAcceptorConfig(overlay, tlsConfig, listenAddr)

	handle, err := server.Spawn(acceptorCfg, keypair, logger)
	if err != nil {
		return fmt.Errorf("gameserver: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	handle.Stop()
	logger.Info().Msg("goodbye")
	return nil
}
