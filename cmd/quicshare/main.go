// Command quicshare sends a file directly between two machines over QUIC.
//
//	quicshare host [--send FILE]        print a room code and wait
//	quicshare join CODE [--send FILE]   connect to the host with that code
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/quicshare/internal/cli"
	"github.com/sheerbytes/quicshare/internal/config"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/termio"
)

const version = "v0.1.0"

func main() {
	code := execute()
	termio.Flush()
	os.Exit(code)
}

func execute() int {
	cfg := config.DefaultPeerConfig()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintln(termio.Stderr(), "error:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&cfg)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(termio.Stderr(), "interrupted")
		return 130
	default:
		fmt.Fprintln(termio.Stderr(), "error:", err)
		return 1
	}
}

func newRootCmd(cfg *config.PeerConfig) *cobra.Command {
	var sendPath string

	root := &cobra.Command{
		Use:           "quicshare",
		Short:         "direct peer to peer file transfer over QUIC",
		Long:          `quicshare connects two machines directly, punching through NAT where needed, and moves one file at a time between them with an end-to-end SHA-256 check.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(termio.Stdout())
	root.SetErr(termio.Stderr())
	cfg.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&sendPath, "send", "", "file to send once connected")

	options := func() (cli.Options, error) {
		if err := cfg.Validate(); err != nil {
			return cli.Options{}, err
		}
		return cli.Options{
			Config:   *cfg,
			SendPath: sendPath,
			In:       os.Stdin,
			Out:      termio.Stdout(),
			Logger:   logging.NewWithWriter(termio.Stderr(), "quicshare", cfg.LogLevel),
		}, nil
	}

	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "create a room and wait for a peer",
		Long:  `host asks the signaling server for a room code, prints it, and accepts the peer that joins with it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.Host(cmd.Context(), opts)
		},
	}

	joinCmd := &cobra.Command{
		Use:   "join CODE",
		Short: "join a room by its code",
		Long:  `join enters the room created by a host and races a direct connection to it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.Join(cmd.Context(), opts, args[0])
		},
	}

	root.AddCommand(hostCmd, joinCmd)
	return root
}
