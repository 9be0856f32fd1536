// Command quicshare-signal runs the rendezvous relay that lets two peers
// swap their offer and answer before connecting directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/quicshare/internal/config"
	"github.com/sheerbytes/quicshare/internal/logging"
	"github.com/sheerbytes/quicshare/internal/rooms"
	"github.com/sheerbytes/quicshare/internal/termio"
)

const serverVersion = "v0.1.0"

func main() {
	code := execute()
	termio.Flush()
	os.Exit(code)
}

func execute() int {
	cfg := config.DefaultServerConfig()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintln(termio.Stderr(), "error:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(termio.Stderr(), "error:", err)
		return 1
	}
	return 0
}

func newRootCmd(cfg *config.ServerConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           "quicshare-signal",
		Short:         "quicshare signaling relay",
		Long:          `quicshare-signal hands out room codes and relays one offer and one answer between the two members of each room.`,
		Version:       serverVersion,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.NewWithWriter(termio.Stderr(), "quicshare-signal", cfg.LogLevel)
			if err := rooms.NewServer(*cfg, logger).ListenAndServe(cmd.Context()); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	root.SetOut(termio.Stdout())
	root.SetErr(termio.Stderr())
	cfg.BindFlags(root.Flags())
	return root
}
