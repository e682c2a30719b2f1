package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *options) *cobra.Command {
	var echo bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relay server until interrupted",
		Long: `Run a relay server. Text messages are forwarded to every other
connection, pings are answered with pongs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("echo") {
				cfg.Echo = echo
			}

			srv := &lib.Server[relay.MsgType]{
				Logger:      opts.logger(cmd),
				MaxBodySize: cfg.MaxBodySize,
			}
			srv.Handler = relay.New(srv, cfg.Echo)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr, err := srv.Start(lib.HostAddr(cfg.Host, cfg.Port))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", addr)

			return serve(ctx, srv)
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "send text back to its sender too")
	return cmd
}

// serve pumps srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *lib.Server[relay.MsgType]) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for srv.Incoming().WaitForItemContext(ctx) == nil {
			srv.Pump(lib.NoLimit, false)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		srv.Shutdown()
		return nil
	})

	return g.Wait()
}
