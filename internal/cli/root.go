package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/spf13/cobra"
)

type options struct {
	cfgFile string
	host    string
	port    uint16
	maxBody uint32
	quiet   bool

	cfg *Config
}

// NewRootCmd builds the tsnet command tree. Every call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "tsnet",
		Short:         "Framed TCP messaging relay and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// flags win over the config file
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = opts.host
			}
			if flags.Changed("port") {
				cfg.Port = opts.port
			}
			if flags.Changed("max-body") {
				cfg.MaxBodySize = opts.maxBody
			}
			if flags.Changed("quiet") {
				cfg.Quiet = opts.quiet
			}

			opts.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "YAML config file")
	flags.StringVar(&opts.host, "host", "127.0.0.1", "host to listen on or connect to")
	flags.Uint16VarP(&opts.port, "port", "p", 60000, "TCP port")
	flags.Uint32Var(&opts.maxBody, "max-body", 0, "largest accepted message body in bytes, 0 for no limit")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress connection logs")

	root.AddCommand(newServeCmd(opts), newSendCmd(opts), newBenchCmd(opts), newStatsCmd(opts), newChatCmd(opts))
	return root
}

func (o *options) logger(cmd *cobra.Command) lib.Logger {
	if o.cfg.Quiet {
		return lib.NoopLogger{}
	}
	return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
}

func (o *options) connect(cmd *cobra.Command) (*lib.Client[relay.MsgType], error) {
	client := &lib.Client[relay.MsgType]{
		Logger:       o.logger(cmd),
		DialTimeout:  o.cfg.DialTimeout,
		DialAttempts: o.cfg.DialAttempts,
		MaxBodySize:  o.cfg.MaxBodySize,
	}
	if err := client.ConnectContext(cmd.Context(), o.cfg.Host, o.cfg.Port); err != nil {
		return nil, err
	}
	return client, nil
}

// flush waits until the handshake is done and everything sent on conn has
// been written to the socket.
func flush(ctx context.Context, conn *lib.Conn[relay.MsgType]) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for conn.State() != lib.StateStreaming || conn.Pending() > 0 {
		if !conn.IsConnected() {
			return lib.ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
