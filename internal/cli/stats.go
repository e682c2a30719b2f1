package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/spf13/cobra"
)

func newStatsCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Ask a relay for its counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			if err := client.Send(lib.NewMessage(relay.MsgStats)); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			for {
				if err := client.Incoming().WaitForItemContext(ctx); err != nil {
					return fmt.Errorf("no stats reply: %w", err)
				}
				om, err := client.Incoming().PopFront()
				if err != nil || om.Msg.Header.ID != relay.MsgStatsReply {
					continue
				}
				stats, err := relay.DecodeStats(&om.Msg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stats)
				return nil
			}
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the reply")
	return cmd
}
