package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/spf13/cobra"
)

func newSendCmd(opts *options) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send text messages to a relay and print the ones relayed back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			for _, text := range args {
				msg, err := relay.NewText(0, text)
				if err != nil {
					return err
				}
				if err := client.Send(msg); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait+5*time.Second)
			defer cancel()
			if err := flush(ctx, client.Conn()); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
			if wait <= 0 {
				return nil
			}

			ctx, cancel = context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			printIncoming(ctx, client, cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "how long to print relayed messages before exiting")
	return cmd
}
