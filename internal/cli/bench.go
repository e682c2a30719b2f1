package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/spf13/cobra"
)

func newBenchCmd(opts *options) *cobra.Command {
	var (
		count   int
		timeout time.Duration
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure ping round trips against a relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("count must be positive")
			}
			if metrics {
				lib.StartPoolMetrics()
				defer lib.ReleasePoolMetrics()
			}

			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			start := time.Now()
			for i := 0; i < count; i++ {
				if err := client.Send(relay.NewPing(time.Now().UnixNano())); err != nil {
					return err
				}
			}

			var (
				got int
				rtt time.Duration
			)
			h := lib.HandlerFunc[relay.MsgType](func(c *lib.Context[relay.MsgType]) error {
				if c.Message().Header.ID != relay.MsgPong {
					return nil
				}
				var sent int64
				if err := c.Message().Pop(&sent); err != nil {
					return err
				}
				rtt += time.Since(time.Unix(0, sent))
				got++
				return nil
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			for got < count {
				if err := client.Incoming().WaitForItemContext(ctx); err != nil {
					return fmt.Errorf("%d of %d pongs received: %w", got, count, err)
				}
				client.Pump(lib.NoLimit, false, h)
			}
			elapsed := time.Since(start)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d pings in %s, %.0f msg/s, avg rtt %s\n",
				count, elapsed, float64(count)/elapsed.Seconds(), rtt/time.Duration(count))
			if metrics {
				fmt.Fprintln(out, lib.JsonStringPoolMetrics())
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&count, "count", "n", 10000, "number of pings")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "give up waiting for pongs after this long")
	flags.BoolVar(&metrics, "metrics", false, "print pool metrics when done")
	return cmd
}
