package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TheSmallBoat/tsnet/lib"
	"github.com/TheSmallBoat/tsnet/relay"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session: every line typed is sent to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "tsnet> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			client, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				printIncoming(ctx, client, rl.Stdout())
			}()
			defer func() {
				cancel()
				<-done
			}()

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				if text == "/quit" {
					return nil
				}

				msg, err := relay.NewText(0, text)
				if err != nil {
					fmt.Fprintln(rl.Stderr(), err)
					continue
				}
				if err := client.Send(msg); err != nil {
					return err
				}
			}
		},
	}
}

func printIncoming(ctx context.Context, client *lib.Client[relay.MsgType], w io.Writer) {
	h := lib.HandlerFunc[relay.MsgType](func(c *lib.Context[relay.MsgType]) error {
		if c.Message().Header.ID != relay.MsgText {
			return nil
		}
		p, err := relay.UnmarshalTextPacket(c.Message().Body)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "[%d] %s\n", p.From, p.Text)
		return nil
	})
	for client.Incoming().WaitForItemContext(ctx) == nil {
		client.Pump(lib.NoLimit, false, h)
	}
}
