package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dshills/coachgraph/coach"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		name      string
		timezone  string
		threadID  string
		returning bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run a check-in in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			if threadID == "" {
				threadID = uuid.NewString()
			}
			identity := coach.Identity{Name: name, Timezone: timezone, Now: time.Now()}
			return chat(ctx, s.runner, threadID, identity, returning, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&name, "name", "friend", "Your name")
	cmd.Flags().StringVar(&timezone, "timezone", coach.DefaultTimezone, "Your IANA timezone")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread id (random when empty)")
	cmd.Flags().BoolVar(&returning, "returning", false, "Start as a returning user")
	return cmd
}

// chat runs a thread against in and out until it halts or in is exhausted.
func chat(ctx context.Context, runner *coach.Runner, threadID string, identity coach.Identity, returning bool, in io.Reader, out io.Writer) error {
	reply, err := runner.Start(ctx, threadID, identity, returning)
	if err != nil && !coach.IsUserFacing(err) {
		return err
	}
	printReply(out, reply)

	scanner := bufio.NewScanner(in)
	for !reply.Halted {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		reply, err = runner.Step(ctx, threadID, scanner.Text())
		switch {
		case errors.Is(err, coach.ErrInvalidMessage):
			fmt.Fprintf(out, "(%v)\n", err)
			continue
		case err != nil && !coach.IsUserFacing(err):
			return err
		}
		printReply(out, reply)
	}
	return nil
}

func printReply(out io.Writer, reply coach.Reply) {
	if reply.InputIgnored {
		fmt.Fprintln(out, "(that message arrived before the question, please answer again)")
	}
	fmt.Fprintln(out, reply.Prompt)
	if n := reply.Notification; n != nil {
		when := n.Frequency
		if when == "" {
			when = n.Date
		}
		fmt.Fprintf(out, "(reminder scheduled: %s at %s %s)\n", when, n.ScheduledTime, n.Timezone)
	}
}
