package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicecard/internal/app"
	"github.com/MrWong99/voicecard/internal/session"
)

const defaultSimToken = "simulator0000000"

func newSimulateCmd(o *rootOptions) *cobra.Command {
	var (
		token     string
		locale    string
		autostart bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an enrollment dialogue in the terminal",
		Long: `Run an enrollment dialogue in the terminal.

Each line you type is handled as one final transcript, exactly as if the
speech recogniser had produced it. Cards are saved to the configured store.
Type "quit" or press Ctrl+D to leave.

Examples:
  voicecard simulate --autostart
  voicecard simulate --locale fa-IR`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, true)
			if err != nil {
				return err
			}
			if locale != "" {
				cfg.Enrollment.Locale = locale
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(ctx))

			if _, err := a.Store().EnsureUser(ctx, token); err != nil {
				return err
			}
			return simulate(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a.Sessions().Get(token), autostart)
		},
	}
	cmd.Flags().StringVar(&token, "token", defaultSimToken, "16-character user token the cards belong to")
	cmd.Flags().StringVar(&locale, "locale", "", "override enrollment.locale (en-US, fa-IR)")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "open the dialogue without a start phrase")
	return cmd
}

// simulate feeds lines from in to sess and writes the replies to out until
// in is exhausted, the user quits or ctx is cancelled.
func simulate(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session, autostart bool) error {
	s := newStyles(out)
	fmt.Fprintln(out, s.Title.Render("voicecard simulator"), s.Dim.Render("(type quit to leave)"))
	if autostart {
		fmt.Fprintln(out, renderReply(s, sess.Start(ctx)))
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, s.Dim.Render("you> "))
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			select {
			case err := <-scanErr:
				return err
			default:
				return nil
			}
		}

		switch line = strings.TrimSpace(line); line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		reply, err := sess.Turn(ctx, line)
		fmt.Fprintln(out, renderReply(s, reply))
		if err != nil {
			fmt.Fprintln(out, s.Bad.Render("error: "+err.Error()))
		}
	}
}
