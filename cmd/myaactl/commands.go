package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/myaa/internal/domain"
)

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "myaactl",
		Short:         "Operate a running myaa conversation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("MYAA_SERVER", "http://localhost:8080"), "gateway base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 90*time.Second, "request timeout")

	root.AddCommand(
		newSendCmd(opts),
		newHistoryCmd(opts),
		newCharacterCmd(opts),
		newDumpCmd(opts),
		newHealthCmd(opts),
		newServeProviderCmd(),
	)
	return root
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var speaker string
	cmd := &cobra.Command{
		Use:   "send <session-key> <message...>",
		Short: "Run one conversation turn and print the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := domain.Message{Speaker: speaker, Content: strings.Join(args[1:], " ")}
			res, err := opts.client().Send(cmd.Context(), args[0], msg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply.DisplayText())
			if !res.Stored {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: reply was not stored, the session state expired or moved on")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&speaker, "speaker", "operator", "speaker name for the message")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <session-key>",
		Short: "List journaled turns for a session, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			turns, err := opts.client().History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), turns)
			}
			for _, t := range turns {
				reply := "-"
				if t.Reply != nil {
					reply = t.Reply.DisplayText()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %s  =>  %s\n",
					t.CreatedAt.Format(time.RFC3339), t.Outcome, t.Inbound.DisplayText(), reply)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of turns")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newCharacterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "character <session-key> <character-id>",
		Short: "Bind a session to a character for its next turns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().SetCharacter(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now speaks as %s\n", args[0], args[1])
			return nil
		},
	}
}

func newDumpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print live session state (server must run with DEBUG_MODE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := opts.client().DumpText(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := opts.client().Health(cmd.Context())
			if body == nil {
				return err
			}
			if werr := writeJSON(cmd.OutOrStdout(), body); werr != nil {
				return werr
			}
			return err
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
