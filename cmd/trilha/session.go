package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rahul/trilha/internal/dispatch"
	"github.com/rahul/trilha/internal/gateway"
	"github.com/rahul/trilha/internal/plan"
)

func sessionFlags(cmd *cobra.Command, session, user *string) {
	cmd.Flags().StringVarP(session, "session", "s", "", "Session id")
	cmd.Flags().StringVarP(user, "user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("session")
}

func execCmd(configPath *string) *cobra.Command {
	var session, user string
	cmd := &cobra.Command{
		Use:   "exec [actions file]",
		Short: "Execute a batch of actions (yaml or json list) for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var actions []map[string]any
			if err := readDocument(args[0], &actions); err != nil {
				return err
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.dispatcher.Execute(cmd.Context(), actions, session, user, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	sessionFlags(cmd, &session, &user)
	return cmd
}

func reconcileCmd(configPath *string) *cobra.Command {
	var session, user string
	cmd := &cobra.Command{
		Use:   "reconcile [plan file]",
		Short: "Reconcile a plan (type, area, cards) against the session board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p plan.Plan
			if err := readDocument(args[0], &p); err != nil {
				return err
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			actions := []map[string]any{{
				"type":   dispatch.TypeReconcilePlan,
				"params": map[string]any{"plan": p},
			}}
			resp, err := a.dispatcher.Execute(cmd.Context(), actions, session, user, nil)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if resp.Failed() > 0 {
				return errors.New(resp.Results[0].Error)
			}
			return nil
		},
	}
	sessionFlags(cmd, &session, &user)
	return cmd
}

func nextCmd(configPath *string) *cobra.Command {
	var session, user string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Run the next step of a session's journey",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var resp dispatch.Response
			if dryRun {
				actions := []map[string]any{{"type": dispatch.TypeNextActions}}
				resp, err = a.dispatcher.Execute(cmd.Context(), actions, session, user, nil)
			} else {
				resp, err = a.dispatcher.Step(cmd.Context(), session, user, nil)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	sessionFlags(cmd, &session, &user)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only list the next actions")
	return cmd
}

func boardCmd(configPath *string) *cobra.Command {
	var session, user string
	var all bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the cards of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cards, err := a.board.Board(cmd.Context(), session, all)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), gateway.FormatBoard(cards))
			return nil
		},
	}
	sessionFlags(cmd, &session, &user)
	cmd.Flags().BoolVar(&all, "all", false, "Include deprecated cards")
	return cmd
}

func actionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the registered action types",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, h := range a.dispatcher.Handlers() {
				fmt.Fprintf(w, "%s\t%s\n", h.Type(), h.Description())
			}
			return w.Flush()
		},
	}
}

// readDocument decodes a yaml or json file into v. yaml.v3 reads both.
func readDocument(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return fmt.Errorf("%s is empty", path)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
