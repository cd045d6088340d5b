package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ticketflow/pkg/knowledge"
)

// newKBCmd creates the "tf kb" command group.
func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge-base index",
	}
	cmd.AddCommand(
		newKBListCmd(),
		newKBShowCmd(),
		newKBIndexCmd(),
		newKBArchiveCmd(),
		newKBRestoreCmd(),
	)
	return cmd
}

func knowledgeBase(cmd *cobra.Command) (knowledge.KB, error) {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return knowledge.KB{}, err
	}
	return knowledge.KB{Dir: paths.KnowledgeDir}, nil
}

func newKBListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List topics",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kb, err := knowledgeBase(cmd)
			if err != nil {
				return err
			}
			idx, err := kb.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(idx)
			}
			if len(idx.Topics) == 0 {
				fmt.Fprintln(out, "No topics.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, t := range idx.Topics {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Title, strings.Join(t.Keywords, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the index as JSON")
	return cmd
}

func newKBShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <topic>",
		Short: "Print a topic's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := knowledgeBase(cmd)
			if err != nil {
				return err
			}
			t, err := kb.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", t.ID, t.Title)
			if len(t.Keywords) > 0 {
				fmt.Fprintf(out, "keywords: %s\n", strings.Join(t.Keywords, ", "))
			}
			for _, d := range kb.Docs(t) {
				fmt.Fprintf(out, "\n--- %s (%s)\n%s", d.Name, d.Path, d.Content)
				if !strings.HasSuffix(d.Content, "\n") {
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
}

func newKBIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild index.json from the topic directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kb, err := knowledgeBase(cmd)
			if err != nil {
				return err
			}
			res, err := kb.Reindex()
			if err != nil {
				return err
			}
			log := newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout()))
			for _, id := range res.Added {
				log.Step("added %s", id)
			}
			for _, id := range res.Removed {
				log.Warn("removed %s (directory missing)", id)
			}
			log.Info("%d topics indexed", res.Total)
			return nil
		},
	}
}

func newKBArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <topic>",
		Short: "Move a topic under archive/ and drop it from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := knowledgeBase(cmd)
			if err != nil {
				return err
			}
			if err := kb.Archive(args[0]); err != nil {
				return err
			}
			newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout())).Step("archived %s", args[0])
			return nil
		},
	}
}

func newKBRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <topic>",
		Short: "Bring an archived topic back into the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := knowledgeBase(cmd)
			if err != nil {
				return err
			}
			if err := kb.Restore(args[0]); err != nil {
				return err
			}
			newStepLog(cmd.OutOrStdout(), isTerminal(cmd.OutOrStdout())).Step("restored %s", args[0])
			return nil
		},
	}
}
