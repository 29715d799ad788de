package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewInsertCommand creates the insert command.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <id> <json>",
		Short: "Insert a document into the local collection",
		Example: `  docsync insert note-1 '{"title":"groceries"}'`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDocument(cmd, opts, args[0], args[1], false)
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <json>",
		Short: "Replace the content of a local document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDocument(cmd, opts, args[0], args[1], true)
		},
	}
}

func writeDocument(cmd *cobra.Command, opts *RootOptions, id, content string, update bool) error {
	if !json.Valid([]byte(content)) {
		return fmt.Errorf("content of %q is not valid JSON", id)
	}

	ctx := cmd.Context()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	s, err := opts.openSession(ctx, cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer s.close()

	collection, err := s.collection()
	if err != nil {
		return err
	}

	write := collection.Insert
	if update {
		write = collection.Update
	}
	doc, err := write(ctx, id, json.RawMessage(content))
	if err != nil {
		return fmt.Errorf("failed to write document %q: %w", id, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s saved at %d\n", doc.ID, doc.LastModified)
	return nil
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a document; the removal is replicated as a tombstone",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := opts.openSession(ctx, cfg, opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.close()

			collection, err := s.collection()
			if err != nil {
				return err
			}
			if err := collection.Remove(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to remove document %q: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", args[0])
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents of the local collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := opts.openSession(ctx, cfg, opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.close()

			collection, err := s.collection()
			if err != nil {
				return err
			}
			docs, err := collection.Find(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODIFIED\tCONTENT")
			for _, doc := range docs {
				modified := time.UnixMilli(doc.LastModified).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%s\t%s\n", doc.ID, modified, doc.Content)
			}
			return w.Flush()
		},
	}
}
