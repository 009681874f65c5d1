package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"graphstore/internal/blob"
)

func newJournalCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "journal",
		Short: "List archived commits from the journal sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			if e.blobs == nil {
				return errors.New("no journal sink configured (set GRAPHSTORE_BLOB_DRIVER)")
			}
			entries, err := blob.NewJournal(e.blobs).Entries(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if root.Format == "json" {
				return writeJSON(w, entries)
			}
			for _, entry := range entries {
				fmt.Fprintf(w, "%s %s actions=%d\n", entry.CommittedAt.Format("2006-01-02T15:04:05.000Z07:00"), entry.TxID, len(entry.Actions))
				for _, a := range entry.Actions {
					fmt.Fprintf(w, "  %s %s#%d\n", a.Kind, a.Type, a.ID)
				}
			}
			return nil
		},
	}
}
