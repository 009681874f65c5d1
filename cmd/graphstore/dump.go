package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"graphstore/internal/persistence"
)

func newDumpCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the rows persisted in the objects table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			rows, err := persistence.ListObjects(ctx, e.exec)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if root.Format == "json" {
				return writeJSON(w, rows)
			}
			for _, r := range rows {
				key := r.KeyKind
				if r.Key != "" {
					key += ":" + r.Key
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.TypeName, key, r.Payload)
			}
			return nil
		},
	}
}
