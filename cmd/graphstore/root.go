package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"graphstore/internal/blob"
	"graphstore/internal/config"
	"graphstore/internal/persistence"
)

var validFormats = []string{"text", "json"}

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	Format     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "graphstore",
		Short: "Embedded object graph store with transactional rollback",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (default $GRAPHSTORE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newDemoCommand(opts))
	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newJournalCommand(opts))
	return cmd
}

// env bundles what every subcommand opens from the config.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	exec   persistence.Executor
	blobs  blob.Store
}

func openEnv(ctx context.Context, opts *rootOptions, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: cfg.Logger(stderr)}
	if e.exec, err = persistence.Open(ctx, cfg.PersistenceOptions()); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if e.blobs, err = blob.Open(ctx, cfg.BlobOptions()); err != nil {
		return nil, errors.Join(fmt.Errorf("open journal sink: %w", err), e.exec.Close())
	}
	return e, nil
}

func (e *env) Close() error { return e.exec.Close() }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
