// Package cli implements carectl, the operator command line for offline sync.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"example.com/carevisits/internal/app"
	"example.com/carevisits/internal/config"
)

// Opener builds the services a command runs against.
type Opener func(ctx context.Context) (*app.App, error)

// RootOptions holds global flags and dependencies for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Config config.Config
	Open   Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the carectl root command.
func NewRootCommand(cfg config.Config, open Opener) *cobra.Command {
	opts := &RootOptions{Config: cfg, Open: open}

	cmd := &cobra.Command{
		Use:   "carectl",
		Short: "Operate the visit offline sync service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewReviewCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) open(ctx context.Context) (*app.App, error) {
	if o.Open == nil {
		return nil, fmt.Errorf("no store configured")
	}
	a, err := o.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return a, nil
}
