package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/carevisits/internal/offline"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	StaffID     string
	All         bool
	Concurrency int
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending offline records",
		Long: `Replay pending offline records into the canonical store.

Examples:
  carectl sync --staff staff-42
  carectl sync --all --concurrency 8 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.StaffID, "staff", "", "sync a single staff member")
	cmd.Flags().BoolVar(&opts.All, "all", false, "sync every staff member with pending records")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", rootOpts.Config.SyncConcurrency, "staff members synced in parallel with --all")
	cmd.MarkFlagsMutuallyExclusive("staff", "all")
	cmd.MarkFlagsOneRequired("staff", "all")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	ctx := cmd.Context()
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var results []offline.SyncResult
	if opts.All {
		results, err = a.Engine.SyncAll(ctx, opts.Concurrency)
	} else {
		var res offline.SyncResult
		res, err = a.Engine.Sync(ctx, opts.StaffID)
		results = []offline.SyncResult{res}
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No pending records.")
		return nil
	}
	for _, res := range results {
		writeSyncText(out, res)
	}
	return nil
}
