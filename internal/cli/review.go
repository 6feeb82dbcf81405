package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/carevisits/internal/persistence"
)

// ReviewOptions holds flags for the review commands.
type ReviewOptions struct {
	*RootOptions
	Cursor   string
	Limit    int
	Reviewer string
	Notes    string
}

// NewReviewCommand creates the review command group.
func NewReviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and resolve records parked for manual review",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List records awaiting review, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReviewList(cmd, opts)
		},
	}
	list.Flags().StringVar(&opts.Cursor, "cursor", "", "continue from a previous page")
	list.Flags().IntVar(&opts.Limit, "limit", 50, "page size")

	resolve := &cobra.Command{
		Use:   "resolve <record-id>",
		Short: "Close a review record, keeping canonical state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReviewResolve(cmd, opts, args[0])
		},
	}
	resolve.Flags().StringVar(&opts.Reviewer, "reviewer", "", "id of the supervisor resolving the record (required)")
	resolve.Flags().StringVar(&opts.Notes, "notes", "", "resolution notes")
	_ = resolve.MarkFlagRequired("reviewer")

	cmd.AddCommand(list, resolve)
	return cmd
}

func runReviewList(cmd *cobra.Command, opts *ReviewOptions) error {
	cursor, err := persistence.DecodeCursor(opts.Cursor)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	records, next, err := a.Records.ListForReview(ctx, cursor, opts.Limit)
	if err != nil {
		return fmt.Errorf("list review records: %w", err)
	}

	out := cmd.OutOrStdout()
	nextToken := persistence.EncodeCursor(next)
	if opts.Format == "json" {
		return writeJSON(out, struct {
			Items      any    `json:"items"`
			NextCursor string `json:"next_cursor,omitempty"`
		}{Items: records, NextCursor: nextToken})
	}
	writeReviewText(out, records, nextToken)
	return nil
}

func runReviewResolve(cmd *cobra.Command, opts *ReviewOptions, recordID string) error {
	ctx := cmd.Context()
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Records.Resolve(ctx, recordID, opts.Reviewer, opts.Notes)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", recordID, err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, rec)
	}
	fmt.Fprintf(out, "resolved %s (%s)\n", rec.ID, rec.ConflictStatus)
	return nil
}
