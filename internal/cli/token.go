package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/carevisits/internal/auth"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Subject string
	Role    string
	Scopes  []string
	TTL     time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		Long: `Sign a bearer token with the configured JWT secret and issuer.

Examples:
  carectl token --subject staff-42
  carectl token --subject supervisor-1 --role reviewer
  carectl token --subject staff-42 --scopes offline:write,visits:read --ttl 15m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "staff or reviewer id (required)")
	cmd.Flags().StringVar(&opts.Role, "role", "staff", "scope preset (staff|reviewer)")
	cmd.Flags().StringSliceVar(&opts.Scopes, "scopes", nil, "explicit scopes, overriding --role")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runToken(cmd *cobra.Command, opts *TokenOptions) error {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		switch opts.Role {
		case "staff":
			scopes = auth.StaffScopes
		case "reviewer":
			scopes = auth.ReviewerScopes
		default:
			return fmt.Errorf("unknown role %q: must be staff or reviewer", opts.Role)
		}
	}

	token, err := auth.IssueToken(auth.Config{Secret: opts.Config.JWTSecret, Issuer: opts.Config.JWTIssuer}, opts.Subject, scopes, opts.TTL)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, map[string]any{"token": token, "subject": opts.Subject, "scopes": scopes})
	}
	fmt.Fprintln(out, token)
	return nil
}
