package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/playout-core/internal/auth"
)

// newTokenCommand mints an access token offline with the daemon's secret.
func newTokenCommand() *cobra.Command {
	var secret, subject, name, role string
	var ttl int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or PLAYOUT_JWT_SECRET is required")
			}
			if !auth.IsValidSubject(subject) {
				return fmt.Errorf("invalid subject %q", subject)
			}
			r := auth.Role(role)
			if !auth.IsValidRole(r) {
				return fmt.Errorf("%w: %q", auth.ErrInvalidRole, role)
			}
			tok, err := auth.GenerateAccessToken(auth.Operator{ID: subject, Name: name, Role: r}, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("PLAYOUT_JWT_SECRET"), "JWT signing secret")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "viewer, operator or admin")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Lifetime in minutes (0 uses the default)")
	return cmd
}
