package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/permitwatch/internal/notify/webpush"
)

func newVAPIDKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generates a VAPID key pair for push notifications",
		Long: `Prints a new P-256 VAPID key pair as environment assignments. Keep the
private key secret; the public key is served to browsers.`,
		// Key generation needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		PersistentPostRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, _ []string) error {
			public, private, err := webpush.GenerateKeys()
			if err != nil {
				return fmt.Errorf("generate vapid keys: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "PERMITWATCH_NOTIFY_VAPID_PUBLIC_KEY=%s\n", public)
			fmt.Fprintf(out, "PERMITWATCH_NOTIFY_VAPID_PRIVATE_KEY=%s\n", private)
			return nil
		},
	}
}
