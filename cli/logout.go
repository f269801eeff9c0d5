package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			creds, release, err := openCredentials(ctx, rootOpts.cfg)
			if err != nil {
				return err
			}
			defer release()
			if err := creds.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credentials cleared")
			return nil
		},
	}
}
