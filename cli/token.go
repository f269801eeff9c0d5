package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"DMProject/tools/errs"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

type TokenOptions struct {
	*RootOptions
	Raw       string
	SocietyID string
}

type tokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	SocietyID string `json:"societyId"`
}

// NewTokenCommand signs in against the dev backend, or stores a token obtained
// elsewhere, and keeps it in the credential store.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Store credentials for later commands",
		Long: `Store credentials for later commands.

With a user id, a token is requested from the development backend.
With --raw, the given token is stored as is.

Example:
  dmctl token u-asha
  dmctl token --raw eyJhbGciOi... --society greenpark`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			var resp tokenResponse
			switch {
			case opts.Raw != "":
				resp = tokenResponse{Token: strings.TrimSpace(opts.Raw), SocietyID: opts.SocietyID}
			case len(args) == 1:
				r, err := requestToken(ctx, opts.cfg.ServerURL, args[0])
				if err != nil {
					return err
				}
				resp = r
			default:
				return errs.ErrInvalidArgument.WrapMsg("need a user id or --raw")
			}
			if opts.SocietyID != "" {
				resp.SocietyID = opts.SocietyID
			}

			creds, release, err := openCredentials(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer release()
			if err := creds.Save(ctx, resp.Token, resp.UserID, resp.SocietyID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored credentials for %s\n", nonEmpty(resp.UserID, "token"))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Raw, "raw", "", "store this token instead of requesting one")
	cmd.Flags().StringVar(&opts.SocietyID, "society", "", "society id for the directory fallback")
	return cmd
}

func requestToken(ctx context.Context, serverURL, userID string) (tokenResponse, error) {
	var out tokenResponse
	resp, err := resty.New().SetTimeout(10*time.Second).R().
		SetContext(ctx).
		SetBody(map[string]string{"userId": userID}).
		SetResult(&out).
		Post(strings.TrimRight(serverURL, "/") + "/auth/token")
	if err != nil {
		return out, errs.ErrRequestFailed.Because(err, "token", "user", userID)
	}
	if resp.IsError() {
		return out, errs.ErrRequestFailed.WrapMsg("token", "status", resp.StatusCode(), "body", resp.String())
	}
	return out, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
