package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"DMProject/logger"
	"DMProject/service/natsx"

	"github.com/spf13/cobra"
)

// NewWatchCommand prints the view snapshots another dmctl process publishes
// through the NATS bridge.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow published room and room-list views over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := rootOpts.cfg.NATS
			b, err := natsx.Connect(natsx.Config{
				URL:           cfg.URL,
				Name:          cfg.Name,
				SubjectPrefix: cfg.SubjectPrefix,
				ReconnectWait: cfg.ReconnectWait,
				Timeout:       cfg.Timeout,
			}, logger.Log)
			if err != nil {
				return err
			}
			defer b.Close()

			out := cmd.OutOrStdout()
			err = b.Watch(b.Subject(">"), func(_ context.Context, v natsx.View) error {
				_, err := fmt.Fprintf(out, "%s v%d %s\n", v.Subject, v.Version, v.Data)
				return err
			}, natsx.Latest())
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}
