package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"DMProject/global/config"
	"DMProject/module/dm"
	"DMProject/module/dm/model"
	"DMProject/service/storage"

	"github.com/spf13/cobra"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openCredentials opens the configured store; release closes it.
func openCredentials(ctx context.Context, cfg config.AppConfig) (creds *storage.Credentials, release func(), err error) {
	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	release = func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return storage.NewCredentials(store), release, nil
}

// connect builds a client from the config and brings up the socket and room list.
func connect(ctx context.Context, cfg config.AppConfig) (*dm.Client, error) {
	c, err := dm.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func printMessage(w io.Writer, m model.Message) {
	text := m.Text
	if m.Attachment != nil {
		text = fmt.Sprintf("%s [%s %s]", text, m.Attachment.Name, m.Attachment.URL)
	}
	mark := ""
	switch {
	case m.Pending:
		mark = " …"
	case m.Status == model.StatusRead:
		mark = " ✓✓"
	}
	fmt.Fprintf(w, "%s %-10s %s%s  (%s)\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderName, text, mark, m.ID)
}
