package cli

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"DMProject/module/dm/model"
	"DMProject/module/dm/session"
	"DMProject/tools/errs"

	"github.com/spf13/cobra"
)

type ChatOptions struct {
	*RootOptions
	Peer string
}

// NewChatCommand opens a room and sends each stdin line as a message.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "chat <room-id>",
		Short: "Open a room and chat on stdin",
		Long: `Open a room and chat on stdin.

Lines are sent as messages. Commands:
  /delete <message-id>   delete one of your messages
  /reply <message-id> <text>
  /file <path>           send a file
  /retry                 refetch history after a failed load
  /quit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args[0], cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "other participant, for the presence header")
	return cmd
}

func runChat(cmd *cobra.Command, opts *ChatOptions, roomID string, in io.Reader) error {
	ctx := cmdContext(cmd)
	c, err := connect(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	out := cmd.OutOrStdout()

	peer := opts.Peer
	if peer == "" {
		if r, ok := c.Roster().Room(roomID); ok {
			peer = r.Other.ID
		}
	}
	s, err := c.OpenRoom(ctx, roomID, peer)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	printed := map[string]bool{}
	typing := false
	show := func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range snap.Messages {
			key := m.ID + "|" + m.Status + fmt.Sprint(m.Deleted, m.Pending)
			if !printed[key] {
				printed[key] = true
				printMessage(out, m)
			}
		}
		if snap.RemoteTyping != typing {
			typing = snap.RemoteTyping
			if typing {
				fmt.Fprintln(out, "… typing")
			}
		}
		if snap.LastError != nil {
			fmt.Fprintf(out, "! %v\n", snap.LastError)
		}
	}
	show(s.Snapshot())
	cancel := s.Subscribe(show)
	defer cancel()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := chatLine(cmd, s, line); err != nil {
			if err == io.EOF {
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
	return sc.Err()
}

func chatLine(cmd *cobra.Command, s *session.Session, line string) error {
	ctx := cmdContext(cmd)
	if !strings.HasPrefix(line, "/") {
		s.SetTypingState(true)
		_, err := s.Send(ctx, line)
		return err
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "/quit":
		return io.EOF
	case "/retry":
		return s.Retry(ctx)
	case "/delete":
		return s.DeleteMessage(ctx, rest)
	case "/reply":
		id, text, _ := strings.Cut(rest, " ")
		_, err := s.Send(ctx, text, session.WithReplyTo(id))
		return err
	case "/file":
		data, err := os.ReadFile(rest)
		if err != nil {
			return err
		}
		_, err = s.SendAttachment(ctx, model.Upload{Name: baseName(rest), Type: mimeOf(rest, data), Data: data})
		return err
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown command", "command", verb)
	}
}

func baseName(path string) string { return filepath.Base(path) }

func mimeOf(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
