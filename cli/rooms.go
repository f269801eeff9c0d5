package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type RoomsOptions struct {
	*RootOptions
	Filter  string
	Start   string
	Archive string
	Mute    string
	Details string
}

// NewRoomsCommand lists rooms and runs the room-level actions.
func NewRoomsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RoomsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms, or start, archive or mute one",
		Long: `List rooms, or start, archive or mute one.

When there are no rooms yet the society directory is listed instead.

Example:
  dmctl rooms --filter gate
  dmctl rooms --start u-bilal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRooms(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "match participant, preview, name or email")
	cmd.Flags().StringVar(&opts.Start, "start", "", "start or find the chat with this user id")
	cmd.Flags().StringVar(&opts.Archive, "archive", "", "archive this room id")
	cmd.Flags().StringVar(&opts.Mute, "mute", "", "mute this room id")
	cmd.Flags().StringVar(&opts.Details, "details", "", "refresh and show one room id")
	return cmd
}

func runRooms(cmd *cobra.Command, opts *RoomsOptions) error {
	ctx := cmdContext(cmd)
	c, err := connect(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	out := cmd.OutOrStdout()
	rs := c.Roster()

	switch {
	case opts.Start != "":
		r, err := rs.StartChat(ctx, opts.Start)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "room %s with %s\n", r.ID, r.Other.Name)
		return nil
	case opts.Archive != "":
		return rs.ArchiveRoom(ctx, opts.Archive)
	case opts.Mute != "":
		return rs.MuteRoom(ctx, opts.Mute)
	case opts.Details != "":
		r, err := rs.RoomDetails(ctx, opts.Details)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s  unread=%d archived=%t muted=%t online=%t\n",
			r.ID, r.Other.Name, r.Unread, r.Archived, r.Muted, rs.IsOnline(r.Other.ID))
		return nil
	}

	rooms, users := rs.Filter(opts.Filter)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(rooms) > 0 {
		fmt.Fprintln(tw, "ROOM\tWITH\tLAST\tWHEN\tUNREAD")
		for _, r := range rooms {
			when := ""
			if !r.LastMsgTime.IsZero() {
				when = r.LastMsgTime.Local().Format(time.Stamp)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Other.Name, r.LastMsg, when, r.Unread)
		}
	}
	if len(users) > 0 {
		fmt.Fprintln(tw, "USER\tNAME\tEMAIL")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, u.Name, u.Email)
		}
	}
	if len(rooms) == 0 && len(users) == 0 {
		fmt.Fprintln(tw, "nothing to show")
	}
	return tw.Flush()
}
