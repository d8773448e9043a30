package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/legalqa/legalqa/internal/store"
)

func newChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage stored conversations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				convs, err := st.ListConversations(ctx, localUser)
				if err != nil {
					return err
				}
				groups := store.GroupByAge(convs, time.Now())
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, g := range []struct {
					name  string
					convs []store.Conversation
				}{
					{"Today", groups.Today},
					{"Yesterday", groups.Yesterday},
					{"Previous 7 days", groups.LastWeek},
					{"Previous 30 days", groups.LastMonth},
					{"Older", groups.Older},
				} {
					if len(g.convs) == 0 {
						continue
					}
					fmt.Fprintf(w, "%s\n", g.name)
					for _, c := range g.convs {
						fmt.Fprintf(w, "  %s\t%s\t%d messages\n", c.ID, c.Title, c.MessageCount)
					}
				}
				return w.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				conv, err := st.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				msgs, err := st.LoadTurns(ctx, conv.ID)
				if err != nil {
					return err
				}
				fmt.Printf("# %s\n", conv.Title)
				for _, m := range msgs {
					fmt.Printf("\n[%s]\n%s\n", m.Role, m.Content)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a stored conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				return st.RenameConversation(ctx, args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete stored conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				var errs []error
				for _, id := range args {
					if err := st.DeleteConversation(ctx, id); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", id, err))
					}
				}
				return errors.Join(errs...)
			})
		},
	})
	return cmd
}

func withStore(fn func(ctx context.Context, st store.Store) error) error {
	ctx := context.Background()
	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.conversations()
	if st == nil {
		return errors.New("conversation storage is disabled (database.driver: none)")
	}
	return fn(ctx, st)
}
