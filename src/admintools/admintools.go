package admintools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/odysseia/protect/src/bot"
	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/discord"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/store"
	"github.com/odysseia/protect/src/utils"
	"github.com/spf13/cobra"
)

func init() {
	adminCommand := &cobra.Command{
		Use:   "admin",
		Short: "Miscellaneous admin commands",
	}
	bot.BotCommand.AddCommand(adminCommand)

	addReconcileCommands(adminCommand)
	addThreadCommands(adminCommand)
}

func openStore(ctx context.Context) store.Store {
	s, err := bot.OpenStore(ctx, config.Config)
	if err != nil {
		fmt.Printf("Failed to open the index: %v\n", err)
		os.Exit(1)
	}
	return s
}

func addReconcileCommands(adminCommand *cobra.Command) {
	reconcileCommand := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect and repair half-finished operations",
	}
	adminCommand.AddCommand(reconcileCommand)

	listCommand := &cobra.Command{
		Use:   "list",
		Short: "List reconciliation items",
		Run: func(cmd *cobra.Command, args []string) {
			all, _ := cmd.Flags().GetBool("all")

			ctx := context.Background()
			s := openStore(ctx)
			defer s.Close()

			if err := ListReconciliation(ctx, s, os.Stdout, all); err != nil {
				fmt.Printf("Failed to list reconciliation items: %v\n", err)
				os.Exit(1)
			}
		},
	}
	listCommand.Flags().Bool("all", false, "Include resolved items")
	reconcileCommand.AddCommand(listCommand)

	resolveCommand := &cobra.Command{
		Use:   "resolve <item id>",
		Short: "Mark a reconciliation item as handled",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide an item id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Printf("Bad item id: %v\n", err)
				os.Exit(1)
			}
			deleteMessage, _ := cmd.Flags().GetBool("delete-message")

			ctx := context.Background()
			s := openStore(ctx)
			defer s.Close()

			var platform protect.PlatformAttachments
			if deleteMessage {
				platform = discord.NewPlatform(discord.NewClient(config.Config.Discord))
			}
			if err := ResolveReconciliation(ctx, s, platform, os.Stdout, id); err != nil {
				fmt.Printf("Failed to resolve item: %v\n", err)
				os.Exit(1)
			}
		},
	}
	resolveCommand.Flags().Bool("delete-message", false, "Delete the item's orphaned archive message first")
	reconcileCommand.AddCommand(resolveCommand)
}

func addThreadCommands(adminCommand *cobra.Command) {
	threadCommand := &cobra.Command{
		Use:   "thread",
		Short: "Inspect indexed threads",
	}
	adminCommand.AddCommand(threadCommand)

	showCommand := &cobra.Command{
		Use:   "show <public thread id>",
		Short: "Show a thread's settings and resources",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a thread id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			s := openStore(ctx)
			defer s.Close()

			if err := ShowThread(ctx, s, os.Stdout, args[0]); err != nil {
				fmt.Printf("Failed to show thread: %v\n", err)
				os.Exit(1)
			}
		},
	}
	threadCommand.AddCommand(showCommand)
}

func ListReconciliation(ctx context.Context, s store.Store, out io.Writer, includeResolved bool) error {
	items, err := s.ListReconciliation(ctx, includeResolved)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "Nothing to reconcile.")
		return nil
	}

	for _, item := range items {
		status := "open"
		if item.Resolved() {
			status = "resolved " + item.ResolvedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s  %-15s  %s\n", item.ID, item.Stage, status)
		fmt.Fprintf(out, "    public thread %s, archive thread %s", item.PublicThreadID, item.ArchiveThreadID)
		if item.MessageID != nil {
			fmt.Fprintf(out, ", message %s", *item.MessageID)
		}
		if item.ResourceID != nil {
			fmt.Fprintf(out, ", resource %d", *item.ResourceID)
		}
		fmt.Fprintf(out, "\n    %s\n", item.Cause)
	}
	return nil
}

// ResolveReconciliation closes an item. With a platform, the orphaned archive
// message is deleted first; a message that is already gone counts as deleted.
func ResolveReconciliation(ctx context.Context, s store.Store, platform protect.PlatformAttachments, out io.Writer, id uuid.UUID) error {
	if platform != nil {
		item, err := findReconciliation(ctx, s, id)
		if err != nil {
			return err
		}
		if item.MessageID != nil && item.ArchiveThreadID != "" {
			err := platform.DeleteMessage(ctx, item.ArchiveThreadID, *item.MessageID)
			if errors.Is(err, protect.ErrPlatformNotFound) {
				fmt.Fprintf(out, "Message %s was already gone.\n", *item.MessageID)
			} else if err != nil {
				return oops.New(err, "failed to delete archive message %s", *item.MessageID)
			} else {
				fmt.Fprintf(out, "Deleted message %s.\n", *item.MessageID)
			}
		}
	}

	item, err := s.ResolveReconciliation(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Resolved %s (%s).\n", item.ID, item.Stage)
	return nil
}

func findReconciliation(ctx context.Context, s store.Store, id uuid.UUID) (*models.ReconciliationItem, error) {
	items, err := s.ListReconciliation(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, store.NotFound
}

func ShowThread(ctx context.Context, s store.Store, out io.Writer, publicThreadID string) error {
	thread, err := s.GetThreadByPublicID(ctx, publicThreadID)
	if err != nil {
		return err
	}
	list, err := s.ListResources(ctx, thread.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Thread %d (public %s)\n", thread.ID, thread.PublicThreadID)
	fmt.Fprintf(out, "  author:         %s\n", thread.AuthorID)
	fmt.Fprintf(out, "  archive thread: %s\n", utils.OrDefault(utils.Deref(thread.ArchiveThreadID), "none"))
	wall := "off"
	if thread.ReactionRequired {
		wall = utils.OrDefault(utils.Deref(thread.RequiredEmoji), "any emoji")
	}
	fmt.Fprintf(out, "  reaction wall:  %s\n", wall)
	fmt.Fprintf(out, "  quick mode:     %v\n", thread.QuickModeEnabled)

	fmt.Fprintf(out, "Resources (%d):\n", list.Len())
	for _, group := range [][]*models.Resource{list.Normal, list.Protected} {
		for _, r := range group {
			password := ""
			if r.HasPassword() {
				password = ", password"
			}
			fmt.Fprintf(out, "  #%d %s %s (%s) carrier %s, %d downloads%s\n",
				r.ID, r.Mode, r.Filename, r.Version, r.CarrierMessageID, r.DownloadCount, password)
		}
	}
	return nil
}
