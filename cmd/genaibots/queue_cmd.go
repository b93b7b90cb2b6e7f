package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the durable thread queues",
	}
	cmd.PersistentFlags().String("container", queue.ContainerMessages, "queue container")
	cmd.PersistentFlags().String("channel", "", "channel id")
	cmd.PersistentFlags().String("thread", "", "thread id")
	cmd.AddCommand(newQueueListCmd(), newQueueDrainCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued items, for one thread or the whole container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, key, err := queueFlags(cmd, false)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, quietLogger(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			var items []queue.Item
			if key != nil {
				items, err = rt.store.List(cmd.Context(), container, *key)
			} else {
				items, err = rt.store.ListContainer(cmd.Context(), container)
			}
			if err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), container, items)
			return nil
		},
	}
}

func newQueueDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Remove every queued item of one thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, key, err := queueFlags(cmd, true)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, quietLogger(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.store.Clear(cmd.Context(), container, *key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", color.New(color.FgGreen).Sprint("drained"), key.ChannelID, key.ThreadID)
			return nil
		},
	}
}

// queueFlags reads the shared flags. A key is returned only when channel or thread is
// set, and then both must be.
func queueFlags(cmd *cobra.Command, requireKey bool) (string, *queue.Key, error) {
	container, _ := cmd.Flags().GetString("container")
	channel, _ := cmd.Flags().GetString("channel")
	thread, _ := cmd.Flags().GetString("thread")
	container = strings.TrimSpace(container)
	if container == "" {
		container = queue.ContainerMessages
	}
	if channel == "" && thread == "" && !requireKey {
		return container, nil, nil
	}
	key := queue.Key{ChannelID: strings.TrimSpace(channel), ThreadID: strings.TrimSpace(thread)}
	if err := key.Validate(); err != nil {
		return "", nil, fmt.Errorf("--channel and --thread: %w", err)
	}
	return container, &key, nil
}

func printItems(w io.Writer, container string, items []queue.Item) {
	if len(items) == 0 {
		fmt.Fprintf(w, "%s is empty\n", container)
		return
	}
	header := color.New(color.Bold)
	header.Fprintf(w, "%-24s %-24s %-20s %-36s %s\n", "CHANNEL", "THREAD", "MESSAGE", "GUID", "ENQUEUED")
	for _, item := range items {
		fmt.Fprintf(w, "%-24s %-24s %-20s %-36s %s\n",
			item.Key.ChannelID, item.Key.ThreadID, item.MessageID, item.GUID,
			color.New(color.FgYellow).Sprint(humanize.Time(item.EnqueuedAt)))
	}
	fmt.Fprintf(w, "%d item(s) in %s\n", len(items), container)
}
