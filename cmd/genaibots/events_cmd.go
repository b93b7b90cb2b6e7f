package main

import (
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/eventlog"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay unacknowledged platform side effects",
	}
	cmd.AddCommand(newEventsListCmd(), newEventsReplayCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending internal and external event records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, quietLogger(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, container := range []string{queue.ContainerInternalEvents, queue.ContainerExternalEvents} {
				pending, err := rt.eventLog.Pending(cmd.Context(), container)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), container, pending)
			}
			return nil
		},
	}
}

func newEventsReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-execute pending event records against the platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, newLogger(), nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			replayed, err := rt.dispatcher.Replay(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d record(s)\n", color.New(color.FgGreen).Sprint("replayed"), len(replayed))
			return nil
		},
	}
}

func printRecords(w io.Writer, container string, records []eventlog.Record) {
	title := color.New(color.Bold)
	title.Fprintf(w, "%s (%d pending)\n", container, len(records))
	for _, rec := range records {
		fmt.Fprintf(w, "  %-36s %-28s %-24s %-24s %s\n",
			rec.EventID, rec.EventType, rec.ChannelID, rec.ThreadID,
			color.New(color.FgYellow).Sprint(humanize.Time(rec.CreatedAt)))
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
