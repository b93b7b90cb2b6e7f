package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "genaibots",
		Short:         "Chat bot runtime with per-thread ordered processing",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newQueueCmd(), newEventsCmd())
	return root
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, "genaibots ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
