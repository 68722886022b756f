package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

type chatOptions struct {
	cfgFile string
	thread  string
	model   string
	reset   bool
	history bool
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &chatOptions{}

	rootCmd := &cobra.Command{
		Use:   "toolchat",
		Short: "Chat with a model that can call MCP tools",
		Long: `toolchat reads one message per line from stdin and prints the answer.
The transcript of the thread is stored in the configured checkpoint store,
so a conversation can be resumed with --thread.

Examples:
  toolchat --cfg toolchat.yaml
  toolchat --cfg toolchat.yaml --thread 42 --history
  echo "roll 3 dice" | toolchat --cfg toolchat.yaml --verbose`,
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.cfgFile, "cfg", "c", "", "Configuration file, YAML, JSON or TOML")
	flags.StringVarP(&opts.thread, "thread", "t", "", "Thread id to resume, a new thread is started if empty")
	flags.StringVarP(&opts.model, "model", "m", "", "Preferred model name, overrides the configuration")
	flags.BoolVar(&opts.reset, "reset", false, "Delete the thread before the chat")
	flags.BoolVar(&opts.history, "history", false, "Print the conversation of the thread and exit")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print model and tool calls to stderr")
	return rootCmd
}
