package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/legalqa/legalqa/internal/tui"
)

// localUser owns the sessions and conversations of the terminal commands.
const localUser = "local"

type chatOptions struct {
	resume string
	search bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the terminal",
		Example: `  legalqa chat
  legalqa chat -b openai --search
  legalqa chat --resume 3f2a9c10-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.resume, "resume", "r", "", "continue a stored conversation")
	cmd.Flags().BoolVarP(&opts.search, "search", "s", false, "ground answers in web search results")
	return cmd
}

// runChat starts the interactive chat (REPL) mode.
func runChat(parent context.Context, opts chatOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The full-screen mode owns the terminal, so logs go to the log file only.
	var logOut io.Writer = os.Stderr
	if useTUI {
		logOut = io.Discard
	}
	a, err := newApp(ctx, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	repl := &tui.REPL{
		Turner:         a.pipeline,
		UserID:         localUser,
		Backend:        backendFlag,
		APIKey:         os.Getenv("LEGALQA_API_KEY"),
		Search:         opts.search,
		ConversationID: opts.resume,
	}

	if useTUI {
		return tui.RunTUI(func(ui tui.IO) error {
			ui.SystemMessage("legalqa " + appVersion + ", type /help for commands")
			return repl.Run(ctx, ui)
		})
	}
	return repl.Run(ctx, tui.NewPlainIO(os.Stdin, os.Stdout, os.Stderr, false))
}
