package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/legalqa/legalqa/internal/pipeline"
	"github.com/legalqa/legalqa/internal/tui"
)

func newRunCmd() *cobra.Command {
	var (
		prompt  string
		resume  string
		search  bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ask a single question non-interactively",
		Example: `  legalqa run -P "What is adverse possession?"
  legalqa run -b gemini --json -P "Latest ruling on non-compete clauses?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt / -P is required")
			}
			return runOnce(prompt, resume, search, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "P", "", "the question to ask")
	cmd.Flags().StringVarP(&resume, "resume", "r", "", "continue a stored conversation")
	cmd.Flags().BoolVarP(&search, "search", "s", false, "ground the answer in web search results")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print NDJSON progress and result records")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

// runOnce answers a single prompt and exits.
func runOnce(prompt, resume string, search, jsonOut bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	repl := &tui.REPL{
		Turner:         a.pipeline,
		UserID:         localUser,
		Backend:        backendFlag,
		APIKey:         os.Getenv("LEGALQA_API_KEY"),
		Search:         search,
		ConversationID: resume,
	}

	var progress func(pipeline.State)
	if jsonOut {
		progress = func(s pipeline.State) { _ = pipeline.WriteProgress(os.Stdout, s) }
	}
	resp, err := repl.Once(ctx, prompt, progress)
	if jsonOut {
		if werr := pipeline.WriteRecord(os.Stdout, resp, err); werr != nil {
			return werr
		}
		if err != nil {
			os.Exit(1)
		}
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(resp.Response)
	fmt.Fprintf(os.Stderr, "\n[conversation %s, %d/%d tokens]\n", resp.ConversationID, resp.TokenCount, resp.MaxTokens)
	return nil
}
