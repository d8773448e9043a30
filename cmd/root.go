package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/legalqa/legalqa/internal/config"
)

var (
	cfgFile       string
	backendFlag   string
	maxTokensFlag int
	logLevelFlag  string
	useTUI        bool

	// Package-level version info, set by Execute().
	appVersion string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version

	rootCmd := &cobra.Command{
		Use:   "legalqa",
		Short: "Token-budgeted legal Q&A chat",
		Long: "legalqa answers legal questions through local or remote language models, " +
			"keeping each user's conversation within a fixed token budget.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Default TUI on when stdout is a terminal and --tui was not explicitly set.
			if !cmd.Root().PersistentFlags().Changed("tui") && term.IsTerminal(int(os.Stdout.Fd())) {
				useTUI = true
			}
		},
		// Running legalqa with no subcommand starts chat mode.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), chatOptions{})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/legalqa/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "gemma", "backend to chat with")
	rootCmd.PersistentFlags().IntVar(&maxTokensFlag, "max-tokens", 0, "override the per-conversation token budget")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override the log level")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "use bubbletea TUI mode (default: auto-detect terminal)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newBackendsCmd())
	rootCmd.AddCommand(newChatsCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if maxTokensFlag > 0 {
		cfg.MaxTokens = maxTokensFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return cfg, nil
}
