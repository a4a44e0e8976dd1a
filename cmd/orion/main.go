package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/martinemde/orion/archive"
	"github.com/martinemde/orion/config"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/logging"
	"github.com/martinemde/orion/repo"
	"github.com/martinemde/orion/workbench"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	repoDir     string
	externalDir string
	verbose     bool

	logger  *zap.Logger
	console *logging.Console
	root    string
)

var rootCmd = &cobra.Command{
	Use:   "orion [repo_root]",
	Short: "Orion - repository workbench driven by the OpenAI Responses API",
	Long: `Orion holds a conversation about one repository, queues the file changes the
model proposes, and applies them on request.

Run without a subcommand to start the interactive session. Type :help inside
the session for the list of commands.

Environment:
  OPENAI_API_KEY, AI_MODEL, ORION_* (see .orion/settings.yaml)`,
	Args: cobra.MaximumNArgs(1),
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run a single conversation turn",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.Converse(ctx, strings.Join(args, " "))
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply all pending changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.Apply(ctx)
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show pending changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(_ context.Context, s *workbench.Session) error {
			return s.Preview()
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard [id]",
	Short: "Discard a pending change by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.Discard(ctx, args[0])
		})
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Remove duplicate pending changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.Consolidate(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a status summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.Status(ctx)
		})
	},
}

var refreshDepsCmd = &cobra.Command{
	Use:   "refresh-deps",
	Short: "Check cached summaries of external Project Descriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.RefreshDeps(ctx)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rescan the repository and rebuild the system state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *workbench.Session) error {
			return s.Refresh(ctx)
		})
	},
}

func init() {
	// Assigned here rather than in the literal to break the initialization
	// cycle rootCmd -> runInteractive -> rootCmd.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			repoDir = args[0]
		}
		return withSession(cmd, runInteractive)
	}

	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "C", ".", "Repository root")
	rootCmd.PersistentFlags().StringVarP(&externalDir, "external-dir", "e", "", "Flat directory of dependency Project Descriptions")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(refreshDepsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withSession opens the session for the selected repository and runs fn
// with a context cancelled on SIGINT or SIGTERM.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *workbench.Session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer logger.Sync()
	return fn(ctx, s)
}

func openSession(in io.Reader, out io.Writer) (*workbench.Session, error) {
	var err error
	root, err = filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	cfg, err := config.Load(afero.NewOsFs(), root, nil)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if externalDir != "" {
		cfg.ExternalDir = externalDir
	}

	logPath := cfg.LogFile
	if logPath == "" {
		if err := os.MkdirAll(filepath.Join(root, ".orion"), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
		logPath = filepath.Join(root, ".orion", "orion.log")
	}
	logger, err = logging.New(cfg.LogLevel, logPath)
	if err != nil {
		return nil, err
	}

	ws, err := repo.NewOS(root,
		repo.WithSummaryMaxBytes(int64(cfg.SummaryMaxBytes)),
		repo.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	driverOpts := []llm.DriverOption{
		llm.WithMaxOutputTokens(cfg.MaxCompletionTokens),
		llm.WithTimeout(llm.CallConversation, cfg.Timeouts.Conversation),
		llm.WithTimeout(llm.CallApply, cfg.Timeouts.Apply),
		llm.WithTimeout(llm.CallSummary, cfg.Timeouts.Summary),
		llm.WithCallDumps(ws.Fs(), "/"),
		llm.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		driverOpts = append(driverOpts, llm.WithBaseURL(cfg.BaseURL))
	}
	driver, err := llm.NewDriver(cfg.APIKey, cfg.Model, driverOpts...)
	if err != nil {
		return nil, err
	}

	var summarizer archive.Summarizer
	if cfg.Summarizer.Provider != "" {
		key := cfg.Summarizer.APIKey
		if key == "" && cfg.Summarizer.Provider == "openai" {
			key = cfg.APIKey
		}
		client, err := llm.NewGollmClient(cfg.Summarizer.Provider, key, llm.WithGollmModel(cfg.Summarizer.Model))
		if err != nil {
			return nil, err
		}
		summarizer = archive.NewGollmSummarizer(client)
	}

	var deps *repo.Descriptions
	if cfg.ExternalDir != "" {
		deps, err = repo.OpenDescriptions(cfg.ExternalDir)
		if err != nil {
			logger.Warn("external descriptions disabled", zap.Error(err))
			deps = nil
		}
	}

	console = logging.NewConsole(in, out, logging.WithConsoleLogger(logger))
	return workbench.New(ws, driver, console,
		workbench.WithSettings(cfg),
		workbench.WithDescriptions(deps),
		workbench.WithLogger(logger),
		workbench.WithSummarizer(summarizer),
		workbench.WithWorkDir(root),
		workbench.WithModel(driver.Model()),
	)
}

func runInteractive(ctx context.Context, s *workbench.Session) error {
	out := rootCmd.OutOrStdout()
	fmt.Fprintf(out, "Orion ready at repo root: %s\n", root)
	fmt.Fprintln(out, "Type :help for commands.")
	for {
		fmt.Fprint(out, "> ")
		line, err := console.ReadLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out, "\nGoodbye.")
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.HandleInput(ctx, line); err != nil {
			if errors.Is(err, workbench.ErrQuit) {
				return nil
			}
			return err
		}
	}
}
