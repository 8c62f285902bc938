package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehackedyou/dcdcomplete"
)

// Set at build time
var version = "dev"

// errEmptyStdin is returned when --stdin is set but no input arrives.
var errEmptyStdin = errors.New("--stdin given but standard input is empty")

// cliOptions holds the flags shared by all sub-commands.
type cliOptions struct {
	logLevel string
	filePath string
	line     int
	col      int
	stdin    bool
	jsonOut  bool
	command  string
}

// cliApp carries state prepared by the root command for sub-commands.
type cliApp struct {
	opts      cliOptions
	completer *dcdcomplete.Completer
	stdin     io.Reader
	stdout    io.Writer
}

func main() {
	app := &cliApp{stdin: os.Stdin, stdout: os.Stdout}
	if err := newRootCmd(app).ExecuteContext(context.Background()); err != nil {
		slog.Error("dcdcomplete-cli failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(app *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dcdcomplete-cli",
		Short:         "Query dcd-client for D completions and declarations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.completer != nil {
				slog.Debug("Closing Completer service...")
				if err := app.completer.Close(); err != nil {
					slog.Error("Error closing completer", "error", err)
				}
			}
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.opts.logLevel, "log-level", "", "Log level (debug, info, warn, error) - overrides config")
	flags.StringVar(&app.opts.filePath, "file", "", "Path to the D source file (required)")
	flags.IntVar(&app.opts.line, "line", 0, "Line number (1-based, required)")
	flags.IntVar(&app.opts.col, "col", 0, "Column number (1-based byte column, required)")
	flags.BoolVar(&app.opts.stdin, "stdin", false, "Read the unsaved buffer for --file from stdin")
	flags.BoolVar(&app.opts.jsonOut, "json", false, "Print results as JSON")

	completeCmd := &cobra.Command{
		Use:   "complete",
		Short: "List completion candidates at a position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runComplete(cmd.Context())
		},
	}
	gotoCmd := &cobra.Command{
		Use:   "goto",
		Short: "Locate the declaration of the symbol at a position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runGoTo(cmd.Context())
		},
	}
	gotoCmd.Flags().StringVar(&app.opts.command, "command", "GoTo", "Navigation sub-command (GoTo, GoToDefinition, GoToDeclaration)")

	rootCmd.AddCommand(completeCmd, gotoCmd)
	return rootCmd
}

// setup validates flags, loads configuration and configures logging.
func (app *cliApp) setup() error {
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if app.opts.filePath == "" {
		return errors.New("missing required flag: --file")
	}
	if app.opts.line <= 0 {
		return fmt.Errorf("invalid value for --line: must be positive, got %d", app.opts.line)
	}
	if app.opts.col <= 0 {
		return fmt.Errorf("invalid value for --col: must be positive, got %d", app.opts.col)
	}
	absPath, err := filepath.Abs(app.opts.filePath)
	if err != nil {
		return fmt.Errorf("invalid --file path %q: %w", app.opts.filePath, err)
	}
	if !app.opts.stdin {
		if _, statErr := os.Stat(absPath); statErr != nil {
			return fmt.Errorf("cannot access --file: %w", statErr)
		}
	}
	app.opts.filePath = absPath

	completer, initErr := dcdcomplete.NewCompleter(tempLogger)
	if initErr != nil && !errors.Is(initErr, dcdcomplete.ErrConfig) {
		return fmt.Errorf("initializing completer: %w", initErr)
	}
	if completer == nil {
		return errors.New("completer initialization returned nil unexpectedly")
	}
	app.completer = completer

	chosenLogLevelStr := completer.GetCurrentConfig().LogLevel
	if app.opts.logLevel != "" {
		chosenLogLevelStr = app.opts.logLevel
	}
	logLevel, parseLevelErr := dcdcomplete.ParseLogLevel(chosenLogLevelStr)
	if parseLevelErr != nil {
		tempLogger.Warn("Invalid log level specified, using default 'info'", "specified_level", chosenLogLevelStr, "error", parseLevelErr)
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	if initErr != nil {
		slog.Warn("Completer initialized with configuration warnings", "error", initErr)
	}
	return nil
}

// request assembles the completer request, attaching stdin as the dirty buffer when asked.
func (app *cliApp) request() (dcdcomplete.Request, error) {
	req := dcdcomplete.Request{
		FilePath:  app.opts.filePath,
		LineNum:   app.opts.line,
		ColumnNum: app.opts.col,
	}
	if app.opts.stdin {
		data, err := io.ReadAll(app.stdin)
		if err != nil {
			return req, fmt.Errorf("reading stdin: %w", err)
		}
		if len(data) == 0 {
			return req, errEmptyStdin
		}
		req.FileData = map[string]dcdcomplete.FileData{
			app.opts.filePath: {Contents: string(data), Filetypes: app.completer.SupportedFiletypes()},
		}
	}
	return req, nil
}

func (app *cliApp) runComplete(ctx context.Context) error {
	req, err := app.request()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	candidates, err := app.completer.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}
	if app.opts.jsonOut {
		return writeJSON(app.stdout, candidates)
	}
	for _, c := range candidates {
		fmt.Fprintf(app.stdout, "%s\t%s\t%s\n", c.InsertionText, c.Kind, c.MenuText)
	}
	return nil
}

func (app *cliApp) runGoTo(ctx context.Context) error {
	req, err := app.request()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	result, err := app.completer.RunSubcommand(ctx, app.opts.command, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", app.opts.command, err)
	}
	if app.opts.jsonOut {
		return writeJSON(app.stdout, result)
	}
	for _, t := range result.All() {
		fmt.Fprintf(app.stdout, "%s:%d:%d\n", t.File, t.Line, t.Column)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
