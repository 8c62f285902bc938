// dcdcomplete.go
// Package dcdcomplete bridges editor completion hosts to the D completion tool dcd-client.
package dcdcomplete

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"runtime/debug"
	"slices"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Core type definitions are in dcdcomplete_types.go.
// Exported error variables are in dcdcomplete_errors.go.

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with defaults,
// validates, and attempts to write a default config if needed.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	if primaryPath != "" {
		logger.Debug("Attempting to load config", "path", primaryPath)
		loaded, loadErr := LoadAndMergeConfig(primaryPath, &cfg, logger)
		if loadErr != nil {
			if errors.Is(loadErr, ErrConfig) {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", primaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", primaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			logger.Info("Loaded config", "path", primaryPath)
		}
	}

	if !loadedFromFile && secondaryPath != "" {
		logger.Debug("Attempting to load config from secondary path", "path", secondaryPath)
		loaded, loadErr := LoadAndMergeConfig(secondaryPath, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && errors.Is(loadErr, ErrConfig) {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", secondaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", secondaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			configParseError = nil
			logger.Info("Loaded config", "path", secondaryPath)
		}
	}

	if !loadedFromFile {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}

		// A file that exists but fails to parse is left for the user to fix.
		if writePath != "" && configParseError == nil {
			logger.Info("No config file found. Attempting to write default.", "path", writePath)
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else if writePath == "" {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		finalCfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return finalCfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return finalCfg, nil
}

// =============================================================================
// Completer Service
// =============================================================================

// navigationFunc resolves a navigation request.
type navigationFunc func(c *Completer, ctx context.Context, req Request) (NavigationResult, error)

// subcommands maps every navigation sub-command name to its implementation.
var subcommands = map[string]navigationFunc{
	"GoTo":            (*Completer).GoTo,
	"GoToDefinition":  (*Completer).GoTo,
	"GoToDeclaration": (*Completer).GoTo,
}

// Completer answers completion and navigation requests by running dcd-client.
type Completer struct {
	runner     ToolRunner      // Executes dcd-client.
	binary     string          // Resolved executable path.
	config     Config          // Current active configuration.
	exclusions ExclusionSet    // Derived from config.Exclude.
	configMu   sync.RWMutex    // Guards binary, config and exclusions.
	logger     *stdslog.Logger // Logger instance for the Completer service.

	watchMu sync.Mutex
	watcher *fsnotify.Watcher // Non-nil while a config watch is running.
}

// NewCompleter loads configuration and creates a Completer. A returned error
// wrapping ErrConfig is a warning: the Completer is usable with defaults.
func NewCompleter(logger *stdslog.Logger) (*Completer, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "Completer")

	cfg, configErr := LoadConfig(serviceLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		serviceLogger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}

	c, err := newCompleter(cfg, processRunner{}, serviceLogger)
	if err != nil {
		return nil, err
	}
	if configErr != nil {
		return c, configErr
	}
	return c, nil
}

// NewCompleterWithConfig creates a Completer with a specific config, bypassing config files.
func NewCompleterWithConfig(config Config, logger *stdslog.Logger) (*Completer, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "Completer")
	if err := config.Validate(serviceLogger); err != nil {
		return nil, fmt.Errorf("provided config validation failed: %w", err)
	}
	return newCompleter(config, processRunner{}, serviceLogger)
}

// newCompleter resolves the binary for cfg and assembles the service.
func newCompleter(cfg Config, runner ToolRunner, logger *stdslog.Logger) (*Completer, error) {
	binary, err := resolveBinary(cfg)
	if err != nil {
		logger.Error("Couldn't find dcd-client binary. Is it in the path?", "error", err)
		return nil, err
	}
	logger.Info("DCD completer loaded", "binary", binary)
	return &Completer{
		runner:     runner,
		binary:     binary,
		config:     cfg.clone(),
		exclusions: NewExclusionSet(cfg.Exclude...),
		logger:     logger,
	}, nil
}

// Close stops the config watcher, if running.
func (c *Completer) Close() error {
	c.logger.Info("Closing Completer service")
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}

// UpdateConfig validates newConfig, re-resolves the binary, and swaps both in atomically.
// On failure the previous configuration stays active.
func (c *Completer) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(c.logger); err != nil {
		c.logger.Error("Invalid configuration provided for update", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}
	binary, err := resolveBinary(newConfig)
	if err != nil {
		c.logger.Error("Configuration update rejected, binary not found", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}

	c.configMu.Lock()
	c.config = newConfig.clone()
	c.binary = binary
	c.exclusions = NewExclusionSet(newConfig.Exclude...)
	c.configMu.Unlock()

	c.logger.Info("Completer configuration updated",
		stdslog.Group("new_config",
			stdslog.String("binary", binary),
			stdslog.Any("extra_args", newConfig.ExtraArgs),
			stdslog.Int("tool_timeout_seconds", newConfig.ToolTimeoutSeconds),
			stdslog.String("log_level", newConfig.LogLevel),
			stdslog.Bool("fetch_docs", newConfig.FetchDocs),
			stdslog.Int("exclude_count", len(newConfig.Exclude)),
			stdslog.String("debug_addr", newConfig.DebugAddr),
		),
	)
	return nil
}

// GetCurrentConfig returns a thread-safe copy of the current configuration.
func (c *Completer) GetCurrentConfig() Config {
	c.configMu.RLock()
	defer c.configMu.RUnlock()
	return c.config.clone()
}

// Binary returns the resolved dcd-client executable.
func (c *Completer) Binary() string {
	c.configMu.RLock()
	defer c.configMu.RUnlock()
	return c.binary
}

// SupportedFiletypes returns the host filetypes this completer serves.
func (c *Completer) SupportedFiletypes() []string {
	return []string{supportedFiletypeD}
}

// DefinedSubcommands returns the navigation sub-command names in sorted order.
func (c *Completer) DefinedSubcommands() []string {
	names := make([]string, 0, len(subcommands))
	for name := range subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Request Handling
// =============================================================================

// requestBuffer returns the dirty buffer for the request file, or the file
// read from disk when the host supplied no contents.
func (c *Completer) requestBuffer(req Request) ([]byte, error) {
	if fd, ok := req.FileData[req.FilePath]; ok {
		if len(fd.Filetypes) > 0 && !slices.Contains(fd.Filetypes, supportedFiletypeD) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFiletype, fd.Filetypes)
		}
		if fd.Contents != "" {
			return []byte(fd.Contents), nil
		}
	}
	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.FilePath, err)
	}
	return data, nil
}

// cursorOffset converts the request cursor to a byte offset, continuing with a
// clamped offset when the cursor lies outside the buffer.
func cursorOffset(contents []byte, req Request, logger *stdslog.Logger) (int, error) {
	offset, err := ToByteOffset(contents, req.LineNum, req.ColumnNum)
	if err != nil {
		if !errors.Is(err, ErrPositionOutOfRange) {
			return 0, err
		}
		logger.Warn("Cursor outside buffer, using clamped offset", "offset", offset, "error", err)
	}
	return offset, nil
}

// Complete returns the completion candidates for the cursor in req.
// Output reported on the tool's stderr is logged and yields no candidates.
func (c *Completer) Complete(ctx context.Context, req Request) ([]CompletionCandidate, error) {
	opLogger := c.logger.With("operation", "Complete", "path", req.FilePath, "line", req.LineNum, "col", req.ColumnNum)

	contents, err := c.requestBuffer(req)
	if err != nil {
		return nil, err
	}
	offset, err := cursorOffset(contents, req, opLogger)
	if err != nil {
		return nil, err
	}

	c.configMu.RLock()
	cfg := c.config.clone()
	exclusions := c.exclusions
	c.configMu.RUnlock()

	out, err := c.invoke(ctx, "complete", req.FilePath, completionArgs(cfg.ExtraArgs, offset), contents, opLogger)
	if err != nil {
		if errors.Is(err, ErrToolReported) {
			opLogger.Error("Completion error from dcd-client", "error", err)
			return []CompletionCandidate{}, nil
		}
		return nil, err
	}

	candidates := parseCompletions(out, exclusions)
	if cfg.FetchDocs && len(candidates) > 0 {
		c.attachDocs(ctx, req.FilePath, contents, candidates, cfg.ExtraArgs, opLogger)
	}
	recordResultCount(ctx, "complete", len(candidates))
	opLogger.Debug("Completion finished", "candidates", len(candidates))
	return candidates, nil
}

// ComputeCandidates is the host entry point for completion. Any error or
// panic is logged and turned into an empty result.
func (c *Completer) ComputeCandidates(ctx context.Context, req Request) (candidates []CompletionCandidate) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered while computing candidates", "panic_value", r, "stack", string(debug.Stack()))
			candidates = []CompletionCandidate{}
		}
	}()
	result, err := c.Complete(ctx, req)
	if err != nil {
		c.logger.Error("Computing candidates failed", "path", req.FilePath, "error", err)
		return []CompletionCandidate{}
	}
	return result
}

// ShouldUseNow reports whether completion at the request cursor yields any candidates.
func (c *Completer) ShouldUseNow(ctx context.Context, req Request) bool {
	return len(c.ComputeCandidates(ctx, req)) > 0
}

// GoTo locates the declaration of the symbol under the cursor in req.
// Output reported on the tool's stderr is logged and yields no result.
func (c *Completer) GoTo(ctx context.Context, req Request) (NavigationResult, error) {
	opLogger := c.logger.With("operation", "GoTo", "path", req.FilePath, "line", req.LineNum, "col", req.ColumnNum)

	contents, err := c.requestBuffer(req)
	if err != nil {
		return NavigationResult{}, err
	}
	offset, err := cursorOffset(contents, req, opLogger)
	if err != nil {
		return NavigationResult{}, err
	}

	cfg := c.GetCurrentConfig()
	out, err := c.invoke(ctx, "goto", req.FilePath, navigationArgs(cfg.ExtraArgs, offset), contents, opLogger)
	if err != nil {
		if errors.Is(err, ErrToolReported) {
			opLogger.Error("Navigation error from dcd-client", "error", err)
			return NavigationResult{}, nil
		}
		return NavigationResult{}, err
	}

	result := ParseNavigationTargets(req.FilePath, contents, out, opLogger)
	recordResultCount(ctx, "goto", len(result.All()))
	opLogger.Debug("Navigation finished", "targets", len(result.All()))
	return result, nil
}

// RunSubcommand dispatches a named navigation sub-command.
func (c *Completer) RunSubcommand(ctx context.Context, name string, req Request) (result NavigationResult, err error) {
	fn, ok := subcommands[name]
	if !ok {
		return NavigationResult{}, fmt.Errorf("%w: %q (defined: %v)", ErrUnknownSubcommand, name, c.DefinedSubcommands())
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered in subcommand", "subcommand", name, "panic_value", r, "stack", string(debug.Stack()))
			result, err = NavigationResult{}, nil
		}
	}()
	return fn(c, ctx, req)
}
