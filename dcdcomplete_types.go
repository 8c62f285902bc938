// dcdcomplete/dcdcomplete_types.go
// Contains core type definitions used throughout the dcdcomplete package.
package dcdcomplete

import (
	"encoding/json"
	"errors"
	"fmt"
	stdslog "log/slog"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultBinaryName         = "dcd-client"
	defaultToolTimeoutSecs    = 5
	defaultLogLevel           = "info"
	defaultDebugAddr          = "localhost:6062"
	defaultConfigFileName     = "config.toml"
	configDirName             = "dcdcomplete"
	maxToolTimeoutSecs        = 120
	stdinSentinel             = "stdin" // File name dcd-client reports for the piped buffer.
	identifiersHeader         = "identifiers"
	supportedFiletypeD        = "d"
	docSnippetImportPrefix    = "import"
	docSnippetImportTerminate = ";"
)

// Config holds the active configuration for the completion service.
type Config struct {
	BinaryNames        []string      `toml:"binary_names" json:"binary_names"`
	BinaryPath         string        `toml:"binary_path" json:"binary_path"`
	ExtraArgs          []string      `toml:"extra_args" json:"extra_args"`
	ToolTimeoutSeconds int           `toml:"tool_timeout_seconds" json:"tool_timeout_seconds"`
	LogLevel           string        `toml:"log_level" json:"log_level"`
	FetchDocs          bool          `toml:"fetch_docs" json:"fetch_docs"`
	Exclude            []string      `toml:"exclude" json:"exclude"`
	DebugAddr          string        `toml:"debug_addr" json:"debug_addr"`
	ToolTimeout        time.Duration `toml:"-" json:"-"` // Derived from ToolTimeoutSeconds.
}

// FileConfig represents the structure of the config file and of client settings.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	BinaryNames        *[]string `toml:"binary_names" json:"binary_names"`
	BinaryPath         *string   `toml:"binary_path" json:"binary_path"`
	ExtraArgs          *[]string `toml:"extra_args" json:"extra_args"`
	ToolTimeoutSeconds *int      `toml:"tool_timeout_seconds" json:"tool_timeout_seconds"`
	LogLevel           *string   `toml:"log_level" json:"log_level"`
	FetchDocs          *bool     `toml:"fetch_docs" json:"fetch_docs"`
	Exclude            *[]string `toml:"exclude" json:"exclude"`
	DebugAddr          *string   `toml:"debug_addr" json:"debug_addr"`
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	return Config{
		BinaryNames:        []string{defaultBinaryName},
		BinaryPath:         "",
		ExtraArgs:          []string{},
		ToolTimeoutSeconds: defaultToolTimeoutSecs,
		LogLevel:           defaultLogLevel,
		FetchDocs:          false,
		Exclude:            []string{},
		DebugAddr:          defaultDebugAddr,
		ToolTimeout:        defaultToolTimeoutSecs * time.Second,
	}
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	names := make([]string, 0, len(c.BinaryNames))
	for _, name := range c.BinaryNames {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	if len(names) == 0 && strings.TrimSpace(c.BinaryPath) == "" {
		logger.Warn("Config validation: binary_names is empty, applying default.", "default", tempDefault.BinaryNames)
		names = append(names, tempDefault.BinaryNames...)
	}
	c.BinaryNames = names
	c.BinaryPath = strings.TrimSpace(c.BinaryPath)

	if c.ToolTimeoutSeconds <= 0 {
		logger.Warn("Config validation: tool_timeout_seconds is not positive, applying default.", "configured_value", c.ToolTimeoutSeconds, "default", tempDefault.ToolTimeoutSeconds)
		c.ToolTimeoutSeconds = tempDefault.ToolTimeoutSeconds
	}
	if c.ToolTimeoutSeconds > maxToolTimeoutSecs {
		validationErrors = append(validationErrors, fmt.Errorf("tool_timeout_seconds %d exceeds maximum %d", c.ToolTimeoutSeconds, maxToolTimeoutSecs))
		c.ToolTimeoutSeconds = maxToolTimeoutSecs
	}
	c.ToolTimeout = time.Duration(c.ToolTimeoutSeconds) * time.Second

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else {
		_, err := ParseLogLevel(c.LogLevel)
		if err != nil {
			logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
			validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
			c.LogLevel = defaultLogLevel
		}
	}

	for _, entry := range c.Exclude {
		if strings.Count(entry, "\t") != 1 {
			validationErrors = append(validationErrors, fmt.Errorf("exclude entry %q must have the form name<TAB>kind", entry))
		}
	}
	if c.ExtraArgs == nil {
		c.ExtraArgs = []string{}
	}
	if c.Exclude == nil {
		c.Exclude = []string{}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// clone returns a deep copy so callers cannot mutate slices shared with the completer.
func (c Config) clone() Config {
	out := c
	out.BinaryNames = slices.Clone(c.BinaryNames)
	out.ExtraArgs = slices.Clone(c.ExtraArgs)
	out.Exclude = slices.Clone(c.Exclude)
	return out
}

// =============================================================================
// Request & Result Types
// =============================================================================

// FileData is the in-memory state of one buffer as supplied by the host.
type FileData struct {
	Contents  string   `json:"contents"`
	Filetypes []string `json:"filetypes,omitempty"`
}

// Request is a single completion or navigation request from the host.
// LineNum and ColumnNum are 1-based, ColumnNum counts bytes.
type Request struct {
	FilePath  string              `json:"filepath"`
	LineNum   int                 `json:"line_num"`
	ColumnNum int                 `json:"column_num"`
	FileData  map[string]FileData `json:"file_data"`
}

// CursorPosition is a 1-based line/column location in a text buffer.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// CompletionCandidate is one suggestion produced from a dcd-client completion line.
type CompletionCandidate struct {
	InsertionText string `json:"insertion_text"`
	MenuText      string `json:"menu_text"`
	Kind          string `json:"kind"` // DCD symbol kind letter, e.g. "v", "f", "c".
	Detail        string `json:"detail,omitempty"`
}

// NavigationTarget is a resolved go-to destination.
type NavigationTarget struct {
	File   string `json:"filepath"`
	Line   int    `json:"line_num"`
	Column int    `json:"column_num"`
}

// NavigationResult holds either nothing, exactly one target, or several targets.
// Hosts depend on this three-way shape, so it marshals to null, an object, or an array.
type NavigationResult struct {
	Target  *NavigationTarget
	Targets []NavigationTarget
}

// newNavigationResult builds the three-way result shape from an ordered target list.
func newNavigationResult(targets []NavigationTarget) NavigationResult {
	switch len(targets) {
	case 0:
		return NavigationResult{}
	case 1:
		t := targets[0]
		return NavigationResult{Target: &t}
	default:
		return NavigationResult{Targets: targets}
	}
}

// Empty reports whether no target was found.
func (r NavigationResult) Empty() bool {
	return r.Target == nil && len(r.Targets) == 0
}

// All returns the targets as a slice regardless of shape.
func (r NavigationResult) All() []NavigationTarget {
	if r.Target != nil {
		return []NavigationTarget{*r.Target}
	}
	return r.Targets
}

// MarshalJSON encodes the result as null, a single object, or an array.
func (r NavigationResult) MarshalJSON() ([]byte, error) {
	switch {
	case r.Target != nil:
		return json.Marshal(r.Target)
	case len(r.Targets) > 0:
		return json.Marshal(r.Targets)
	default:
		return []byte("null"), nil
	}
}

// =============================================================================
// Symbol Kinds
// =============================================================================

// DCD symbol kind letters as printed in the second column of completion output.
const (
	KindClass             = "c"
	KindInterface         = "i"
	KindStruct            = "s"
	KindUnion             = "u"
	KindVariable          = "v"
	KindMemberVariable    = "m"
	KindKeyword           = "k"
	KindFunction          = "f"
	KindEnumName          = "g"
	KindEnumMember        = "e"
	KindPackage           = "P"
	KindModule            = "M"
	KindArray             = "a"
	KindAssociativeArray  = "A"
	KindAlias             = "l"
	KindTemplate          = "t"
	KindMixinTemplate     = "T"
	KindFunctionParameter = "p"
)
