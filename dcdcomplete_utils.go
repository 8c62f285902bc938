// dcdcomplete/dcdcomplete_utils.go
// Contains utility functions used across the dcdcomplete package.
package dcdcomplete

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	stdslog "log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// ============================================================================
// Logging Helpers
// ============================================================================

// ParseLogLevel converts a log level string to its slog.Level equivalent.
func ParseLogLevel(levelStr string) (stdslog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return stdslog.LevelDebug, nil
	case "info":
		return stdslog.LevelInfo, nil
	case "warn", "warning":
		return stdslog.LevelWarn, nil
	case "error", "err":
		return stdslog.LevelError, nil
	default:
		return stdslog.LevelInfo, fmt.Errorf("invalid log level string: %q (expected debug, info, warn, or error)", levelStr)
	}
}

// ============================================================================
// Path & URI Helpers
// ============================================================================

// ValidateAndGetFilePath converts a file:// DocumentURI string to a clean, absolute local path.
func ValidateAndGetFilePath(uri string, logger *stdslog.Logger) (string, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	if uri == "" {
		return "", fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		logger.Debug("Failed to parse document URI", "uri", uri, "error", err)
		return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, parsed.Scheme)
	}
	path := parsed.Path
	if path == "" {
		return "", fmt.Errorf("%w: URI has no path", ErrInvalidURI)
	}
	// file:///C:/x parses with a leading slash before the drive letter.
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	absPath, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return "", fmt.Errorf("%w: cannot make path absolute: %w", ErrInvalidURI, err)
	}
	return filepath.Clean(absPath), nil
}

// PathToURI converts a local file path to a file:// DocumentURI string.
func PathToURI(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	slashed := filepath.ToSlash(absPath)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return u.String()
}

// ============================================================================
// Configuration File Helpers
// ============================================================================

// GetConfigPaths returns the primary (user config dir) and secondary (~/.config) config file paths.
func GetConfigPaths(logger *stdslog.Logger) (primary string, secondary string, err error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	var pathErrors []error

	userConfigDir, ucErr := os.UserConfigDir()
	if ucErr == nil && userConfigDir != "" {
		primary = filepath.Join(userConfigDir, configDirName, defaultConfigFileName)
	} else {
		logger.Warn("Could not determine user config directory", "error", ucErr)
		pathErrors = append(pathErrors, fmt.Errorf("user config dir: %w", ucErr))
	}

	homeDir, hErr := os.UserHomeDir()
	if hErr == nil && homeDir != "" {
		secondary = filepath.Join(homeDir, ".config", configDirName, defaultConfigFileName)
	} else {
		logger.Warn("Could not determine user home directory", "error", hErr)
		pathErrors = append(pathErrors, fmt.Errorf("home dir: %w", hErr))
	}

	if primary == "" && secondary != "" {
		primary = secondary
		secondary = ""
	}
	if primary == "" {
		return "", "", fmt.Errorf("%w: cannot determine config location: %w", ErrConfig, errors.Join(pathErrors...))
	}
	if primary == secondary {
		secondary = ""
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig reads a TOML config file and merges the fields it sets into cfg.
// Returns loaded=false without error when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *stdslog.Logger) (loaded bool, err error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			logger.Debug("Config file not found", "path", path)
			return false, nil
		}
		return false, fmt.Errorf("reading config file: %w", readErr)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Info("Config file exists but is empty, using defaults", "path", path)
		return true, nil
	}

	var fileCfg FileConfig
	md, decodeErr := toml.Decode(string(data), &fileCfg)
	if decodeErr != nil {
		return false, fmt.Errorf("%w: parsing config file TOML: %w", ErrConfig, decodeErr)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		logger.Warn("Ignoring unknown config keys", "path", path, "keys", keys)
	}

	merged := mergeFileConfig(cfg, fileCfg)
	logger.Debug("Merged config file", "path", path, "fields_merged", merged)
	return true, nil
}

// mergeFileConfig copies every field set in fc into cfg and reports how many were set.
func mergeFileConfig(cfg *Config, fc FileConfig) int {
	merged := 0
	if fc.BinaryNames != nil {
		cfg.BinaryNames = slices.Clone(*fc.BinaryNames)
		merged++
	}
	if fc.BinaryPath != nil {
		cfg.BinaryPath = *fc.BinaryPath
		merged++
	}
	if fc.ExtraArgs != nil {
		cfg.ExtraArgs = slices.Clone(*fc.ExtraArgs)
		merged++
	}
	if fc.ToolTimeoutSeconds != nil {
		cfg.ToolTimeoutSeconds = *fc.ToolTimeoutSeconds
		merged++
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
		merged++
	}
	if fc.FetchDocs != nil {
		cfg.FetchDocs = *fc.FetchDocs
		merged++
	}
	if fc.Exclude != nil {
		cfg.Exclude = slices.Clone(*fc.Exclude)
		merged++
	}
	if fc.DebugAddr != nil {
		cfg.DebugAddr = *fc.DebugAddr
		merged++
	}
	return merged
}

const defaultConfigHeader = `# dcdcomplete configuration.
# binary_names are searched on PATH unless binary_path is set.
# exclude entries use the form "name<TAB>kind", e.g. "opCmp\tf".

`

// WriteDefaultConfig writes cfg as a TOML file at path, creating parent directories.
func WriteDefaultConfig(path string, cfg Config, logger *stdslog.Logger) error {
	if logger == nil {
		logger = stdslog.Default()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	var buf bytes.Buffer
	buf.WriteString(defaultConfigHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing default config %s: %w", path, err)
	}
	logger.Info("Wrote default configuration file", "path", path)
	return nil
}

// ============================================================================
// LSP Position Conversion Helpers
// ============================================================================

// LspPositionToBytePosition converts 0-based LSP line/character (UTF-16) to
// 1-based line/column (bytes) and a 0-based byte offset. LF and CRLF line
// endings are both recognised; the CR is not part of the line.
func LspPositionToBytePosition(content []byte, lspPos LSPPosition, logger *stdslog.Logger) (line, col, byteOffset int, err error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	if content == nil {
		return 0, 0, -1, fmt.Errorf("%w: file content is nil", ErrPositionConversion)
	}
	targetLine := int(int32(lspPos.Line))
	targetUTF16Char := int(int32(lspPos.Character))
	if targetLine < 0 {
		return 0, 0, -1, fmt.Errorf("%w: line number %d must be >= 0", ErrInvalidPositionInput, targetLine)
	}
	if targetUTF16Char < 0 {
		return 0, 0, -1, fmt.Errorf("%w: character offset %d must be >= 0", ErrInvalidPositionInput, targetUTF16Char)
	}

	lineStart := 0
	for currentLine := 0; ; currentLine++ {
		lineEnd := len(content)
		next := -1
		if idx := bytes.IndexByte(content[lineStart:], '\n'); idx >= 0 {
			lineEnd = lineStart + idx
			next = lineEnd + 1
		}
		lineText := bytes.TrimSuffix(content[lineStart:lineEnd], []byte{'\r'})

		if currentLine == targetLine {
			byteOffsetInLine, convErr := Utf16OffsetToBytes(lineText, targetUTF16Char)
			if convErr != nil {
				if !errors.Is(convErr, ErrPositionOutOfRange) {
					return 0, 0, -1, fmt.Errorf("failed converting UTF16 to byte offset on line %d: %w", currentLine, convErr)
				}
				if next < 0 && len(lineText) == 0 {
					return 0, 0, -1, fmt.Errorf("%w: invalid character offset %d on line %d (after last line with content)", ErrPositionOutOfRange, targetUTF16Char, targetLine)
				}
				logger.Warn("UTF16 offset out of range, clamping to line end", "line", targetLine, "char", targetUTF16Char, "error", convErr)
				byteOffsetInLine = len(lineText)
			}
			return currentLine + 1, byteOffsetInLine + 1, lineStart + byteOffsetInLine, nil
		}
		if next < 0 {
			return 0, 0, -1, fmt.Errorf("%w: LSP line %d not found in file (total lines %d)", ErrPositionOutOfRange, targetLine, currentLine+1)
		}
		lineStart = next
	}
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a 0-based byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, fmt.Errorf("%w: invalid utf16Offset: %d (must be >= 0)", ErrInvalidPositionInput, utf16Offset)
	}
	if utf16Offset == 0 {
		return 0, nil
	}

	byteOffset := 0
	currentUTF16Offset := 0
	for byteOffset < len(line) {
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, byteOffset)
		}
		utf16Units := 1
		if r > 0xFFFF {
			utf16Units = 2
		}
		// A target inside a surrogate pair resolves to the start of the rune.
		if currentUTF16Offset+utf16Units > utf16Offset {
			break
		}
		currentUTF16Offset += utf16Units
		byteOffset += size
		if currentUTF16Offset == utf16Offset {
			break
		}
	}
	if currentUTF16Offset < utf16Offset && byteOffset >= len(line) {
		return len(line), fmt.Errorf("%w: utf16Offset %d is beyond the line length in UTF-16 units (%d)", ErrPositionOutOfRange, utf16Offset, currentUTF16Offset)
	}
	return byteOffset, nil
}
