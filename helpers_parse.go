// dcdcomplete/helpers_parse.go
// Parses the line-oriented output of dcd-client into completion candidates
// and navigation targets.
package dcdcomplete

import (
	"bufio"
	"bytes"
	stdslog "log/slog"
	"os"
	"strconv"
	"strings"
)

// ============================================================================
// Exclusions
// ============================================================================

// defaultExclusions lists name<TAB>kind lines never offered as completions.
var defaultExclusions = []string{
	"identifiers\tk",
	"opCmp\tf",
	"opEquals\tf",
	"toHash\tf",
	"factory\tf",
	"Monitor\tc",
	"mangleof\tk",
}

// ExclusionSet holds exact name<TAB>kind lines to drop from completion output.
// Names starting with an underscore are always dropped regardless of the set.
type ExclusionSet map[string]struct{}

// NewExclusionSet returns the default exclusions extended with extra.
func NewExclusionSet(extra ...string) ExclusionSet {
	set := make(ExclusionSet, len(defaultExclusions)+len(extra))
	for _, e := range defaultExclusions {
		set[e] = struct{}{}
	}
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// Excludes reports whether a trimmed output line is filtered out.
func (s ExclusionSet) Excludes(line string) bool {
	if line == "" || line == identifiersHeader || strings.HasPrefix(line, "_") {
		return true
	}
	_, ok := s[line]
	return ok
}

// ============================================================================
// Completion Output
// ============================================================================

// ParseCompletions parses dcd-client completion output using the default exclusions.
func ParseCompletions(stdout []byte) []CompletionCandidate {
	return parseCompletions(stdout, NewExclusionSet())
}

// parseCompletions turns each surviving name<TAB>kind line into a candidate, in output order.
func parseCompletions(stdout []byte, exclusions ExclusionSet) []CompletionCandidate {
	candidates := []CompletionCandidate{}
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if exclusions.Excludes(line) {
			continue
		}
		name, kind, ok := strings.Cut(line, "\t")
		if !ok || strings.Contains(kind, "\t") || name == "" {
			continue
		}
		candidates = append(candidates, newCandidate(name, kind))
	}
	return candidates
}

// newCandidate builds a candidate, shortening dotted names to their last segment.
func newCandidate(name, kind string) CompletionCandidate {
	c := CompletionCandidate{InsertionText: name, MenuText: name, Kind: kind}
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		short := name[idx+1:]
		c.InsertionText = short
		c.MenuText = short + " (" + name + ")"
	}
	return c
}

// ============================================================================
// Navigation Output
// ============================================================================

// ParseNavigationTargets resolves each file<TAB>offset line of dcd-client
// location output to a line and column. The file name "stdin" refers to
// requestFile, whose contents are requestBuffer; other files are read from disk.
// Malformed lines and unreadable files are skipped.
func ParseNavigationTargets(requestFile string, requestBuffer []byte, stdout []byte, logger *stdslog.Logger) NavigationResult {
	if logger == nil {
		logger = stdslog.Default()
	}
	trimmed := bytes.TrimRight(stdout, " \t\r\n")
	if len(trimmed) == 0 {
		return NavigationResult{}
	}

	buffers := map[string][]byte{}
	var targets []NavigationTarget
	for _, raw := range strings.Split(string(trimmed), "\n") {
		line := strings.TrimRight(raw, "\r")
		file, offsetStr, ok := strings.Cut(line, "\t")
		if !ok || file == "" {
			logger.Debug("Skipping malformed location line", "line", line)
			continue
		}
		offset, err := strconv.Atoi(strings.TrimSpace(offsetStr))
		if err != nil || offset < 0 {
			logger.Debug("Skipping location line with invalid offset", "line", line)
			continue
		}

		var content []byte
		if file == stdinSentinel {
			file = requestFile
			content = requestBuffer
		} else if cached, seen := buffers[file]; seen {
			content = cached
		} else {
			data, readErr := os.ReadFile(file)
			if readErr != nil {
				logger.Warn("Cannot read navigation target file", "file", file, "error", readErr)
				continue
			}
			buffers[file] = data
			content = data
		}

		pos, posErr := ToLineColumn(content, offset)
		if posErr != nil {
			logger.Warn("Navigation offset outside target file, clamped", "file", file, "offset", offset, "error", posErr)
		}
		targets = append(targets, NavigationTarget{File: file, Line: pos.Line, Column: pos.Column})
	}
	return newNavigationResult(targets)
}
