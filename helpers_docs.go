// dcdcomplete/helpers_docs.go
// Optional documentation lookup for completion candidates.
package dcdcomplete

import (
	"context"
	stdslog "log/slog"
	"strings"
)

// importLines returns the buffer's single-line import declarations joined by newlines.
func importLines(contents []byte) string {
	var imports []string
	for _, line := range splitLines(contents) {
		s := string(line)
		if strings.HasPrefix(s, docSnippetImportPrefix) && strings.HasSuffix(strings.TrimSpace(s), docSnippetImportTerminate) {
			imports = append(imports, s)
		}
	}
	return strings.Join(imports, "\n")
}

// docSnippet builds the synthetic buffer used to ask dcd-client for symbol
// documentation and returns it with the offset of the symbol's last byte.
func docSnippet(imports, symbol string) ([]byte, int) {
	snippet := imports + "\n" + symbol
	return []byte(snippet), len(snippet) - 1
}

// formatDetail renders the detail text shown for a candidate.
func formatDetail(short, kind, doc string) string {
	return short + ": " + kind + "\n" + strings.ReplaceAll(doc, `\n`, "\n")
}

// fetchDoc asks dcd-client for the documentation of symbol. Failures yield an empty string.
func (c *Completer) fetchDoc(ctx context.Context, filePath, imports, symbol string, extraArgs []string, logger *stdslog.Logger) string {
	snippet, offset := docSnippet(imports, symbol)
	out, err := c.invoke(ctx, "doc", filePath, docArgs(extraArgs, offset), snippet, logger)
	if err != nil {
		logger.Debug("Documentation lookup failed", "symbol", symbol, "error", err)
		return ""
	}
	return strings.TrimRight(string(out), "\r\n")
}

// candidateSymbol recovers the full symbol name of a candidate from its menu text.
func candidateSymbol(c CompletionCandidate) string {
	if c.MenuText == c.InsertionText {
		return c.InsertionText
	}
	prefix := c.InsertionText + " ("
	if strings.HasPrefix(c.MenuText, prefix) && strings.HasSuffix(c.MenuText, ")") {
		return c.MenuText[len(prefix) : len(c.MenuText)-1]
	}
	return c.InsertionText
}

// attachDocs fills in Detail for every candidate, stopping early when ctx is done.
func (c *Completer) attachDocs(ctx context.Context, filePath string, contents []byte, candidates []CompletionCandidate, extraArgs []string, logger *stdslog.Logger) {
	imports := importLines(contents)
	for i := range candidates {
		if ctx.Err() != nil {
			return
		}
		doc := c.fetchDoc(ctx, filePath, imports, candidateSymbol(candidates[i]), extraArgs, logger)
		candidates[i].Detail = formatDetail(candidates[i].InsertionText, candidates[i].Kind, doc)
	}
}
