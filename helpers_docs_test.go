// dcdcomplete/helpers_docs_test.go
package dcdcomplete

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportLines(t *testing.T) {
	content := []byte("module app;\nimport std.stdio;\nimport std.algorithm : map;\r\n  import indented;\nimport unterminated\nvoid main() {}\n")
	assert.Equal(t, "import std.stdio;\nimport std.algorithm : map;", importLines(content))
	assert.Equal(t, "", importLines([]byte("void main() {}")))
}

func TestDocSnippet(t *testing.T) {
	snippet, offset := docSnippet("import std.stdio;", "std.stdio.writeln")
	assert.Equal(t, "import std.stdio;\nstd.stdio.writeln", string(snippet))
	assert.Equal(t, len(snippet)-1, offset)

	snippet, offset = docSnippet("", "x")
	assert.Equal(t, "\nx", string(snippet))
	assert.Equal(t, 1, offset)
}

func TestFormatDetail(t *testing.T) {
	assert.Equal(t, "writeln: f\nline one\nline two", formatDetail("writeln", "f", `line one\nline two`))
	assert.Equal(t, "x: v\n", formatDetail("x", "v", ""))
}

func TestCandidateSymbol(t *testing.T) {
	tests := []struct {
		candidate CompletionCandidate
		want      string
	}{
		{newCandidate("writeln", "f"), "writeln"},
		{newCandidate("std.stdio.File", "s"), "std.stdio.File"},
		{CompletionCandidate{InsertionText: "a", MenuText: "something else"}, "a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, candidateSymbol(tt.candidate))
	}
}
