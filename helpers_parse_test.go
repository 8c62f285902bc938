// dcdcomplete/helpers_parse_test.go
package dcdcomplete

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

// archiveFile returns the named file of a txtar archive.
func archiveFile(t *testing.T, ar *txtar.Archive, name string) []byte {
	t.Helper()
	for _, f := range ar.Files {
		if f.Name == name {
			return f.Data
		}
	}
	t.Fatalf("archive has no file %q", name)
	return nil
}

// wantCandidates parses "insertion<TAB>menu<TAB>kind" lines.
func wantCandidates(t *testing.T, data []byte) []CompletionCandidate {
	t.Helper()
	want := []CompletionCandidate{}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 3, "malformed want line %q", line)
		want = append(want, CompletionCandidate{InsertionText: fields[0], MenuText: fields[1], Kind: fields[2]})
	}
	return want
}

func TestParseCompletions_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "completions", "*.txtar"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			ar, err := txtar.ParseFile(path)
			require.NoError(t, err)
			got := ParseCompletions(archiveFile(t, ar, "stdout"))
			require.NotNil(t, got)
			assert.Equal(t, wantCandidates(t, archiveFile(t, ar, "want")), got)
		})
	}
}

func TestParseCompletions_ConfiguredExclusions(t *testing.T) {
	stdout := []byte("writeln\tf\nwrite\tf\nwriteln\tv\n")
	got := parseCompletions(stdout, NewExclusionSet("writeln\tf", "  "))
	assert.Equal(t, []CompletionCandidate{
		{InsertionText: "write", MenuText: "write", Kind: "f"},
		{InsertionText: "writeln", MenuText: "writeln", Kind: "v"},
	}, got)
}

func TestExclusionSet(t *testing.T) {
	set := NewExclusionSet("foo\tv")
	tests := []struct {
		line string
		want bool
	}{
		{"", true},
		{"identifiers", true},
		{"identifiers\tk", true},
		{"_private\tv", true},
		{"foo\tv", true},
		{"foo\tf", false},
		{"opCmp\tf", true},
		{"opCmp\tv", false},
		{"bar\tv", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, set.Excludes(tt.line), "line %q", tt.line)
	}
}

func TestNewCandidate(t *testing.T) {
	assert.Equal(t, CompletionCandidate{InsertionText: "a", MenuText: "a", Kind: "v"}, newCandidate("a", "v"))
	assert.Equal(t, CompletionCandidate{InsertionText: "c", MenuText: "c (a.b.c)", Kind: "M"}, newCandidate("a.b.c", "M"))
}

func TestParseNavigationTargets(t *testing.T) {
	dir := t.TempDir()
	requestFile := filepath.Join(dir, "app.d")
	requestBuffer := []byte("import lib;\nvoid main() { foo(); }\n")
	libFile := filepath.Join(dir, "lib.d")
	require.NoError(t, os.WriteFile(libFile, []byte("module lib;\n\nvoid foo() {}\n"), 0o644))
	missingFile := filepath.Join(dir, "missing.d")

	t.Run("Empty output", func(t *testing.T) {
		got := ParseNavigationTargets(requestFile, requestBuffer, []byte("\n"), newTestLogger())
		assert.True(t, got.Empty())
		assert.Nil(t, got.All())
	})

	t.Run("Stdin refers to the request buffer", func(t *testing.T) {
		got := ParseNavigationTargets(requestFile, requestBuffer, []byte("stdin\t17\n"), newTestLogger())
		require.NotNil(t, got.Target)
		assert.Equal(t, NavigationTarget{File: requestFile, Line: 2, Column: 6}, *got.Target)
		assert.Nil(t, got.Targets)
	})

	t.Run("Other files are read from disk", func(t *testing.T) {
		got := ParseNavigationTargets(requestFile, requestBuffer, []byte(libFile+"\t18\n"), newTestLogger())
		require.NotNil(t, got.Target)
		assert.Equal(t, NavigationTarget{File: libFile, Line: 3, Column: 6}, *got.Target)
	})

	t.Run("Multiple targets keep output order", func(t *testing.T) {
		stdout := strings.Join([]string{
			libFile + "\t18",
			"stdin\t0",
			libFile + "\t0",
		}, "\r\n")
		got := ParseNavigationTargets(requestFile, requestBuffer, []byte(stdout), newTestLogger())
		assert.Nil(t, got.Target)
		assert.Equal(t, []NavigationTarget{
			{File: libFile, Line: 3, Column: 6},
			{File: requestFile, Line: 1, Column: 1},
			{File: libFile, Line: 1, Column: 1},
		}, got.Targets)
	})

	t.Run("Malformed lines and unreadable files are skipped", func(t *testing.T) {
		stdout := strings.Join([]string{
			"no tab here",
			"stdin\tnotanumber",
			"stdin\t-4",
			missingFile + "\t3",
			"stdin\t5",
		}, "\n")
		got := ParseNavigationTargets(requestFile, requestBuffer, []byte(stdout), newTestLogger())
		require.NotNil(t, got.Target)
		assert.Equal(t, NavigationTarget{File: requestFile, Line: 1, Column: 6}, *got.Target)
	})

	t.Run("Offsets past the end are clamped", func(t *testing.T) {
		got := ParseNavigationTargets(requestFile, []byte("ab\ncd"), []byte("stdin\t99"), newTestLogger())
		require.NotNil(t, got.Target)
		assert.Equal(t, NavigationTarget{File: requestFile, Line: 2, Column: 3}, *got.Target)
	})
}

func TestNavigationResultJSON(t *testing.T) {
	none, err := NavigationResult{}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(none))

	one, err := newNavigationResult([]NavigationTarget{{File: "/a.d", Line: 1, Column: 2}}).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"filepath":"/a.d","line_num":1,"column_num":2}`, string(one))

	many, err := newNavigationResult([]NavigationTarget{{File: "/a.d", Line: 1, Column: 2}, {File: "/b.d", Line: 3, Column: 4}}).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"filepath":"/a.d","line_num":1,"column_num":2},{"filepath":"/b.d","line_num":3,"column_num":4}]`, string(many))
}
