// dcdcomplete/helpers_position_test.go
package dcdcomplete

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToByteOffset(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		line, col  int
		wantOffset int
		wantErr    error
	}{
		{"Start of file", "a\nbb\nccc", 1, 1, 0, nil},
		{"Start of line 2", "a\nbb\nccc", 2, 1, 2, nil},
		{"Middle of line 3", "a\nbb\nccc", 3, 2, 6, nil},
		{"End of file", "a\nbb\nccc", 3, 4, 8, nil},
		{"Column past end clamps", "a\nbb\nccc", 3, 5, 8, ErrPositionOutOfRange},
		{"Line after last line clamps", "a\nbb\nccc", 4, 1, 8, ErrPositionOutOfRange},
		{"Line far past end clamps", "a\nbb\nccc", 5, 1, 8, ErrPositionOutOfRange},
		{"Line after trailing newline", "a\n", 2, 1, 2, nil},
		{"CRLF line 2", "a\r\nbb", 2, 1, 3, nil},
		{"CRLF end of file", "a\r\nbb", 2, 3, 5, nil},
		{"Mixed endings count every boundary as CRLF", "a\r\nb\nc", 3, 1, 6, nil},
		{"Empty buffer", "", 1, 1, 0, nil},
		{"Zero line", "abc", 0, 1, 0, ErrInvalidPositionInput},
		{"Zero column", "abc", 1, 0, 0, ErrInvalidPositionInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToByteOffset([]byte(tt.content), tt.line, tt.col)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOffset, got)
		})
	}
}

func TestToLineColumn(t *testing.T) {
	tests := []struct {
		name    string
		content string
		offset  int
		want    CursorPosition
		wantErr bool
	}{
		{"Start of file", "a\nbb\nccc", 0, CursorPosition{1, 1}, false},
		{"Start of line 2", "a\nbb\nccc", 2, CursorPosition{2, 1}, false},
		{"Middle of line 3", "a\nbb\nccc", 6, CursorPosition{3, 2}, false},
		{"End of file", "a\nbb\nccc", 8, CursorPosition{3, 4}, false},
		{"Past end clamps", "a\nbb\nccc", 9, CursorPosition{3, 4}, true},
		{"Negative clamps", "a\nbb\nccc", -1, CursorPosition{1, 1}, true},
		{"CR counts as a column", "a\r\nbb", 1, CursorPosition{1, 2}, false},
		{"After CRLF", "a\r\nbb", 3, CursorPosition{2, 1}, false},
		{"Empty buffer", "", 0, CursorPosition{1, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToLineColumn([]byte(tt.content), tt.offset)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrPositionOutOfRange)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPositionRoundTrip(t *testing.T) {
	for _, content := range []string{"ab\n\ncd\nef", "x", "\n\n", "import std.stdio;\nvoid main() {}\n"} {
		for offset := 0; offset <= len(content); offset++ {
			pos, err := ToLineColumn([]byte(content), offset)
			require.NoError(t, err)
			back, err := ToByteOffset([]byte(content), pos.Line, pos.Column)
			require.NoError(t, err)
			assert.Equal(t, offset, back, "content %q offset %d via %+v", content, offset, pos)
		}
	}
}

// ============================================================================
// LSP Position Conversion Tests
// ============================================================================

func TestUtf16OffsetToBytes(t *testing.T) {
	tests := []struct {
		name           string
		lineContent    string
		utf16Offset    int
		wantByteOffset int
		wantErr        error
	}{
		{"ASCII start", "hello", 0, 0, nil},
		{"ASCII middle", "hello", 2, 2, nil},
		{"ASCII end", "hello", 5, 5, nil},
		{"ASCII past end", "hello", 6, 5, ErrPositionOutOfRange},
		{"ASCII negative", "hello", -1, 0, ErrInvalidPositionInput},
		{"2byte UTF-8 before", "héllo", 1, 1, nil},
		{"2byte UTF-8 after", "héllo", 2, 3, nil},
		{"2byte UTF-8 end", "héllo", 5, 6, nil},
		{"3byte UTF-8 after", "€ euro", 1, 3, nil},
		{"3byte UTF-8 end", "€ euro", 6, 8, nil},
		{"4byte UTF-8 within surrogate", "😂笑", 1, 0, nil},
		{"4byte UTF-8 after surrogate", "😂笑", 2, 4, nil},
		{"4byte UTF-8 end", "😂笑", 3, 7, nil},
		{"4byte UTF-8 past end", "😂笑", 4, 7, ErrPositionOutOfRange},
		{"Mixed within emoji", "a é 😂 €", 5, 5, nil},
		{"Mixed after emoji", "a é 😂 €", 6, 9, nil},
		{"Mixed end", "a é 😂 €", 8, 13, nil},
		{"Empty line start", "", 0, 0, nil},
		{"Empty line past end", "", 1, 0, ErrPositionOutOfRange},
		{"Invalid UTF-8", "a\xffb", 2, 1, ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Utf16OffsetToBytes([]byte(tt.lineContent), tt.utf16Offset)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantByteOffset, got)
		})
	}
}

func TestLspPositionToBytePosition(t *testing.T) {
	content := []byte("line one\ntwo é 😂\nthree €\n")
	tests := []struct {
		name                           string
		content                        []byte
		lspPos                         LSPPosition
		wantLine, wantCol, wantByteOff int
		wantErr                        error
		wantWarnLog                    string
	}{
		{"Start of file", content, LSPPosition{Line: 0, Character: 0}, 1, 1, 0, nil, ""},
		{"End line 1", content, LSPPosition{Line: 0, Character: 8}, 1, 9, 8, nil, ""},
		{"Line 2 after é", content, LSPPosition{Line: 1, Character: 5}, 2, 7, 15, nil, ""},
		{"Line 2 within emoji", content, LSPPosition{Line: 1, Character: 7}, 2, 8, 16, nil, ""},
		{"Line 2 after emoji", content, LSPPosition{Line: 1, Character: 8}, 2, 12, 20, nil, ""},
		{"Line 3 after euro", content, LSPPosition{Line: 2, Character: 7}, 3, 10, 30, nil, ""},
		{"Start of empty last line", content, LSPPosition{Line: 3, Character: 0}, 4, 1, 31, nil, ""},
		{"CRLF line 2", []byte("ab\r\ncd"), LSPPosition{Line: 1, Character: 1}, 2, 2, 5, nil, ""},
		{"CRLF excludes CR from line", []byte("ab\r\ncd"), LSPPosition{Line: 0, Character: 3}, 1, 3, 2, nil, "clamping"},
		{"Nil content", nil, LSPPosition{}, 0, 0, -1, ErrPositionConversion, ""},
		{"Empty content", []byte(""), LSPPosition{}, 1, 1, 0, nil, ""},
		{"Empty content invalid char", []byte(""), LSPPosition{Character: 1}, 0, 0, -1, ErrPositionOutOfRange, ""},
		{"Empty content invalid line", []byte(""), LSPPosition{Line: 1}, 0, 0, -1, ErrPositionOutOfRange, ""},
		{"Negative line", content, LSPPosition{Line: uint32(0xFFFFFFFF)}, 0, 0, -1, ErrInvalidPositionInput, ""},
		{"Negative char", content, LSPPosition{Character: uint32(0xFFFFFFFF)}, 0, 0, -1, ErrInvalidPositionInput, ""},
		{"Line past end", content, LSPPosition{Line: 4}, 0, 0, -1, ErrPositionOutOfRange, ""},
		{"Char past end clamps", content, LSPPosition{Line: 0, Character: 10}, 1, 9, 8, nil, "clamping"},
		{"Char past end of empty last line", content, LSPPosition{Line: 3, Character: 1}, 0, 0, -1, ErrPositionOutOfRange, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logBuf := newBufferLogger()
			gotLine, gotCol, gotByteOff, err := LspPositionToBytePosition(tt.content, tt.lspPos, logger)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantLine, gotLine, "line")
			assert.Equal(t, tt.wantCol, gotCol, "col")
			assert.Equal(t, tt.wantByteOff, gotByteOff, "byte offset")
			if tt.wantWarnLog != "" {
				assert.Contains(t, logBuf.String(), tt.wantWarnLog)
			} else {
				assert.NotContains(t, logBuf.String(), "level=WARN")
			}
		})
	}
}

func TestByteOffsetToLSPPosition(t *testing.T) {
	content := []byte("ab\n😂x")
	tests := []struct {
		name     string
		offset   int
		wantLine uint32
		wantChar uint32
		wantErr  bool
	}{
		{"Start", 0, 0, 0, false},
		{"Before newline", 2, 0, 2, false},
		{"Start of line 2", 3, 1, 0, false},
		{"After emoji", 7, 1, 2, false},
		{"End of file", 8, 1, 3, false},
		{"Past end clamps", 100, 1, 3, false},
		{"Negative", -1, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, char, err := byteOffsetToLSPPosition(content, tt.offset, newTestLogger())
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPositionInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLine, line)
			assert.Equal(t, tt.wantChar, char)
		})
	}
}

func TestNavigationTargetToLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mod.d")
	content := []byte("ab\n😂x")

	loc, err := navigationTargetToLocation(NavigationTarget{File: path, Line: 2, Column: 5}, content, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, DocumentURI(PathToURI(path)), loc.URI)
	assert.Equal(t, LSPPosition{Line: 1, Character: 2}, loc.Range.Start)
	assert.Equal(t, loc.Range.Start, loc.Range.End)

	roundTrip, err := ValidateAndGetFilePath(string(loc.URI), newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, path, roundTrip)
}
