// dcdcomplete/helpers_position.go
// Converts between the host's 1-based line/column cursor model and the byte
// offsets dcd-client works with.
package dcdcomplete

import (
	"bytes"
	"fmt"
)

// ============================================================================
// Position Translation
// ============================================================================

// lineSeparatorWidth reports the byte width used for every line boundary of content.
// Any CRLF makes the whole buffer count as CRLF.
func lineSeparatorWidth(content []byte) int {
	if bytes.Contains(content, []byte("\r\n")) {
		return 2
	}
	return 1
}

// splitLines splits content on LF, CR, or CRLF and drops the terminators.
func splitLines(content []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\n':
			lines = append(lines, content[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, content[start:i])
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// ToByteOffset converts a 1-based line and byte column into a 0-based byte offset.
//
// When line lies past the end of the buffer, or the computed offset exceeds
// it, the offset is clamped to len(content) and returned together with
// ErrPositionOutOfRange so callers can log and continue.
func ToByteOffset(content []byte, line, column int) (int, error) {
	if line < 1 || column < 1 {
		return 0, fmt.Errorf("%w: line %d, column %d (both must be >= 1)", ErrInvalidPositionInput, line, column)
	}
	lines := splitLines(content)
	sep := lineSeparatorWidth(content)

	if line > len(lines)+1 {
		return len(content), fmt.Errorf("%w: line %d exceeds buffer line count %d", ErrPositionOutOfRange, line, len(lines))
	}

	offset := 0
	for _, l := range lines[:min(line-1, len(lines))] {
		offset += len(l)
	}
	offset += sep*(line-1) + column - 1

	if offset > len(content) {
		return len(content), fmt.Errorf("%w: offset %d for %d:%d exceeds buffer size %d", ErrPositionOutOfRange, offset, line, column, len(content))
	}
	return offset, nil
}

// ToLineColumn converts a 0-based byte offset into a 1-based line and column.
// Only LF is counted as a line boundary, so a CR preceding it is part of the
// line's columns.
func ToLineColumn(content []byte, offset int) (CursorPosition, error) {
	var rangeErr error
	switch {
	case offset < 0:
		rangeErr = fmt.Errorf("%w: offset %d is negative", ErrPositionOutOfRange, offset)
		offset = 0
	case offset > len(content):
		rangeErr = fmt.Errorf("%w: offset %d exceeds buffer size %d", ErrPositionOutOfRange, offset, len(content))
		offset = len(content)
	}

	prefix := content[:offset]
	pos := CursorPosition{Line: bytes.Count(prefix, []byte{'\n'}) + 1}
	if last := bytes.LastIndexByte(prefix, '\n'); last >= 0 {
		pos.Column = offset - last
	} else {
		pos.Column = offset + 1
	}
	return pos, rangeErr
}
