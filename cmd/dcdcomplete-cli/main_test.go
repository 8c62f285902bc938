package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehackedyou/dcdcomplete"
)

func TestRequest(t *testing.T) {
	opts := cliOptions{filePath: "/tmp/app.d", line: 2, col: 19}

	t.Run("Without stdin the file is read by the completer", func(t *testing.T) {
		app := &cliApp{opts: opts}
		req, err := app.request()
		require.NoError(t, err)
		assert.Equal(t, dcdcomplete.Request{FilePath: "/tmp/app.d", LineNum: 2, ColumnNum: 19}, req)
	})

	t.Run("Stdin becomes the dirty buffer", func(t *testing.T) {
		stdinOpts := opts
		stdinOpts.stdin = true
		app := &cliApp{opts: stdinOpts, stdin: strings.NewReader("void main() {}\n")}
		req, err := app.request()
		require.NoError(t, err)
		assert.Equal(t, map[string]dcdcomplete.FileData{
			"/tmp/app.d": {Contents: "void main() {}\n", Filetypes: []string{"d"}},
		}, req.FileData)
	})

	t.Run("Empty stdin is rejected", func(t *testing.T) {
		stdinOpts := opts
		stdinOpts.stdin = true
		app := &cliApp{opts: stdinOpts, stdin: strings.NewReader("")}
		_, err := app.request()
		assert.ErrorIs(t, err, errEmptyStdin)
	})
}
