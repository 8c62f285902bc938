// dcdcomplete/dcdcomplete_errors.go
// Contains exported error definitions for the dcdcomplete package.
package dcdcomplete

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrBinaryNotFound indicates none of the configured dcd-client executables could be located.
	// Construction of a Completer fails with this error; no completions are possible without the tool.
	ErrBinaryNotFound = errors.New("dcd-client binary not found")

	// ErrToolReported indicates dcd-client wrote to stderr. The output is included in the wrapped message.
	ErrToolReported = errors.New("dcd-client reported an error")

	// ErrToolFailed indicates dcd-client could not be started or exited unsuccessfully without stderr output.
	ErrToolFailed = errors.New("dcd-client invocation failed")

	// ErrToolTimeout indicates a dcd-client invocation exceeded the configured deadline.
	ErrToolTimeout = errors.New("dcd-client timed out")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPositionConversion indicates failure converting between position formats (e.g., LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the buffer.
	// Functions returning it also return a clamped, usable value.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")

	// ErrUnknownSubcommand indicates a navigation sub-command name that is not registered.
	ErrUnknownSubcommand = errors.New("unknown subcommand")

	// ErrUnsupportedFiletype indicates a request for a file type the completer does not handle.
	ErrUnsupportedFiletype = errors.New("unsupported filetype")
)
