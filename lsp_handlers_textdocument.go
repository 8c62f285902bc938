// dcdcomplete/lsp_handlers_textdocument.go
// Contains LSP method handlers related to text document synchronization and language features
// (didOpen, didChange, didClose, completion, definition, declaration).
package dcdcomplete

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Text Document Method Handlers
// ============================================================================

// handleDidOpen handles the 'textDocument/didOpen' notification.
func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	content := []byte(params.TextDocument.Text)
	openLogger := logger.With("uri", uri, "version", version, "size", len(content), "language_id", params.TextDocument.LanguageID)
	openLogger.Info("Handling textDocument/didOpen")

	absPath, pathErr := ValidateAndGetFilePath(string(uri), openLogger)
	if pathErr != nil {
		openLogger.Error("Invalid URI in didOpen", "error", pathErr)
		s.sendShowMessage(ctx, conn, MessageTypeError, fmt.Sprintf("Invalid document URI: %v", pathErr))
		return nil, nil
	}

	s.filesMu.Lock()
	s.files[uri] = &OpenFile{
		URI:        uri,
		Path:       absPath,
		LanguageID: params.TextDocument.LanguageID,
		Content:    content,
		Version:    version,
	}
	s.filesMu.Unlock()
	return nil, nil
}

// handleDidChange handles the 'textDocument/didChange' notification (full sync only).
func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changeLogger := logger.With("uri", uri, "new_version", version)

	if len(params.ContentChanges) == 0 {
		changeLogger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	newContent := []byte(params.ContentChanges[len(params.ContentChanges)-1].Text)
	changeLogger.Debug("Handling textDocument/didChange", "new_size", len(newContent))

	absPath, pathErr := ValidateAndGetFilePath(string(uri), changeLogger)
	if pathErr != nil {
		changeLogger.Error("Invalid URI in didChange", "error", pathErr)
		return nil, nil
	}

	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	currentFile, exists := s.files[uri]
	switch {
	case !exists:
		s.files[uri] = &OpenFile{URI: uri, Path: absPath, Content: newContent, Version: version}
		changeLogger.Warn("didChange for unopened document, tracking it without a languageId")
	case version > currentFile.Version:
		currentFile.Content = newContent
		currentFile.Version = version
	default:
		changeLogger.Warn("Ignoring out-of-order didChange notification", "received_version", version, "current_version", currentFile.Version)
	}
	return nil, nil
}

// handleDidClose handles the 'textDocument/didClose' notification.
func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	logger.With("uri", uri).Info("Handling textDocument/didClose")

	s.filesMu.Lock()
	delete(s.files, uri)
	s.filesMu.Unlock()
	return nil, nil
}

// handleCompletion answers textDocument/completion with the candidates dcd-client reports.
func (s *Server) handleCompletion(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params CompletionParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	lspPos := params.Position
	completionLogger := logger.With("uri", uri, "lsp_line", lspPos.Line, "lsp_char", lspPos.Character)
	completionLogger.Info("Handling textDocument/completion")
	emptyList := CompletionList{IsIncomplete: false, Items: []CompletionItem{}}

	if cc := params.Context; cc != nil && cc.TriggerKind == CompletionTriggerKindTriggerChar &&
		!slices.Contains(completionTriggerCharacters, cc.TriggerCharacter) {
		completionLogger.Debug("Ignoring completion for unserved trigger character", "trigger_character", cc.TriggerCharacter)
		return emptyList, nil
	}

	request, languageID, err := s.buildRequest(params.TextDocumentPositionParams, completionLogger)
	if err != nil {
		completionLogger.Error("Cannot build completion request", "error", err)
		return emptyList, nil
	}
	if !s.supportsLanguage(languageID) {
		completionLogger.Debug("Unsupported languageId, returning no completions")
		return emptyList, nil
	}

	start := time.Now()
	candidates := s.completer.ComputeCandidates(ctx, request)
	if ctx.Err() != nil {
		completionLogger.Info("Completion request cancelled", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	}

	items := make([]CompletionItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, candidateToCompletionItem(c))
	}
	completionLogger.Info("Completion finished", "items", len(items), "duration", time.Since(start))
	return CompletionList{IsIncomplete: false, Items: items}, nil
}

// handleNavigation runs a navigation sub-command and maps its result to
// null, a single Location, or a list of Locations.
func (s *Server) handleNavigation(ctx context.Context, subcommand string, params TextDocumentPositionParams, logger *slog.Logger) (any, error) {
	navLogger := logger.With("uri", params.TextDocument.URI, "subcommand", subcommand, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)
	navLogger.Info("Handling navigation request")

	request, languageID, err := s.buildRequest(params, navLogger)
	if err != nil {
		navLogger.Error("Cannot build navigation request", "error", err)
		return nil, nil
	}
	if !s.supportsLanguage(languageID) {
		navLogger.Debug("Unsupported languageId, returning no location")
		return nil, nil
	}

	result, err := s.completer.RunSubcommand(ctx, subcommand, request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
		}
		if errors.Is(err, ErrUnknownSubcommand) {
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
		}
		navLogger.Error("Navigation failed", "error", err)
		return nil, nil
	}

	// Targets are resolved against the bytes dcd-client saw: the request
	// buffer for the request file, the disk copy for every other file.
	requestBuffer, err := s.completer.requestBuffer(request)
	if err != nil {
		navLogger.Error("Cannot read request buffer", "error", err)
		return nil, nil
	}
	diskCopies := map[string][]byte{}
	var locations []Location
	for _, target := range result.All() {
		content := requestBuffer
		if target.File != request.FilePath {
			data, seen := diskCopies[target.File]
			if !seen {
				var readErr error
				if data, readErr = os.ReadFile(target.File); readErr != nil {
					navLogger.Warn("Cannot read navigation target", "file", target.File, "error", readErr)
					continue
				}
				diskCopies[target.File] = data
			}
			content = data
		}
		loc, convErr := navigationTargetToLocation(target, content, navLogger)
		if convErr != nil {
			navLogger.Warn("Cannot convert navigation target", "error", convErr)
			continue
		}
		locations = append(locations, loc)
	}

	switch len(locations) {
	case 0:
		return nil, nil
	case 1:
		return locations[0], nil
	default:
		return locations, nil
	}
}

// supportsLanguage reports whether a document's languageId is served. An
// unknown languageId (document not open) is left to the completer to judge.
func (s *Server) supportsLanguage(languageID string) bool {
	return languageID == "" || slices.Contains(s.completer.SupportedFiletypes(), languageID)
}
