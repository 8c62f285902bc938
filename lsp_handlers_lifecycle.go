// dcdcomplete/lsp_handlers_lifecycle.go
// Contains LSP method handlers related to the server lifecycle (initialize, shutdown, exit).
package dcdcomplete

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Lifecycle Method Handlers
// ============================================================================

// configurationPullTimeout bounds the wait for a workspace/configuration reply.
const configurationPullTimeout = 10 * time.Second

// completionTriggerCharacters are the characters after which clients should ask for completions.
var completionTriggerCharacters = []string{"."}

// handleInitialize handles the 'initialize' request.
// It stores client capabilities and returns server capabilities.
func (s *Server) handleInitialize(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params InitializeParams, logger *slog.Logger) (any, error) {
	clientName, clientVersion := "", ""
	if params.ClientInfo != nil {
		clientName, clientVersion = params.ClientInfo.Name, params.ClientInfo.Version
	}
	logger.Info("Handling initialize request", "client_name", clientName, "client_version", clientVersion)

	serverCapabilities := ServerCapabilities{
		TextDocumentSync: &TextDocumentSyncOptions{
			OpenClose: true,
			Change:    TextDocumentSyncKindFull,
		},
		CompletionProvider: &CompletionOptions{
			TriggerCharacters: completionTriggerCharacters,
		},
		DefinitionProvider:  true,
		DeclarationProvider: true,
		ExecuteCommandProvider: &ExecuteCommandOptions{
			Commands: s.completer.DefinedSubcommands(),
		},
	}

	result := InitializeResult{
		Capabilities: serverCapabilities,
		ServerInfo:   s.serverInfo,
	}

	s.capsMu.Lock()
	s.clientCaps = params.Capabilities
	s.capsMu.Unlock()

	if len(params.InitializationOptions) > 0 {
		s.applySettings(ctx, conn, params.InitializationOptions, logger.With("source", "initializationOptions"))
	}

	logger.Info("Initialization successful", "binary", s.completer.Binary())
	return result, nil
}

// handleInitialized handles the 'initialized' notification. Clients that
// support workspace/configuration are asked for the dcdcomplete section.
func (s *Server) handleInitialized(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Client initialized notification received")

	s.capsMu.Lock()
	pull := s.clientCaps.Workspace != nil && s.clientCaps.Workspace.Configuration
	s.capsMu.Unlock()
	if pull {
		// Runs off the read loop: the reply arrives on the same connection.
		go s.pullConfiguration(conn, logger)
	}
	return nil, nil
}

// pullConfiguration fetches the dcdcomplete settings section from the client and applies it.
func (s *Server) pullConfiguration(conn *jsonrpc2.Conn, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), configurationPullTimeout)
	defer cancel()

	var results []json.RawMessage
	params := ConfigurationParams{Items: []ConfigurationItem{{Section: settingsSection}}}
	if err := conn.Call(ctx, "workspace/configuration", params, &results); err != nil {
		logger.Warn("workspace/configuration request failed", "error", err)
		return
	}
	if len(results) == 0 {
		logger.Debug("Client returned no configuration")
		return
	}
	s.applySettings(ctx, conn, results[0], logger.With("source", "workspace/configuration"))
}

// handleShutdown handles the 'shutdown' request.
// Later requests are rejected; the connection stays open until 'exit'.
func (s *Server) handleShutdown(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Handling shutdown request")
	s.shutdown.Store(true)
	return nil, nil
}

// handleExit handles the 'exit' notification.
func (s *Server) handleExit(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Handling exit notification", "clean_shutdown", s.shutdown.Load())
	// Closing the connection signals the Run loop to exit.
	if conn != nil {
		conn.Close()
	}
	return nil, nil
}

// ShutdownRequested reports whether the client sent 'shutdown' before the connection ended.
func (s *Server) ShutdownRequested() bool {
	return s.shutdown.Load()
}
