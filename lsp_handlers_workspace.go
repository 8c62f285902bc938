// dcdcomplete/lsp_handlers_workspace.go
// Contains LSP method handlers related to workspace events (configuration changes, commands).
package dcdcomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"
)

// settingsSection is the key under which clients nest dcdcomplete settings.
const settingsSection = "dcdcomplete"

// ============================================================================
// LSP Workspace Method Handlers
// ============================================================================

// handleDidChangeConfiguration merges client settings into the live configuration.
func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	logger.Info("Handling workspace/didChangeConfiguration")
	s.applySettings(ctx, conn, params.Settings, logger)
	return nil, nil
}

// applySettings merges a settings object into the completer configuration.
// Settings may be nested under "dcdcomplete" or sent flat. Rejected values are
// reported to the user and leave the configuration unchanged.
func (s *Server) applySettings(ctx context.Context, conn *jsonrpc2.Conn, settings json.RawMessage, logger *slog.Logger) {
	if !gjson.ValidBytes(settings) {
		logger.Error("Ignoring malformed settings", "raw_settings", string(settings))
		return
	}
	section := gjson.GetBytes(settings, settingsSection)
	raw := []byte(settings)
	if section.Exists() && section.IsObject() {
		raw = []byte(section.Raw)
	} else {
		logger.Debug("No nested settings section, reading settings flat", "section", settingsSection)
	}

	var fileCfg FileConfig
	if err := json.Unmarshal(raw, &fileCfg); err != nil {
		logger.Error("Failed to unmarshal settings into config", "error", err)
		return
	}

	newConfig := s.completer.GetCurrentConfig()
	mergedFields := mergeFileConfig(&newConfig, fileCfg)
	if mergedFields == 0 {
		logger.Debug("No relevant configuration changes found in client settings")
		return
	}

	logger.Info("Applying configuration changes from client", "fields_merged", mergedFields)
	if err := s.completer.UpdateConfig(newConfig); err != nil {
		logger.Error("Failed to apply updated configuration", "error", err)
		s.sendShowMessage(ctx, conn, MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
		return
	}
	s.ApplyConfig(s.completer.GetCurrentConfig())
}

// ApplyConfig adopts the log level of cfg when the server owns a LevelVar.
func (s *Server) ApplyConfig(cfg Config) {
	if s.levelVar == nil {
		return
	}
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		s.logger.Warn("Cannot update logger level", "level_string", cfg.LogLevel, "error", err)
		return
	}
	if s.levelVar.Level() != level {
		s.levelVar.Set(level)
		s.logger.Info("Logger level updated", "new_level", level)
	}
}

// handleExecuteCommand runs a navigation sub-command named by the command. The
// first argument is a TextDocumentPositionParams.
func (s *Server) handleExecuteCommand(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params ExecuteCommandParams, logger *slog.Logger) (any, error) {
	cmdLogger := logger.With("command", params.Command)
	cmdLogger.Info("Handling workspace/executeCommand")

	if _, ok := subcommands[params.Command]; !ok {
		return nil, &jsonrpc2.Error{
			Code:    int64(JsonRpcInvalidParams),
			Message: fmt.Sprintf("%v: %q", ErrUnknownSubcommand, params.Command),
		}
	}
	if len(params.Arguments) == 0 {
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: "command requires a text document position argument"}
	}
	var pos TextDocumentPositionParams
	if err := json.Unmarshal(params.Arguments[0], &pos); err != nil {
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("invalid command argument: %v", err)}
	}
	return s.handleNavigation(ctx, params.Command, pos, cmdLogger)
}
