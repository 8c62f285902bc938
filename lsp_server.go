// dcdcomplete/lsp_server.go
// Implements the Language Server Protocol (LSP) server logic.
package dcdcomplete

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	stdslog "log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Server Implementation
// ============================================================================

// Server represents the LSP server instance.
type Server struct {
	conn           *jsonrpc2.Conn
	logger         *stdslog.Logger
	levelVar       *stdslog.LevelVar // Optional; adjusted on log_level changes.
	completer      *Completer
	files          map[DocumentURI]*OpenFile
	filesMu        sync.RWMutex
	capsMu         sync.Mutex
	clientCaps     ClientCapabilities
	serverInfo     *ServerInfo
	shutdown       atomic.Bool
	requestTracker *RequestTracker
}

// OpenFile represents a file currently open in the client editor.
type OpenFile struct {
	URI        DocumentURI
	Path       string
	LanguageID string
	Content    []byte
	Version    int
}

// NewServer creates a new LSP server instance.
func NewServer(completer *Completer, logger *stdslog.Logger, version string) *Server {
	if logger == nil {
		logger = stdslog.New(stdslog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		logger:    logger,
		completer: completer,
		files:     make(map[DocumentURI]*OpenFile),
		serverInfo: &ServerInfo{
			Name:    "dcdcomplete LSP",
			Version: version,
		},
		requestTracker: NewRequestTracker(),
	}
	publishExpvarMetrics(s)
	return s
}

// SetLevelVar lets the server adjust the process log level when log_level changes.
func (s *Server) SetLevelVar(lv *stdslog.LevelVar) {
	s.levelVar = lv
}

// Run serves LSP over r and w using header-framed JSON-RPC. It blocks until
// the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting LSP server run loop")

	stream := jsonrpc2.NewBufferedStream(&stdrwc{r: r, w: w}, jsonrpc2.VSCodeObjectCodec{})
	handler := dispatcher{h: jsonrpc2.HandlerWithError(s.handle), tracker: s.requestTracker}

	s.conn = jsonrpc2.NewConn(context.Background(), stream, handler)
	s.logger.Info("JSON-RPC connection established")

	<-s.conn.DisconnectNotify()
	s.logger.Info("JSON-RPC connection closed")
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error {
	if c, ok := s.r.(io.Closer); ok && s.r != os.Stdin {
		return c.Close()
	}
	return nil
}

// dispatcher handles notifications inline, in arrival order, and requests on
// their own goroutines so $/cancelRequest can reach them. Requests are
// registered for cancellation before the next message is read.
type dispatcher struct {
	h       jsonrpc2.Handler
	tracker *RequestTracker
}

func (d dispatcher) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		d.h.Handle(ctx, conn, req)
		return
	}
	reqCtx, done := d.tracker.Add(req.ID, ctx)
	go func() {
		defer done()
		d.h.Handle(reqCtx, conn, req)
	}()
}

// handle routes incoming LSP requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	if !req.Notif {
		methodLogger = methodLogger.With("req_id", req.ID.String())
	}
	methodLogger.Debug("Received request/notification")

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", stack)

			panicData, marshalErr := json.Marshal(fmt.Sprintf("Panic: %v", r))
			if marshalErr != nil {
				methodLogger.Error("Failed to marshal panic message for error data", "error", marshalErr)
				panicData = json.RawMessage(`"failed to marshal panic data"`)
			}
			rawPanicData := json.RawMessage(panicData)

			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &rawPanicData,
			}
			result = nil
		}
	}()

	if !req.Notif && s.shutdown.Load() && req.Method != "shutdown" {
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidRequest), Message: "Server is shutting down"}
	}
	select {
	case <-ctx.Done():
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	default:
	}

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}
	invalidParams := func(err error) error {
		methodLogger.Error("Failed to unmarshal params", "error", err)
		return &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid %s params: %v", req.Method, err)}
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleInitialize(ctx, conn, req, params, methodLogger)

	case "initialized":
		return s.handleInitialized(ctx, conn, req, methodLogger)

	case "shutdown":
		return s.handleShutdown(ctx, conn, req, methodLogger)

	case "exit":
		return s.handleExit(ctx, conn, req, methodLogger)

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didOpen params", "error", err)
			return nil, nil
		}
		return s.handleDidOpen(ctx, conn, req, params, methodLogger)

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChange params", "error", err)
			return nil, nil
		}
		return s.handleDidChange(ctx, conn, req, params, methodLogger)

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didClose params", "error", err)
			return nil, nil
		}
		return s.handleDidClose(ctx, conn, req, params, methodLogger)

	case "textDocument/completion":
		var params CompletionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleCompletion(ctx, conn, req, params, methodLogger)

	case "textDocument/definition":
		var params DefinitionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleNavigation(ctx, "GoToDefinition", params, methodLogger)

	case "textDocument/declaration":
		var params DeclarationParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleNavigation(ctx, "GoToDeclaration", params, methodLogger)

	case "workspace/executeCommand":
		var params ExecuteCommandParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleExecuteCommand(ctx, conn, req, params, methodLogger)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChangeConfiguration params", "error", err)
			return nil, nil
		}
		return s.handleDidChangeConfiguration(ctx, conn, req, params, methodLogger)

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal cancelRequest params", "error", err)
			return nil, nil
		}
		var cancelID jsonrpc2.ID
		switch idVal := params.ID.(type) {
		case float64:
			cancelID = jsonrpc2.ID{Num: uint64(idVal)}
		case string:
			cancelID = jsonrpc2.ID{Str: idVal, IsString: true}
		default:
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}
		s.requestTracker.Cancel(cancelID)
		methodLogger.Info("Cancellation request processed", "cancelled_id", cancelID.String())
		return nil, nil

	default:
		if req.Notif {
			methodLogger.Debug("Ignoring unhandled notification")
			return nil, nil
		}
		methodLogger.Warn("Unhandled LSP method")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// ============================================================================
// Document State
// ============================================================================

// documentContent returns the open buffer for uri or, when not open, the file at path.
func (s *Server) documentContent(uri DocumentURI, path string) (content []byte, languageID string, err error) {
	s.filesMu.RLock()
	file, ok := s.files[uri]
	s.filesMu.RUnlock()
	if ok {
		return file.Content, file.LanguageID, nil
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, "", readErr
	}
	return data, "", nil
}

// buildRequest converts an LSP position in uri into a completer request that
// carries every open document as a dirty buffer.
func (s *Server) buildRequest(params TextDocumentPositionParams, logger *stdslog.Logger) (Request, string, error) {
	absPath, err := ValidateAndGetFilePath(string(params.TextDocument.URI), logger)
	if err != nil {
		return Request{}, "", err
	}
	content, languageID, err := s.documentContent(params.TextDocument.URI, absPath)
	if err != nil {
		return Request{}, "", fmt.Errorf("document not available: %w", err)
	}
	line, col, _, err := LspPositionToBytePosition(content, params.Position, logger)
	if err != nil {
		return Request{}, "", err
	}

	req := Request{
		FilePath:  absPath,
		LineNum:   line,
		ColumnNum: col,
		FileData:  make(map[string]FileData),
	}
	s.filesMu.RLock()
	for _, f := range s.files {
		req.FileData[f.Path] = FileData{Contents: string(f.Content), Filetypes: filetypesFor(f.LanguageID)}
	}
	s.filesMu.RUnlock()
	if _, ok := req.FileData[absPath]; !ok {
		req.FileData[absPath] = FileData{Contents: string(content), Filetypes: filetypesFor(languageID)}
	}
	return req, languageID, nil
}

// filetypesFor maps an LSP languageId to host filetypes. Unknown ids yield none.
func filetypesFor(languageID string) []string {
	if languageID == "" {
		return nil
	}
	return []string{languageID}
}

// ============================================================================
// LSP Notification Sending Helpers
// ============================================================================

func (s *Server) sendShowMessage(ctx context.Context, conn *jsonrpc2.Conn, msgType MessageType, message string) {
	if conn == nil {
		s.logger.Warn("Cannot send showMessage: connection is nil")
		return
	}
	params := ShowMessageParams{Type: msgType, Message: message}
	if err := conn.Notify(ctx, "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	} else {
		s.logger.Debug("Sent window/showMessage notification", "message_type", msgType)
	}
}

// ============================================================================
// Metrics Publishing
// ============================================================================

var (
	expvarOnce    sync.Once
	currentServer atomic.Pointer[Server]
)

// publishExpvarMetrics exposes server state through expvar. Variables are
// registered once per process and always report the most recent server.
func publishExpvarMetrics(s *Server) {
	currentServer.Store(s)
	expvarOnce.Do(func() {
		startTime := time.Now()
		expvar.NewString("serverStartTime").Set(startTime.Format(time.RFC3339))
		expvar.Publish("serverInfo", expvar.Func(func() any {
			if srv := currentServer.Load(); srv != nil {
				return srv.serverInfo
			}
			return nil
		}))
		expvar.Publish("goroutines", expvar.Func(func() any { return runtime.NumGoroutine() }))
		expvar.Publish("memory.allocBytes", expvar.Func(func() any {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return m.Alloc
		}))
		expvar.Publish("lsp.openFiles", expvar.Func(func() any {
			srv := currentServer.Load()
			if srv == nil {
				return 0
			}
			srv.filesMu.RLock()
			defer srv.filesMu.RUnlock()
			return len(srv.files)
		}))
		expvar.Publish("lsp.pendingRequests", expvar.Func(func() any {
			if srv := currentServer.Load(); srv != nil {
				return srv.requestTracker.Count()
			}
			return 0
		}))
		expvar.Publish("dcd.binary", expvar.Func(func() any {
			if srv := currentServer.Load(); srv != nil && srv.completer != nil {
				return srv.completer.Binary()
			}
			return ""
		}))
	})
	s.logger.Info("Expvar metrics published")
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing LSP requests.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
}

// NewRequestTracker creates a new tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests: make(map[jsonrpc2.ID]context.CancelFunc),
	}
}

// Add registers id and returns a context that Cancel(id) cancels, plus a
// function that must be called when the request finishes.
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	rt.requests[id] = cancel
	rt.mu.Unlock()
	return reqCtx, func() {
		rt.Remove(id)
		cancel()
	}
}

// Remove forgets id without cancelling it.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.requests, id)
}

// Cancel cancels the context registered for id, if any.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id)
	}
	rt.mu.Unlock()

	if found {
		stdslog.Debug("Calling cancel function for request", "id", id.String())
		cancel()
	} else {
		stdslog.Debug("Cancel function not found for request ID", "id", id.String())
	}
}

// Count returns the number of requests in flight.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
