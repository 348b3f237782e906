package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pario-ai/relay/pkg/client"
	"github.com/pario-ai/relay/pkg/governor"
	"github.com/pario-ai/relay/pkg/logging"
	"github.com/pario-ai/relay/pkg/pricing"
)

// Completer sends a prompt to the remote model.
type Completer interface {
	Complete(ctx context.Context, p client.Prompt) (*client.Completion, error)
	Model() string
	MaxOutputTokens() int64
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	gov       *governor.Governor
	completer Completer
	pricing   *pricing.Table
	version   string
	logger    *slog.Logger
	schemas   map[string]*jsonschema.Schema
	encode    func(v any) ([]byte, error)

	writeMu sync.Mutex
}

// New creates a Server. completer may be nil when no API key is configured;
// relay_ask then reports the remote as unavailable while the diagnostic
// tools keep working.
func New(gov *governor.Governor, completer Completer, table *pricing.Table, logger *slog.Logger, version string) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := compileSchemas(allTools)
	if err != nil {
		return nil, err
	}
	return &Server{
		gov:       gov,
		completer: completer,
		pricing:   table,
		version:   version,
		logger:    logger.With(slog.String("component", "mcp")),
		schemas:   schemas,
		encode:    json.Marshal,
	}, nil
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// Tool calls run concurrently so that a call waiting for admission does not
// block the others. It blocks until r is closed or ctx is cancelled, then
// waits for in-flight calls to answer.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, *replyError(nil, &RPCError{Code: CodeParseError, Message: "parse error"}))
			continue
		}

		if req.Method == "tools/call" {
			wg.Add(1)
			go func(req Request) {
				defer wg.Done()
				if resp := s.dispatch(ctx, &req); resp != nil {
					s.writeResponse(w, *resp)
				}
			}(req)
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// notification, no response
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if rpcErr := req.validate(); rpcErr != nil {
		if req.IsNotification() {
			return nil
		}
		return replyError(req.ID, rpcErr)
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return reply(req.ID, struct{}{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		if req.IsNotification() {
			return nil
		}
		return replyError(req.ID, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)})
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return reply(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		Instructions:    "Use relay_ask to delegate a question to the configured remote model. Calls are cached, rate limited and charged against a session budget.",
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return reply(req.ID, ToolsListResult{Tools: allTools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return replyError(req.ID, &RPCError{Code: CodeInvalidParams, Message: "invalid params"})
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return reply(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	ctx = logging.WithRequestID(ctx, logging.NewRequestID())
	logger := logging.FromContext(ctx, s.logger)

	if err := s.validateArgs(params.Name, params.Arguments); err != nil {
		logger.Debug("invalid tool arguments", slog.String("tool", params.Name), slog.Any("error", err))
		return reply(req.ID, errorResult("Invalid arguments: "+err.Error()))
	}

	logger.Debug("tool call", slog.String("tool", params.Name))
	result := handler(ctx, s, params.Arguments)
	if result.IsError {
		logger.Info("tool call failed", slog.String("tool", params.Name))
	}
	return reply(req.ID, result)
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", slog.Any("error", err))
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", slog.Any("error", err))
	}
}
