// Package mcp exposes the command vocabulary as Model Context Protocol tools,
// so external agents can drive the same screen, cart and inventory changes as
// the voice model.
//
// Every tool call is normalised into a [command.Command] and applied through
// a [Dispatcher], usually the application's state store. A read-only
// "get_state" tool returns the current snapshot.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/state"
)

// Source is the command source label for calls arriving over MCP.
const Source = "mcp"

// ToolGetState is the name of the read-only snapshot tool.
const ToolGetState = "get_state"

// Dispatcher applies commands and exposes the resulting state.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command, source string) bool
	Snapshot() *state.State
}

// Server is an MCP server backed by a [Dispatcher].
type Server struct {
	srv  *mcpsdk.Server
	disp Dispatcher
	log  *slog.Logger
}

// NewServer registers one tool per command declaration plus get_state.
func NewServer(d Dispatcher, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		srv:  mcpsdk.NewServer(&mcpsdk.Implementation{Name: "simi", Version: version}, nil),
		disp: d,
		log:  log,
	}
	for _, decl := range command.Declarations() {
		s.srv.AddTool(&mcpsdk.Tool{
			Name:        decl.Name,
			Description: decl.Description,
			InputSchema: jsonSchema(decl.Parameters),
		}, s.callCommand)
	}
	s.srv.AddTool(&mcpsdk.Tool{
		Name:        ToolGetState,
		Description: "Returns the current screen, mood, cart, inventory and invoice.",
		InputSchema: map[string]any{"type": "object"},
	}, s.getState)
	return s
}

// SDK returns the underlying server, e.g. for in-memory transports.
func (s *Server) SDK() *mcpsdk.Server { return s.srv }

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

func (s *Server) callCommand(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	name := req.Params.Name
	var args map[string]any
	if raw := req.Params.Arguments; len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
		}
	}

	cmd := command.Command{Kind: command.Normalize(name), Args: args}
	changed := s.disp.Dispatch(ctx, cmd, Source)
	s.log.Debug("mcp: command applied", "kind", cmd.Kind, "changed", changed)

	msg := "ok"
	if !changed {
		msg = "ok (no change)"
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}}}, nil
}

func (s *Server) getState(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(s.disp.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("mcp: encode state: %w", err)
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}}}, nil
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}

// jsonSchema copies a voice tool parameter schema, lower-casing the type
// names the realtime service expects in upper case.
func jsonSchema(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = convertSchema(k, val)
	}
	return out
}

func convertSchema(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		return jsonSchema(t)
	case string:
		if key == "type" {
			return strings.ToLower(t)
		}
		return t
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
