// Package mcpserver exposes the session store to MCP clients over stdio:
// sessions, transcripts, action items and transcript search.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/yegors/nudge/internal/errs"
	"github.com/yegors/nudge/internal/storage/sqlite"
	"github.com/yegors/nudge/pkg/logger"
)

const defaultLimit = 20

// Server is a read-only MCP tool server over the session store
type Server struct {
	store  *sqlite.Store
	mcp    *server.MCPServer
	logger *logger.Logger
}

func New(store *sqlite.Store, version string, log *logger.Logger) *Server {
	s := &Server{
		store:  store,
		mcp:    server.NewMCPServer("nudge", version, server.WithToolCapabilities(false)),
		logger: log.Named("mcp"),
	}

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recorded meetings, newest first"),
		mcp.WithString("state", mcp.Description("Comma-separated states to include, e.g. completed,failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return (default 20)")),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get the timestamped transcript of a meeting"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id or unique prefix")),
	), s.getTranscript)

	s.mcp.AddTool(mcp.NewTool("get_action_items",
		mcp.WithDescription("Get the action items extracted from a meeting"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id or unique prefix")),
	), s.getActionItems)

	s.mcp.AddTool(mcp.NewTool("search_transcripts",
		mcp.WithDescription("Find transcript passages containing a phrase across all meetings"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
		mcp.WithNumber("limit", mcp.Description("Maximum hits to return (default 20)")),
	), s.searchTranscripts)

	return s
}

// Serve speaks MCP over in/out until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("MCP server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := sqlite.SessionFilter{Limit: req.GetInt("limit", defaultLimit)}
	if v := req.GetString("state", ""); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := sqlite.SessionState(strings.TrimSpace(part))
			if !st.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("unknown state %q", part)), nil
			}
			filter.States = append(filter.States, st)
		}
	}

	sessions, err := s.store.ListSessions(filter)
	if err != nil {
		return nil, err
	}
	return jsonResult(sessions)
}

func (s *Server) getTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, res, err := s.session(req)
	if rec == nil {
		return res, err
	}
	segments, err := s.store.ListSegments(rec.ID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n\n", rec.Title, rec.CreatedAt.Local().Format("2006-01-02 15:04"))
	for _, seg := range segments {
		text := seg.Text
		if seg.Failed() {
			text = "[transcription failed]"
		}
		fmt.Fprintf(&b, "[%s] %s\n", timestamp(seg.StartMs), text)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getActionItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, res, err := s.session(req)
	if rec == nil {
		return res, err
	}
	items, err := s.store.ListActionItems(rec.ID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*sqlite.ActionItemRecord{}
	}
	return jsonResult(items)
}

func (s *Server) searchTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	hits, err := s.store.SearchSegments(query, req.GetInt("limit", defaultLimit))
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []*sqlite.SearchHit{}
	}
	return jsonResult(hits)
}

// session resolves the session_id argument. A nil record comes with the
// result or error the tool should return.
func (s *Server) session(req mcp.CallToolRequest) (*sqlite.SessionRecord, *mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return nil, mcp.NewToolResultError("session_id is required"), nil
	}
	rec, err := s.store.FindSession(id)
	if errors.Is(err, errs.ErrSessionNotFound) {
		return nil, mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return rec, nil, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func timestamp(ms int64) string {
	sec := ms / 1000
	if sec >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", sec/3600, sec/60%60, sec%60)
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
