package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// ContentResponder is implemented by responses that render their own MCP
// content (images). Other responses are sent as one JSON text block.
type ContentResponder interface {
	MCPContent() ([]mcp.Content, error)
}

// RegisterMCPTool registers an Endpoint as an MCP tool. Every call runs
// with transport "mcp" and a fresh request id. Failures are reported as
// tool errors so the client sees them, never as protocol errors.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ctx = WithRequestID(WithTransport(ctx, "mcp"), uuid.NewString())
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		content, err := render(resp)
		if err != nil {
			return toolError(err), nil
		}
		return &mcp.CallToolResult{Content: content}, nil
	})
}

func render(resp any) ([]mcp.Content, error) {
	if cr, ok := resp.(ContentResponder); ok {
		content, err := cr.MCPContent()
		if err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
		return content, nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return []mcp.Content{&mcp.TextContent{Text: string(data)}}, nil
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
