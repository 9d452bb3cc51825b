// CLAUDE:SUMMARY Registers html2png MCP tools: capture (image content), formats, enqueue, job status.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot/internal/kit"
)

// RegisterMCP registers html2png tools on an MCP server.
func (s *Snapper) RegisterMCP(srv *mcp.Server) {
	s.registerCaptureTool(srv)
	s.registerFormatsTool(srv)
	s.registerEnqueueTool(srv)
	s.registerJobTool(srv)
}

// tool registers endpoint behind the call logger.
func (s *Snapper) tool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Chain(kit.Logging(s.logger, tool.Name))(endpoint), decode)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func requestProperties() map[string]any {
	return map[string]any{
		"url":              map[string]any{"type": "string", "description": "Page to capture (http or https)"},
		"html":             map[string]any{"type": "string", "description": "Inline HTML document, sanitised before rendering"},
		"width":            map[string]any{"type": "integer", "description": "Fixed capture width (needs height)"},
		"height":           map[string]any{"type": "integer", "description": "Fixed capture height (needs width)"},
		"marker":           map[string]any{"type": "string", "description": "Capture the element with this id or name"},
		"body":             map[string]any{"type": "boolean", "description": "Capture the whole document"},
		"timeout_ms":       map[string]any{"type": "integer", "description": "Load timeout in milliseconds"},
		"format":           map[string]any{"type": "string", "enum": formatNames(), "description": "Output format (default png)"},
		"quality":          map[string]any{"type": "integer", "description": "JPEG quality 1-100"},
		"scaled_width":     map[string]any{"type": "integer", "description": "Scale box width"},
		"scaled_height":    map[string]any{"type": "integer", "description": "Scale box height"},
		"scale_mode":       map[string]any{"type": "string", "enum": []any{"none", "inside", "outside", "stretch"}},
		"disable_js":       map[string]any{"type": "boolean"},
		"disable_plugins":  map[string]any{"type": "boolean"},
		"disable_images":   map[string]any{"type": "boolean"},
		"disable_redirect": map[string]any{"type": "boolean"},
		"kill_popups":      map[string]any{"type": "boolean"},
		"lenient":          map[string]any{"type": "boolean", "description": "Leave failed tiles blank instead of failing"},
	}
}

func formatNames() []any {
	var out []any
	for _, f := range encode.Formats() {
		out = append(out, f.String())
	}
	return out
}

func decodeRequest(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r Request
	if len(req.Params.Arguments) == 0 {
		return nil, errors.New("arguments are required")
	}
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- capture ---

// CaptureInfo is the metadata sent alongside a captured image.
type CaptureInfo struct {
	Name         string `json:"name"`
	Format       string `json:"format"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Bytes        int    `json:"bytes"`
	Tiles        int    `json:"tiles"`
	LoadTimedOut bool   `json:"load_timed_out,omitempty"`
}

type captureResponse struct {
	info CaptureInfo
	art  *encode.Artifact
}

// MCPContent returns the metadata as JSON text followed by the image.
// PDF output is an embedded resource.
func (c *captureResponse) MCPContent() ([]mcp.Content, error) {
	meta, err := json.Marshal(c.info)
	if err != nil {
		return nil, err
	}
	content := []mcp.Content{&mcp.TextContent{Text: string(meta)}}
	if c.art.Format == encode.PDF {
		content = append(content, &mcp.EmbeddedResource{Resource: &mcp.ResourceContents{
			URI:      "html2png://" + c.info.Name,
			MIMEType: c.art.Format.ContentType(),
			Blob:     c.art.Data,
		}})
		return content, nil
	}
	return append(content, &mcp.ImageContent{Data: c.art.Data, MIMEType: c.art.Format.ContentType()}), nil
}

func (s *Snapper) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "html2png_capture",
		Description: "Render a web page or inline HTML and return it as an image. Choose exactly one of width+height, marker or body.",
		InputSchema: inputSchema(requestProperties(), nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*Request)
		if r.URL != "" {
			if err := s.CheckURL(ctx, r.URL); err != nil {
				return nil, err
			}
		}
		res, err := s.Capture(ctx, *r)
		if res == nil {
			return nil, err
		}
		if err != nil {
			s.logger.Warn("snapshot: mcp capture delivered partially", "error", err)
		}
		return &captureResponse{
			info: CaptureInfo{
				Name:         res.Name,
				Format:       res.Artifact.Format.String(),
				Width:        res.Artifact.Size.X,
				Height:       res.Artifact.Size.Y,
				Bytes:        len(res.Artifact.Data),
				Tiles:        res.Capture.Tiles,
				LoadTimedOut: res.Capture.LoadTimedOut,
			},
			art: res.Artifact,
		}, nil
	}

	s.tool(srv, tool, endpoint, decodeRequest)
}

// --- formats ---

func (s *Snapper) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "html2png_formats",
		Description: "List supported output formats.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return formatList(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	s.tool(srv, tool, endpoint, decode)
}

// --- enqueue ---

type enqueueResponse struct {
	Job     *Job `json:"job"`
	Created bool `json:"created"`
}

func (s *Snapper) registerEnqueueTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "html2png_enqueue",
		Description: "Queue a capture for the batch worker. Identical pending requests are deduplicated.",
		InputSchema: inputSchema(requestProperties(), nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		job, created, err := s.Enqueue(ctx, *req.(*Request))
		if err != nil {
			return nil, err
		}
		return enqueueResponse{Job: job, Created: created}, nil
	}

	s.tool(srv, tool, endpoint, decodeRequest)
}

// --- job ---

type jobRequest struct {
	ID string `json:"id"`
}

func (s *Snapper) registerJobTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "html2png_job",
		Description: "Get the status of a queued capture.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Job ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Job(ctx, req.(*jobRequest).ID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r jobRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.ID == "" {
			return nil, errors.New("id is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.tool(srv, tool, endpoint, decode)
}
