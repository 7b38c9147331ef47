package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Alerts  AlertLog
	History AlertHistory // optional
	Gallery FaceGallery
	Version string
}

// NewMCPServer creates an MCP server with the facewatch tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "1.0.0"
	}
	s := server.NewMCPServer(
		"facewatch",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("facewatch: camera face recognition alerts. Read recent alerts, enroll known faces, clear the alert log."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("recent_alerts",
			mcp.WithDescription("List the most recent face recognition alerts, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of alerts (default 10)")),
			mcp.WithString("identity", mcp.Description("Only alerts for this person, including ones already cleared from the log")),
		),
		mcpRecentAlerts(deps),
	)

	s.AddTool(
		mcp.NewTool("enroll_face",
			mcp.WithDescription("Add a known face to the gallery from a photo containing exactly one face."),
			mcp.WithString("name", mcp.Description("Display name of the person"), mcp.Required()),
			mcp.WithString("image_path", mcp.Description("Path to a JPEG or PNG file on the server")),
			mcp.WithString("image_base64", mcp.Description("Base64-encoded JPEG or PNG, used instead of image_path")),
		),
		mcpEnrollFace(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_alerts",
			mcp.WithDescription("Clear the in-memory alert log. The alert journal on disk is kept."),
		),
		mcpClearAlerts(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"gallery://identities",
			"Known Identities",
			mcp.WithResourceDescription("Distinct names enrolled in the face gallery"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceIdentities(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"alerts://recent",
			"Recent Alerts",
			mcp.WithResourceDescription("Last 10 alerts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpRecentAlerts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		alerts, err := listAlerts(deps.Alerts, deps.History, req.GetString("identity", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read alerts: %v", err)), nil
		}
		if len(alerts) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(viewsOf(alerts))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal alerts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpEnrollFace(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		entry, err := enroll(ctx, deps.Gallery, EnrollRequest{
			Name:      name,
			ImagePath: req.GetString("image_path", ""),
			Image:     req.GetString("image_base64", ""),
		})
		if err != nil {
			return mcpError(enrollMessage(name, err)), nil
		}

		return mcpText(fmt.Sprintf("Enrolled %s (%d entries in gallery)", entry.Identity, deps.Gallery.Len())), nil
	}
}

func mcpClearAlerts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := deps.Alerts.Clear()
		return mcpText(fmt.Sprintf("Cleared %d alerts", n)), nil
	}
}

func mcpResourceIdentities(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids := deps.Gallery.Identities()
		if ids == nil {
			ids = []string{}
		}
		b, err := json.Marshal(map[string]any{
			"identities": ids,
			"entries":    deps.Gallery.Len(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal identities: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(viewsOf(deps.Alerts.Recent(10)))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal alerts: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
