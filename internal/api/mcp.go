package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/studex/studex/internal/notify"
	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/session"
	"github.com/studex/studex/internal/storage"
)

const maxMCPLimit = 50

// MCPSession exposes the current authentication state.
type MCPSession interface {
	Current() session.Session
}

// MCPJobs lists jobs on behalf of the signed-in user.
type MCPJobs interface {
	Jobs(ctx context.Context, p remote.JobParams) (remote.JobPage, error)
}

// MCPAuth signs the shared session in and out. Implementations report the
// outcome through the notification queue.
type MCPAuth interface {
	Login(ctx context.Context, email, password string) (session.Session, error)
	Logout()
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session  MCPSession
	Auth     MCPAuth // optional; enables the login and logout tools
	Searcher remote.Searcher
	Jobs     MCPJobs
	Notify   *notify.Queue
	History  *storage.Store // optional; enables search history recording and studex://history
	PageSize int
	Logger   *slog.Logger
}

func (d MCPDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewMCPServer creates an MCP server with all studex tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.PageSize <= 0 {
		deps.PageSize = 12
	}

	s := server.NewMCPServer(
		"studex",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("studex: campus marketplace client. Search student services, list jobs and read notifications."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("whoami",
			mcp.WithDescription("Show the signed-in marketplace account, if any."),
		),
		mcpWhoami(deps),
	)

	if deps.Auth != nil {
		s.AddTool(
			mcp.NewTool("login",
				mcp.WithDescription("Sign in to the marketplace. The outcome is also posted as a notification."),
				mcp.WithString("email", mcp.Description("Account email"), mcp.Required()),
				mcp.WithString("password", mcp.Description("Account password"), mcp.Required()),
			),
			mcpLogin(deps),
		)
		s.AddTool(
			mcp.NewTool("logout",
				mcp.WithDescription("Sign out and forget the stored session."),
			),
			mcpLogout(deps),
		)
	}

	s.AddTool(
		mcp.NewTool("search_services",
			mcp.WithDescription("Search services offered by students, optionally filtered by category."),
			mcp.WithString("query", mcp.Description("Free-text search")),
			mcp.WithString("category", mcp.Description("Category facet; \"All\" for no filter")),
			mcp.WithNumber("page", mcp.Description("Page number (default 1)")),
			mcp.WithNumber("limit", mcp.Description("Results per page")),
		),
		mcpSearchServices(deps),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List posted jobs. Requires a signed-in session."),
			mcp.WithString("category", mcp.Description("Category facet")),
			mcp.WithNumber("page", mcp.Description("Page number (default 1)")),
			mcp.WithNumber("limit", mcp.Description("Results per page (default 10)")),
		),
		mcpListJobs(deps),
	)

	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List visible notifications, oldest first."),
		),
		mcpListNotifications(deps),
	)

	s.AddTool(
		mcp.NewTool("dismiss_notification",
			mcp.WithDescription("Dismiss a notification by id. Unknown ids are ignored."),
			mcp.WithString("id", mcp.Description("Notification id"), mcp.Required()),
		),
		mcpDismissNotification(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"studex://session",
			"Session",
			mcp.WithResourceDescription("Current session status and user as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"studex://history",
				"Recent Searches",
				mcp.WithResourceDescription("Last 10 dispatched searches"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceHistory(deps),
		)
	}

	return s
}

type sessionView struct {
	Status string       `json:"status"`
	User   *remote.User `json:"user,omitempty"`
}

func currentSession(deps MCPDeps) sessionView {
	s := deps.Session.Current()
	return sessionView{Status: s.Status.String(), User: s.User}
}

func mcpWhoami(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s := deps.Session.Current()
		if s.Status != session.Authenticated || s.User == nil {
			return mcpText(fmt.Sprintf("Not signed in (%s)", s.Status)), nil
		}
		u := s.User
		return mcpText(fmt.Sprintf("%s <%s> (%s)", u.DisplayName(), u.Email, u.SkillCategory)), nil
	}
}

func mcpLogin(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		email, err := req.RequireString("email")
		if err != nil {
			return mcpError("email is required"), nil
		}
		password, err := req.RequireString("password")
		if err != nil {
			return mcpError("password is required"), nil
		}

		s, err := deps.Auth.Login(ctx, email, password)
		if err != nil {
			return mcpError(fmt.Sprintf("login failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Signed in as %s <%s>", s.User.DisplayName(), s.User.Email)), nil
	}
}

func mcpLogout(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Auth.Logout()
		return mcpText("Signed out"), nil
	}
}

func pageArgs(req mcp.CallToolRequest, defLimit int) (page, limit int) {
	page = req.GetInt("page", 1)
	if page <= 0 {
		page = 1
	}
	limit = req.GetInt("limit", defLimit)
	if limit <= 0 {
		limit = defLimit
	}
	if limit > maxMCPLimit {
		limit = maxMCPLimit
	}
	return page, limit
}

func mcpSearchServices(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := strings.TrimSpace(req.GetString("query", ""))
		category := req.GetString("category", remote.AllCategories)
		if category == "" {
			category = remote.AllCategories
		}
		page, limit := pageArgs(req, deps.PageSize)

		result, err := deps.Searcher.SearchServices(ctx, remote.SearchParams{
			Query: query, Category: category, Page: page, Limit: limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if deps.History != nil && query != "" {
			if err := deps.History.RecordSearch(query, category); err != nil {
				deps.logger().Warn("recording search history", "error", err)
			}
		}

		type serviceResult struct {
			ID         string  `json:"id"`
			Title      string  `json:"title"`
			Category   string  `json:"category"`
			Price      float64 `json:"price"`
			Rating     float64 `json:"rating,omitempty"`
			Freelancer string  `json:"freelancer,omitempty"`
		}
		out := struct {
			Total    int             `json:"total"`
			Page     int             `json:"page"`
			Services []serviceResult `json:"services"`
		}{Total: result.Total, Page: page, Services: make([]serviceResult, len(result.Services))}
		for i, svc := range result.Services {
			out.Services[i] = serviceResult{
				ID:         svc.ID,
				Title:      svc.Title,
				Category:   svc.Category,
				Price:      svc.Price,
				Rating:     svc.Rating,
				Freelancer: svc.FreelancerName,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		page, limit := pageArgs(req, 10)
		category := req.GetString("category", "")
		if category == remote.AllCategories {
			category = ""
		}

		result, err := deps.Jobs.Jobs(ctx, remote.JobParams{Category: category, Page: page, Limit: limit})
		if err != nil {
			return mcpError(fmt.Sprintf("listing jobs failed: %v", err)), nil
		}
		if result.Jobs == nil {
			result.Jobs = []remote.Job{}
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal jobs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListNotifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items := deps.Notify.List()
		if len(items) == 0 {
			return mcpText("[]"), nil
		}

		type notificationResult struct {
			ID        string `json:"id"`
			Kind      string `json:"kind"`
			Title     string `json:"title"`
			Body      string `json:"body,omitempty"`
			CreatedAt string `json:"created_at"`
		}
		results := make([]notificationResult, len(items))
		for i, n := range items {
			results[i] = notificationResult{
				ID:        n.ID,
				Kind:      string(n.Kind),
				Title:     n.Title,
				Body:      n.Body,
				CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal notifications: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDismissNotification(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		deps.Notify.Dismiss(id)
		return mcpText(fmt.Sprintf("Dismissed %s", id)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(currentSession(deps))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
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

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.History.RecentSearches(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent searches: %w", err)
		}

		type historyEntry struct {
			Query     string `json:"query"`
			Category  string `json:"category"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]historyEntry, len(entries))
		for i, e := range entries {
			query := e.Query
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			summaries[i] = historyEntry{
				Query:     query,
				Category:  e.Category,
				CreatedAt: e.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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
