package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/studex/studex/internal/notify"
	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/session"
	"github.com/studex/studex/internal/storage"
)

// --- mocks ---

type mockSession struct {
	s session.Session
}

func (m *mockSession) Current() session.Session { return m.s }

type mockSearcher struct {
	mu    sync.Mutex
	page  remote.ServicePage
	err   error
	calls []remote.SearchParams
}

func (m *mockSearcher) SearchServices(_ context.Context, p remote.SearchParams) (remote.ServicePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	return m.page, m.err
}

func (m *mockSearcher) last() remote.SearchParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

type mockJobs struct {
	page remote.JobPage
	err  error
	last remote.JobParams
}

func (m *mockJobs) Jobs(_ context.Context, p remote.JobParams) (remote.JobPage, error) {
	m.last = p
	return m.page, m.err
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := notify.New(notify.WithClock(clockwork.NewFakeClock()))
	t.Cleanup(q.Close)

	return MCPDeps{
		Session:  &mockSession{},
		Searcher: &mockSearcher{},
		Jobs:     &mockJobs{},
		Notify:   q,
		History:  store,
		PageSize: 12,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_Whoami(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpWhoami(deps)

	result, err := handler(context.Background(), makeCallToolRequest("whoami", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "Not signed in (unauthenticated)" {
		t.Fatalf("unexpected response: %s", text)
	}

	deps.Session = &mockSession{s: session.Session{
		Status: session.Authenticated,
		Token:  "tok",
		User:   &remote.User{FirstName: "Ada", LastName: "Okafor", Email: "ada@uni.edu", SkillCategory: "Hybrid"},
	}}
	handler = mcpWhoami(deps)

	result, err = handler(context.Background(), makeCallToolRequest("whoami", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "Ada Okafor <ada@uni.edu> (Hybrid)" {
		t.Fatalf("unexpected response: %s", text)
	}
}

func TestMCPTool_SearchServices(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	searcher := &mockSearcher{page: remote.ServicePage{
		Services: []remote.Service{
			{ID: "svc-1", Title: "Landing page", Category: "Web Development", Price: 45000, FreelancerName: "Ada"},
		},
		Total: 1,
	}}
	deps.Searcher = searcher
	handler := mcpSearchServices(deps)

	req := makeCallToolRequest("search_services", map[string]interface{}{
		"query":    "  landing ",
		"category": "Web Development",
		"limit":    500,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var out struct {
		Total    int `json:"total"`
		Services []struct {
			ID         string `json:"id"`
			Freelancer string `json:"freelancer"`
		} `json:"services"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Total != 1 || len(out.Services) != 1 || out.Services[0].Freelancer != "Ada" {
		t.Fatalf("unexpected result: %+v", out)
	}

	p := searcher.last()
	if p.Query != "landing" || p.Category != "Web Development" {
		t.Fatalf("unexpected params: %+v", p)
	}
	if p.Limit != maxMCPLimit || p.Page != 1 {
		t.Fatalf("expected page 1 limit %d, got %+v", maxMCPLimit, p)
	}

	entries, err := store.RecentSearches(10)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(entries) != 1 || entries[0].Query != "landing" {
		t.Fatalf("expected recorded search, got %+v", entries)
	}
}

func TestMCPTool_SearchServices_Defaults(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	searcher := &mockSearcher{}
	deps.Searcher = searcher
	handler := mcpSearchServices(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_services", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	p := searcher.last()
	if p.Category != remote.AllCategories || p.Limit != 12 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if !strings.Contains(toolText(t, result), `"services":[]`) {
		t.Fatalf("expected empty services array, got %s", toolText(t, result))
	}

	entries, _ := store.RecentSearches(10)
	if len(entries) != 0 {
		t.Fatalf("empty query must not be recorded, got %+v", entries)
	}
}

func TestMCPTool_SearchServices_Error(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Searcher = &mockSearcher{err: &remote.Error{Kind: remote.KindNetwork, Message: "offline"}}
	handler := mcpSearchServices(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_services", map[string]interface{}{"query": "x"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(toolText(t, result), "NetworkError") {
		t.Fatalf("expected kind in message, got %s", toolText(t, result))
	}
}

func TestMCPTool_ListJobs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	jobs := &mockJobs{page: remote.JobPage{Jobs: []remote.Job{{ID: "job-1", Title: "Flyer"}}, Total: 1, Page: 1}}
	deps.Jobs = jobs
	handler := mcpListJobs(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_jobs", map[string]interface{}{
		"category": "All",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if jobs.last.Category != "" || jobs.last.Limit != 10 {
		t.Fatalf("unexpected params: %+v", jobs.last)
	}

	var page remote.JobPage
	if err := json.Unmarshal([]byte(toolText(t, result)), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(page.Jobs) != 1 || page.Jobs[0].ID != "job-1" {
		t.Fatalf("unexpected jobs: %+v", page)
	}
}

func TestMCPTool_ListJobs_Unauthenticated(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Jobs = &mockJobs{err: remote.ErrInvalidCredentials}
	handler := mcpListJobs(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_jobs", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_Notifications(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	list := mcpListNotifications(deps)
	dismiss := mcpDismissNotification(deps)

	result, _ := list(context.Background(), makeCallToolRequest("list_notifications", nil))
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}

	first := deps.Notify.Show(notify.Success, "Welcome back", "Signed in")
	deps.Notify.Show(notify.Error, "Login Failed", "")

	result, _ = list(context.Background(), makeCallToolRequest("list_notifications", nil))
	var items []struct {
		ID    string `json:"id"`
		Kind  string `json:"kind"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(items) != 2 || items[0].ID != first || items[0].Kind != "success" {
		t.Fatalf("unexpected notifications: %+v", items)
	}

	for i := 0; i < 2; i++ {
		result, err := dismiss(context.Background(), makeCallToolRequest("dismiss_notification", map[string]interface{}{"id": first}))
		if err != nil || result.IsError {
			t.Fatalf("dismiss %d failed: %v", i, err)
		}
	}
	if got := deps.Notify.List(); len(got) != 1 || got[0].Title != "Login Failed" {
		t.Fatalf("unexpected remaining notifications: %+v", got)
	}

	result, _ = dismiss(context.Background(), makeCallToolRequest("dismiss_notification", nil))
	if !result.IsError {
		t.Fatal("expected error when id is missing")
	}
}

func TestMCPResource_Session(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Session = &mockSession{s: session.Session{
		Status: session.Authenticated,
		Token:  "secret-token",
		User:   &remote.User{ID: "u1", Email: "ada@uni.edu"},
	}}

	handler := mcpResourceSession(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("studex://session"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if strings.Contains(tc.Text, "secret-token") {
		t.Fatal("session resource must not expose the token")
	}

	var view sessionView
	if err := json.Unmarshal([]byte(tc.Text), &view); err != nil {
		t.Fatalf("failed to parse session JSON: %v", err)
	}
	if view.Status != "authenticated" || view.User == nil || view.User.ID != "u1" {
		t.Fatalf("unexpected session view: %+v", view)
	}
}

func TestMCPResource_History(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if err := store.RecordSearch("calculus", "Tutoring"); err != nil {
		t.Fatalf("recording search: %v", err)
	}

	handler := mcpResourceHistory(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("studex://history"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc := contents[0].(mcp.TextResourceContents)
	var entries []struct {
		Query     string `json:"query"`
		Category  string `json:"category"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &entries); err != nil {
		t.Fatalf("failed to parse history JSON: %v", err)
	}
	if len(entries) != 1 || entries[0].Query != "calculus" || entries[0].Category != "Tutoring" {
		t.Fatalf("unexpected history: %+v", entries)
	}
	if _, err := time.Parse(time.RFC3339, entries[0].CreatedAt); err != nil {
		t.Fatalf("bad timestamp %q: %v", entries[0].CreatedAt, err)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Searcher = &mockSearcher{page: remote.ServicePage{Services: []remote.Service{{ID: "svc-1"}}, Total: 1}}

	searchHandler := mcpSearchServices(deps)
	listHandler := mcpListNotifications(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := makeCallToolRequest("search_services", map[string]interface{}{
				"query": "concurrent",
			})
			result, err := searchHandler(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			if result.IsError {
				errs <- errors.New(toolText(t, result))
			}
		}(i)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			deps.Notify.Show(notify.Info, "hello", "")
			if _, err := listHandler(context.Background(), makeCallToolRequest("list_notifications", nil)); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer_WithoutHistory(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.History = nil
	deps.PageSize = 0

	if s := NewMCPServer(deps); s == nil {
		t.Fatal("expected server")
	}
}

func TestMCPTool_SearchServices_HistoryFailureIsLogged(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	deps.Searcher = &mockSearcher{page: remote.ServicePage{Services: []remote.Service{{ID: "svc-1"}}, Total: 1}}
	var logs bytes.Buffer
	deps.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	store.Close()

	result, err := mcpSearchServices(deps)(context.Background(), makeCallToolRequest("search_services", map[string]interface{}{
		"query": "logo",
	}))
	if err != nil || result.IsError {
		t.Fatalf("search must not fail when history cannot be written: %v", err)
	}
	if !strings.Contains(logs.String(), "recording search history") || !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected a history warning, got logs:\n%s", logs.String())
	}
}
