package control

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sable-inc/sable-smart-links-sub000/observability"
	"github.com/sable-inc/sable-smart-links-sub000/storage"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

var testImpl = &mcp.Implementation{Name: "tourd-test", Version: "0.1.0"}

func mcpSession(t *testing.T, opts ...Option) (*fixture, *mcp.ClientSession) {
	t.Helper()
	f := newFixture(t, opts...)
	srv := mcp.NewServer(testImpl, nil)
	f.svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()
	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return f, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	_, session := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"tour_list", "tour_start", "tour_next", "tour_previous", "tour_end", "tour_restart", "tour_goto", "tour_status", "tour_signal", "tour_funnel", "tour_events"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestMCP_TourLifecycle(t *testing.T) {
	f, session := mcpSession(t)

	text, isErr := callTool(t, session, "tour_list", map[string]any{})
	if isErr {
		t.Fatalf("tour_list: %s", text)
	}
	var tours []TourInfo
	if err := json.Unmarshal([]byte(text), &tours); err != nil || len(tours) != 2 {
		t.Fatalf("tour_list = %s (%v)", text, err)
	}

	text, isErr = callTool(t, session, "tour_start", map[string]any{"tour_id": "onboarding"})
	if isErr {
		t.Fatalf("tour_start: %s", text)
	}
	var st tour.Status
	if err := json.Unmarshal([]byte(text), &st); err != nil || !st.Running || st.TourID != "onboarding" {
		t.Fatalf("tour_start = %s (%v)", text, err)
	}
	f.run.advance(settle)

	md, _ := callTool(t, session, "tour_status", map[string]any{})
	if !strings.Contains(md, "### Welcome") || !strings.Contains(md, "**Go**") {
		t.Fatalf("tour_status markdown = %q", md)
	}
	raw, _ := callTool(t, session, "tour_status", map[string]any{"format": "json"})
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.StepID != "s1" || !st.Rendered {
		t.Fatalf("tour_status json = %s (%v)", raw, err)
	}

	text, _ = callTool(t, session, "tour_next", map[string]any{})
	json.Unmarshal([]byte(text), &st)
	if st.StepID != "s2" {
		t.Fatalf("tour_next = %s", text)
	}
	text, _ = callTool(t, session, "tour_end", map[string]any{})
	json.Unmarshal([]byte(text), &st)
	if st.Running {
		t.Fatalf("tour_end = %s", text)
	}
}

func TestMCP_ToolErrors(t *testing.T) {
	_, session := mcpSession(t)

	if text, isErr := callTool(t, session, "tour_start", map[string]any{"tour_id": "nope"}); !isErr || !strings.Contains(text, "unknown tour") {
		t.Fatalf("unknown tour: %q err=%v", text, isErr)
	}
	if _, isErr := callTool(t, session, "tour_next", map[string]any{}); !isErr {
		t.Fatal("tour_next while idle succeeded")
	}
	callTool(t, session, "tour_start", map[string]any{"tour_id": "onboarding"})
	if _, isErr := callTool(t, session, "tour_goto", map[string]any{"step_id": "s2"}); !isErr {
		t.Fatal("tour_goto on a linear tour succeeded")
	}
}

func TestMCP_SignalAndRestart(t *testing.T) {
	f, session := mcpSession(t)

	if text, isErr := callTool(t, session, "tour_signal", map[string]any{"agent_id": "branch", "step_id": "c"}); isErr || !strings.Contains(text, `"queued":true`) {
		t.Fatalf("tour_signal = %q err=%v", text, isErr)
	}
	st, err := f.svc.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TourID != "branch" || st.StepID != "c" {
		t.Fatalf("status after signal = %+v", st)
	}

	text, _ := callTool(t, session, "tour_restart", map[string]any{"tour_id": "branch"})
	json.Unmarshal([]byte(text), &st)
	if st.StepID != "pick" || st.InstanceID != "run2" {
		t.Fatalf("tour_restart = %s", text)
	}
}

func TestMCP_Audited(t *testing.T) {
	db := storage.OpenMemory(t).DB()
	if err := observability.Init(db); err != nil {
		t.Fatal(err)
	}
	audit := observability.NewAuditLogger(db, 10, observability.WithAuditLogger(quiet))
	_, session := mcpSession(t, WithAudit(audit))

	callTool(t, session, "tour_start", map[string]any{"tour_id": "onboarding"})
	callTool(t, session, "tour_goto", map[string]any{"step_id": "s2"})
	audit.Close()

	surface := observability.SurfaceMCP
	entries, err := audit.Query(context.Background(), &observability.AuditFilter{Surface: &surface, OrderBy: "timestamp", OrderDir: "ASC"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d", len(entries))
	}
	ops := map[string]string{}
	for _, e := range entries {
		ops[e.Operation] = e.Status
	}
	if ops["tour_start"] != "success" || ops["tour_goto"] != "error" {
		t.Fatalf("audit statuses = %v", ops)
	}
}

func TestMCP_Funnel(t *testing.T) {
	f, session := mcpSession(t)

	callTool(t, session, "tour_start", map[string]any{"tour_id": "onboarding"})
	f.run.advance(settle)
	callTool(t, session, "tour_end", map[string]any{})

	text, isErr := callTool(t, session, "tour_funnel", map[string]any{"tour_id": "onboarding"})
	if isErr {
		t.Fatalf("tour_funnel: %s", text)
	}
	var rep FunnelReport
	if err := json.Unmarshal([]byte(text), &rep); err != nil {
		t.Fatalf("decode funnel: %v (%s)", err, text)
	}
	if rep.Started != 1 || rep.Ended != 1 || rep.Completed != 0 || len(rep.Steps) != 1 || rep.Steps[0].StepID != "s1" {
		t.Fatalf("funnel = %+v", rep)
	}

	text, isErr = callTool(t, session, "tour_events", map[string]any{"tour_id": "onboarding", "type": "tour_ended"})
	if isErr {
		t.Fatalf("tour_events: %s", text)
	}
	var evs []EventRecord
	if err := json.Unmarshal([]byte(text), &evs); err != nil {
		t.Fatalf("decode events: %v (%s)", err, text)
	}
	if len(evs) != 1 || evs[0].Type != "tour_ended" || evs[0].InstanceID != "run1" {
		t.Fatalf("events = %+v", evs)
	}

	if text, isErr := callTool(t, session, "tour_funnel", map[string]any{"tour_id": "nope"}); !isErr || !strings.Contains(text, "unknown tour") {
		t.Fatalf("unknown tour = %v %s", isErr, text)
	}
}
