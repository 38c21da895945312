package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ericvicenti/botical-sub003/pkg/agent"
	"github.com/ericvicenti/botical-sub003/pkg/config"
	"github.com/ericvicenti/botical-sub003/pkg/cost"
	"github.com/ericvicenti/botical-sub003/pkg/providers"
	"github.com/ericvicenti/botical-sub003/pkg/store"
	"github.com/ericvicenti/botical-sub003/pkg/tools"
)

// fakeProvider answers each Chat call through a test-supplied function and
// records what it was asked.
type fakeProvider struct {
	mu    sync.Mutex
	fn    func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error)
	calls []fakeCall
}

type fakeCall struct {
	model     string
	toolNames []string
	messages  []providers.Message
}

func (f *fakeProvider) Chat(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	f.mu.Lock()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Function.Name)
	}
	f.calls = append(f.calls, fakeCall{model: model, toolNames: names, messages: messages})
	f.mu.Unlock()
	return f.fn(messages, defs)
}

func (f *fakeProvider) GetDefaultModel() string { return "" }

func (f *fakeProvider) callLog() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

func lastMessage(messages []providers.Message) providers.Message {
	return messages[len(messages)-1]
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func toolCallResponse(id, name, argsJSON string) *providers.LLMResponse {
	args := map[string]interface{}{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			panic(err)
		}
	}
	return &providers.LLMResponse{
		ToolCalls:    []providers.ToolCall{{ID: id, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
		Usage:        &providers.UsageInfo{PromptTokens: 10, CompletionTokens: 5},
	}
}

func finalResponse(content string) *providers.LLMResponse {
	return &providers.LLMResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        &providers.UsageInfo{PromptTokens: 10, CompletionTokens: 5},
	}
}

type testEnv struct {
	store   *store.Store
	orch    *Orchestrator
	cfg     *config.Config
	project *store.Project
	fake    *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	project, err := st.CreateProject(context.Background(), "demo", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tr := tools.NewRegistry()
	if err := tools.RegisterBuiltins(tr); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	fake := &fakeProvider{}
	orch := New(st, tr, agent.NewRegistry(), cfg)
	orch.SetProviderFactory(func(model, providerName string, c *config.Config) (providers.LLMProvider, error) {
		return fake, nil
	})

	return &testEnv{store: st, orch: orch, cfg: cfg, project: project, fake: fake}
}

func (e *testEnv) newSession(t *testing.T, agentName string) *store.Session {
	t.Helper()
	sess, err := e.store.CreateSession(context.Background(), store.NewSessionParams{
		ProjectID: e.project.ID,
		Agent:     agentName,
	})
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestRun_ToolLoop(t *testing.T) {
	env := newTestEnv(t)
	writeProjectFile(t, env.project.Path, "hello.txt", "greetings\n")
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		last := lastMessage(messages)
		if last.Role == "tool" {
			return finalResponse("The file says: " + last.Content), nil
		}
		return toolCallResponse("c1", "read", `{"path":"hello.txt"}`), nil
	}

	result, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "what does hello.txt say?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps != 2 {
		t.Errorf("steps: %d", result.Steps)
	}
	if !strings.Contains(result.Content, "greetings") {
		t.Errorf("content: %q", result.Content)
	}

	msgs, err := env.store.ListMessages(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantRoles := []string{store.RoleUser, store.RoleAssistant, store.RoleTool, store.RoleAssistant}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("persisted messages: %d, want %d", len(msgs), len(wantRoles))
	}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d role: %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if msgs[1].ToolCalls == "" {
		t.Error("assistant tool calls not persisted")
	}
	if msgs[2].ToolCallID != "c1" {
		t.Errorf("tool call id: %q", msgs[2].ToolCallID)
	}

	got, _ := env.store.GetSession(context.Background(), sess.ID)
	if got.Status != store.StatusIdle {
		t.Errorf("final status: %q", got.Status)
	}
	if got.InputTokens != 20 || got.OutputTokens != 10 {
		t.Errorf("usage: in=%d out=%d", got.InputTokens, got.OutputTokens)
	}
	if got.CostUSD <= 0 {
		t.Errorf("cost not accrued from default pricing: %v", got.CostUSD)
	}
}

func TestRun_UnknownToolBecomesFailedResult(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		if lastMessage(messages).Role == "tool" {
			return finalResponse("recovered"), nil
		}
		return toolCallResponse("c1", "teleport", `{}`), nil
	}

	result, err := env.orch.Run(context.Background(), RunRequest{SessionID: sess.ID, Input: "go"})
	if err != nil {
		t.Fatalf("hallucinated tool must not abort the turn: %v", err)
	}
	if result.Content != "recovered" {
		t.Errorf("content: %q", result.Content)
	}

	msgs, _ := env.store.ListMessages(context.Background(), sess.ID)
	toolMsg := msgs[2]
	if !strings.Contains(toolMsg.Content, "Unknown tool") {
		t.Errorf("tool message: %q", toolMsg.Content)
	}
}

func TestRun_CodeExecutionGate(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		if lastMessage(messages).Role == "tool" {
			return finalResponse("ok"), nil
		}
		return toolCallResponse("c1", "bash", `{"command":"rm -rf /"}`), nil
	}

	_, err := env.orch.Run(context.Background(), RunRequest{
		SessionID:      sess.ID,
		Input:          "run it",
		CanExecuteCode: false,
	})
	if err != nil {
		t.Fatal(err)
	}

	// bash is never exported without the capability, so the call comes back
	// as an unavailable tool.
	calls := env.fake.callLog()
	for _, name := range calls[0].toolNames {
		if name == "bash" {
			t.Error("bash advertised without code-execution capability")
		}
	}
	msgs, _ := env.store.ListMessages(context.Background(), sess.ID)
	if !strings.Contains(msgs[2].Content, "Unknown tool") {
		t.Errorf("gated call result: %q", msgs[2].Content)
	}
}

func TestRun_TaskInterception(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		last := lastMessage(messages)
		switch {
		case last.Role == "user" && last.Content == "investigate the repo":
			return toolCallResponse("c1", "task",
				`{"description":"repo survey","prompt":"look around","subagent_type":"explore"}`), nil
		case last.Role == "user" && last.Content == "look around":
			return finalResponse("child findings"), nil
		case last.Role == "tool":
			return finalResponse("parent summary: " + last.Content), nil
		}
		return nil, fmt.Errorf("unexpected message: %+v", last)
	}

	result, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "investigate the repo",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Content, "child findings") {
		t.Errorf("child result not folded back: %q", result.Content)
	}

	children, err := env.store.ListChildSessions(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 {
		t.Fatalf("child sessions: %d", len(children))
	}
	child := children[0]
	if child.Agent != "explore" {
		t.Errorf("child agent: %q", child.Agent)
	}
	if child.Title != "repo survey" {
		t.Errorf("child title: %q", child.Title)
	}
	if child.Status != store.StatusIdle {
		t.Errorf("child status: %q", child.Status)
	}

	// The explore child only sees its read-only tool set.
	calls := env.fake.callLog()
	var childCall *fakeCall
	for i := range calls {
		for _, m := range calls[i].messages {
			if m.Role == "user" && m.Content == "look around" {
				childCall = &calls[i]
			}
		}
	}
	if childCall == nil {
		t.Fatal("child provider call not found")
	}
	want := []string{"read", "glob", "grep"}
	if len(childCall.toolNames) != len(want) {
		t.Fatalf("child tools: %v", childCall.toolNames)
	}
	for i, name := range want {
		if childCall.toolNames[i] != name {
			t.Errorf("child tool %d: %q, want %q", i, childCall.toolNames[i], name)
		}
	}
}

func TestRun_TaskUnknownAgentFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		last := lastMessage(messages)
		switch {
		case last.Role == "user" && last.Content == "go":
			return toolCallResponse("c1", "task",
				`{"description":"x","prompt":"child work","subagent_type":"nonexistent"}`), nil
		case last.Role == "user" && last.Content == "child work":
			return finalResponse("child done"), nil
		case last.Role == "tool":
			return finalResponse("done"), nil
		}
		return nil, fmt.Errorf("unexpected message: %+v", last)
	}

	result, err := env.orch.Run(context.Background(), RunRequest{SessionID: sess.ID, Input: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "done" {
		t.Errorf("content: %q", result.Content)
	}
	children, _ := env.store.ListChildSessions(context.Background(), sess.ID)
	if len(children) != 1 {
		t.Fatalf("child sessions: %d", len(children))
	}
	if children[0].Agent != "default" {
		t.Errorf("unknown subagent type must degrade to default, got %q", children[0].Agent)
	}
}

func TestRun_BackgroundTask(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		last := lastMessage(messages)
		switch {
		case last.Role == "user" && last.Content == "start background work":
			return toolCallResponse("c1", "task",
				`{"description":"bg","prompt":"child prompt","subagent_type":"explore","run_in_background":true}`), nil
		case last.Role == "user" && last.Content == "child prompt":
			return finalResponse("background done"), nil
		case last.Role == "tool":
			return finalResponse("parent continues"), nil
		}
		return nil, fmt.Errorf("unexpected message: %+v", last)
	}

	result, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "start background work",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "parent continues" {
		t.Errorf("parent content: %q", result.Content)
	}

	// The task result carries the child session id immediately.
	msgs, _ := env.store.ListMessages(context.Background(), sess.ID)
	children, _ := env.store.ListChildSessions(context.Background(), sess.ID)
	if len(children) != 1 {
		t.Fatalf("child sessions: %d", len(children))
	}
	if !strings.Contains(msgs[2].Content, children[0].ID) {
		t.Errorf("task result should name the child session: %q", msgs[2].Content)
	}

	// The detached child finishes on its own; poll the store for it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		child, err := env.store.GetSession(context.Background(), children[0].ID)
		if err != nil {
			t.Fatal(err)
		}
		if child.Status == store.StatusIdle && child.MessageCount > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background child never finished: %+v", child)
		}
		time.Sleep(10 * time.Millisecond)
	}

	childMsgs, _ := env.store.ListMessages(context.Background(), children[0].ID)
	final := childMsgs[len(childMsgs)-1]
	if final.Content != "background done" {
		t.Errorf("child final message: %q", final.Content)
	}
}

func TestRun_ProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		return nil, errors.New("upstream unavailable")
	}

	_, err := env.orch.Run(context.Background(), RunRequest{SessionID: sess.ID, Input: "hello"})
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}

	got, _ := env.store.GetSession(context.Background(), sess.ID)
	if got.Status != store.StatusError {
		t.Errorf("status: %q", got.Status)
	}

	msgs, _ := env.store.ListMessages(context.Background(), sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages: %d (user input must survive the failure)", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user message: %+v", msgs[0])
	}
	if msgs[1].ErrorType != "provider_error" {
		t.Errorf("error marker: %+v", msgs[1])
	}
}

func TestRun_SessionAndAgentErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.Run(context.Background(), RunRequest{SessionID: "missing", Input: "x"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	sess := env.newSession(t, "ghost-agent")
	_, err = env.orch.Run(context.Background(), RunRequest{SessionID: sess.ID, Input: "x"})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestRun_StepBudget(t *testing.T) {
	env := newTestEnv(t)
	writeProjectFile(t, env.project.Path, "f.txt", "data\n")
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		return toolCallResponse("c1", "read", `{"path":"f.txt"}`), nil
	}

	result, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "loop forever",
		MaxSteps:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps != 3 {
		t.Errorf("steps: %d", result.Steps)
	}
	if !strings.Contains(result.Content, "budget exhausted") {
		t.Errorf("content: %q", result.Content)
	}
}

func TestRun_AgentOverride(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		return finalResponse("ok"), nil
	}

	if _, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "look",
		Agent:     "explore",
	}); err != nil {
		t.Fatal(err)
	}

	// The explore override narrows the exported tool set for this run only.
	calls := env.fake.callLog()
	want := []string{"read", "glob", "grep"}
	if len(calls[0].toolNames) != len(want) {
		t.Fatalf("tools under override: %v", calls[0].toolNames)
	}
	got, _ := env.store.GetSession(context.Background(), sess.ID)
	if got.Agent != "default" {
		t.Errorf("override must not rewrite the stored agent: %q", got.Agent)
	}
}

func TestRun_CostFromConfiguredRates(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ModelPrices = map[string]cost.ModelPrice{
		"gpt-4.1": {Input: 10.0, Output: 20.0},
	}
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		resp := finalResponse("done")
		resp.Usage = &providers.UsageInfo{PromptTokens: 100_000, CompletionTokens: 50_000}
		return resp, nil
	}

	if _, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "hi",
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := env.store.GetSession(context.Background(), sess.ID)
	want := 0.1*10.0 + 0.05*20.0
	if math.Abs(got.CostUSD-want) > 1e-9 {
		t.Errorf("cost: got %v, want %v", got.CostUSD, want)
	}
}

func TestRun_TaskInheritsModelOverride(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		last := lastMessage(messages)
		switch {
		case last.Role == "user" && last.Content == "dig in":
			return toolCallResponse("c1", "task",
				`{"description":"scan files","prompt":"scan","subagent_type":"explore"}`), nil
		case last.Role == "user" && last.Content == "scan":
			return finalResponse("child ok"), nil
		case last.Role == "tool":
			return finalResponse("parent ok"), nil
		}
		return nil, fmt.Errorf("unexpected message: %+v", last)
	}

	if _, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "dig in",
		Model:     "gpt-4.1-mini",
	}); err != nil {
		t.Fatal(err)
	}

	// A per-run model override reaches child tasks the same way a stored
	// agent model would.
	for _, call := range env.fake.callLog() {
		if call.model != "gpt-4.1-mini" {
			t.Errorf("call used model %q, want the run override", call.model)
		}
	}
}

func TestRun_Events(t *testing.T) {
	env := newTestEnv(t)
	writeProjectFile(t, env.project.Path, "n.txt", "1\n")
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		if lastMessage(messages).Role == "tool" {
			return finalResponse("answer"), nil
		}
		return toolCallResponse("c1", "read", `{"path":"n.txt"}`), nil
	}

	var events []Event
	if _, err := env.orch.Run(context.Background(), RunRequest{
		SessionID: sess.ID,
		Input:     "read it",
		OnEvent:   func(ev Event) { events = append(events, ev) },
	}); err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{EventToolCall, EventToolResult, EventAssistant, EventDone}
	if len(types) != len(want) {
		t.Fatalf("events: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: %q, want %q", i, types[i], want[i])
		}
	}
	if events[0].Tool != "read" || !events[1].Success {
		t.Errorf("tool events: %+v", events[:2])
	}
	last := events[len(events)-1]
	if last.Content != "answer" {
		t.Errorf("done event content: %q", last.Content)
	}
}

func TestRun_HistoryReplayedInOrder(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(t, "default")

	env.fake.fn = func(messages []providers.Message, defs []providers.ToolDefinition) (*providers.LLMResponse, error) {
		return finalResponse("reply"), nil
	}

	for _, input := range []string{"first", "second"} {
		if _, err := env.orch.Run(context.Background(), RunRequest{SessionID: sess.ID, Input: input}); err != nil {
			t.Fatal(err)
		}
	}

	calls := env.fake.callLog()
	second := calls[1].messages
	var contents []string
	for _, m := range second {
		contents = append(contents, m.Role+":"+m.Content)
	}
	want := []string{"user:first", "assistant:reply", "user:second"}
	if len(contents) != len(want) {
		t.Fatalf("replayed history: %v", contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("history %d: %q, want %q", i, contents[i], want[i])
		}
	}
}
