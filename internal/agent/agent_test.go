package agent

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"antshell/internal/config"
	"antshell/internal/goal"
	"antshell/internal/ledger"
	"antshell/internal/llm"
	"antshell/internal/llm/mockclient"
	"antshell/internal/state"
	"antshell/internal/terminal"
	"antshell/internal/turn"
)

type fakeRunner struct {
	mu  sync.Mutex
	ran []string
}

func (f *fakeRunner) Run(_ context.Context, command string) (terminal.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, command)
	return terminal.Output{Text: "output of " + command + "\n"}, nil
}

func (f *fakeRunner) Label() string { return "fake" }
func (f *fakeRunner) Close() error  { return nil }

func (f *fakeRunner) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

type harness struct {
	agent  *Agent
	out    *bytes.Buffer
	runner *fakeRunner
	states *state.Manager
	ledger *ledger.Store
	client *mockclient.Client
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	states, err := state.NewManager(filepath.Join(dir, "conversations"), nil)
	if err != nil {
		t.Fatalf("state manager: %v", err)
	}
	if _, err := states.EnsureState("ops"); err != nil {
		t.Fatalf("ensure state: %v", err)
	}
	store, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client := mockclient.NewScripted(replies...)
	terms := terminal.NewRegistry(terminal.RegistryOptions{})
	hub := turn.NewHub(turn.Config{
		Model:    llm.PromptClient{Client: client, Model: "mock-model"},
		Terminal: terms,
		Ledger:   store,
	})
	runner := &fakeRunner{}
	out := &bytes.Buffer{}
	a, err := New(Options{
		Config:    config.Config{HistoryPath: filepath.Join(dir, "history")},
		States:    states,
		Hub:       hub,
		Terminals: terms,
		Connect: func(context.Context, string) (terminal.Runner, error) {
			return runner, nil
		},
		Ledger: store,
		Out:    out,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return &harness{agent: a, out: out, runner: runner, states: states, ledger: store, client: client}
}

func (h *harness) line(t *testing.T, input string) string {
	t.Helper()
	h.out.Reset()
	if exit := h.agent.handleLine(context.Background(), input); exit {
		t.Fatalf("unexpected exit on %q", input)
	}
	return h.out.String()
}

func TestProposeAcceptComplete(t *testing.T) {
	h := newHarness(t,
		"The current goal is to list the files in the working directory",
		"<thinking>ls is enough</thinking>Listing the directory.\n<cmd>ls -la</cmd>",
		"The listing is shown above. <task_complete/>",
	)

	out := h.line(t, "list the files here")
	if !strings.Contains(out, "Proposed commands:") || !strings.Contains(out, "1. ls -la") {
		t.Fatalf("expected proposal, got:\n%s", out)
	}
	if len(h.runner.Ran()) != 0 {
		t.Fatalf("commands ran before approval: %v", h.runner.Ran())
	}

	out = h.line(t, "y")
	if got := h.runner.Ran(); len(got) != 1 || got[0] != "ls -la" {
		t.Fatalf("expected exactly ls -la to run, got %v", got)
	}
	if !strings.Contains(out, "output of ls -la") {
		t.Fatalf("expected command output, got:\n%s", out)
	}
	if !strings.Contains(out, "Goal complete") {
		t.Fatalf("expected completion, got:\n%s", out)
	}

	out = h.line(t, ":ledger")
	for _, want := range []string{"goal", "proposed", "executed", "ls -la"} {
		if !strings.Contains(out, want) {
			t.Fatalf("ledger output missing %q:\n%s", want, out)
		}
	}
}

func TestRejectWithReason(t *testing.T) {
	h := newHarness(t,
		"The current goal is to restart nginx",
		"<cmd>systemctl restart nginx</cmd>",
		"Understood, I will check the config first.\n<cmd>nginx -t</cmd>",
	)
	h.line(t, "restart nginx")
	out := h.line(t, "n test the config first")
	if len(h.runner.Ran()) != 0 {
		t.Fatalf("rejected commands ran: %v", h.runner.Ran())
	}
	if !strings.Contains(out, "1. nginx -t") {
		t.Fatalf("expected revised proposal, got:\n%s", out)
	}
	calls := h.client.Calls()
	last := calls[len(calls)-1].Messages[0].Content
	if !strings.Contains(last, `Reason provided: "test the config first"`) {
		t.Fatalf("rejection prompt missing reason:\n%s", last)
	}
}

func TestAbandonAndStatus(t *testing.T) {
	h := newHarness(t,
		"The current goal is to show the date",
		"<cmd>date</cmd>",
	)
	h.line(t, "what is the date")
	out := h.line(t, ":status")
	if !strings.Contains(out, "Phase: awaiting_approval") || !strings.Contains(out, "Pending: date") {
		t.Fatalf("unexpected status:\n%s", out)
	}
	out = h.line(t, ":abandon")
	if !strings.Contains(out, "Dropped 1 command(s).") {
		t.Fatalf("unexpected abandon output:\n%s", out)
	}
	out = h.line(t, ":accept")
	if !strings.Contains(out, "Nothing is waiting for approval.") {
		t.Fatalf("accept after abandon should be refused:\n%s", out)
	}
	if len(h.runner.Ran()) != 0 {
		t.Fatalf("abandoned commands ran: %v", h.runner.Ran())
	}
}

func TestOneShotNeverExecutes(t *testing.T) {
	h := newHarness(t,
		"The current goal is to check disk usage",
		"<cmd>df -h</cmd>",
	)
	if err := h.agent.RunOneShot(context.Background(), "how full is the disk"); err != nil {
		t.Fatalf("one-shot: %v", err)
	}
	if len(h.runner.Ran()) != 0 {
		t.Fatalf("one-shot ran commands: %v", h.runner.Ran())
	}
	if !strings.Contains(h.out.String(), "commands were not executed") {
		t.Fatalf("unexpected one-shot output:\n%s", h.out.String())
	}
}

func TestClarificationIsShownOnce(t *testing.T) {
	h := newHarness(t, "Clarification needed: which interface do you mean?")
	out := h.line(t, "fix it")
	if strings.Count(out, "which interface do you mean?") != 1 {
		t.Fatalf("expected clarification exactly once, got:\n%s", out)
	}
	if !strings.Contains(out, "needs more information") {
		t.Fatalf("missing clarification notice:\n%s", out)
	}
}

func TestConversationCommands(t *testing.T) {
	h := newHarness(t)
	out := h.line(t, ":new lab")
	if !strings.Contains(out, "Created new conversation lab") {
		t.Fatalf("unexpected :new output:\n%s", out)
	}
	if h.states.CurrentKey() != "lab" {
		t.Fatalf("expected lab to be current, got %s", h.states.CurrentKey())
	}
	out = h.line(t, ":sessions")
	if !strings.Contains(out, "* lab") || !strings.Contains(out, "terminal=fake") {
		t.Fatalf("unexpected :sessions output:\n%s", out)
	}
	h.line(t, ":use ops")
	if h.states.CurrentKey() != "ops" {
		t.Fatalf("expected ops to be current, got %s", h.states.CurrentKey())
	}
	out = h.line(t, ":bogus")
	if !strings.Contains(out, "Unknown command :bogus") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !h.agent.handleLine(context.Background(), ":quit") {
		t.Fatal(":quit should exit")
	}
}

func TestProviderCommandWithoutSwitcher(t *testing.T) {
	h := newHarness(t)
	out := h.line(t, ":provider gemini")
	if !strings.Contains(out, "not available") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestParseApproval(t *testing.T) {
	cases := []struct {
		in       string
		accepted bool
		reason   string
		ok       bool
	}{
		{"y", true, "", true},
		{"Yes", true, "", true},
		{"n", false, "", true},
		{"no, wrong host", false, "wrong host", true},
		{"yes please run the other one", false, "", false},
		{"show the routes", false, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			accepted, reason, ok := parseApproval(tc.in)
			if accepted != tc.accepted || reason != tc.reason || ok != tc.ok {
				t.Fatalf("parseApproval(%q) = %v, %q, %v", tc.in, accepted, reason, ok)
			}
		})
	}
}

func TestGoalFromLog(t *testing.T) {
	msgs := []state.Message{
		{Role: state.RoleSystem, Content: "goal: first"},
		{Role: state.RoleUser, Content: "goal: not a goal"},
		{Role: state.RoleSystem, Content: "goal: configure vlan 20"},
		{Role: state.RoleAgent, Content: "ok"},
	}
	g, ok := goalFromLog(msgs)
	if !ok || g.Statement != "configure vlan 20" {
		t.Fatalf("unexpected goal %+v ok=%v", g, ok)
	}
	if _, ok := goalFromLog(nil); ok {
		t.Fatal("empty log should have no goal")
	}

	finished := append(msgs, state.Message{Role: state.RoleSystem, Content: "goal complete: configure vlan 20"})
	g, ok = goalFromLog(finished)
	if !ok || g.Statement != "configure vlan 20" || g.Status != goal.Complete || g.IsActive() {
		t.Fatalf("completed goal restored as %+v ok=%v", g, ok)
	}

	reopened := append(finished, state.Message{Role: state.RoleSystem, Content: "goal: configure vlan 30"})
	g, _ = goalFromLog(reopened)
	if g.Statement != "configure vlan 30" || g.Status != goal.Active {
		t.Fatalf("newer goal should win, got %+v", g)
	}
}

func TestCompletedGoalIsRecordedAndResumedAsComplete(t *testing.T) {
	h := newHarness(t,
		"The current goal is to show the clock",
		"<cmd>date</cmd>",
		"The clock is shown. <task_complete/>",
	)
	h.line(t, "show the clock")
	h.line(t, "y")

	conv, err := h.states.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	msgs := conv.Messages()
	last := ""
	for _, m := range msgs {
		if m.Role == state.RoleSystem {
			last = m.Content
		}
	}
	if last != "goal complete: show the clock" {
		t.Fatalf("expected completion to be logged, last system message %q", last)
	}

	out := h.line(t, ":ledger")
	if !strings.Contains(out, "goal_complete") {
		t.Fatalf("ledger missing completion:\n%s", out)
	}

	resumed := newHarness(t)
	rconv, err := resumed.states.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	for _, m := range msgs {
		rconv.Append(m)
	}
	out = resumed.line(t, ":goal")
	if !strings.Contains(out, "Goal (complete): show the clock") {
		t.Fatalf("resumed goal should be complete, got:\n%s", out)
	}
}

func TestInputHistorySkipsApprovals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	h := loadInputHistory(path)
	h.Add("show ip route")
	h.Add("y")
	h.Add("n wrong box")
	reloaded := loadInputHistory(path)
	if got := reloaded.Entries(); len(got) != 1 || got[0] != "show ip route" {
		t.Fatalf("unexpected history %v", got)
	}
}
