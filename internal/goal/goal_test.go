package goal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"antshell/internal/llm"
	"antshell/internal/llm/mockclient"
	"antshell/internal/prompts"
	"antshell/internal/state"
)

func TestClassify(t *testing.T) {
	prior := Goal{Statement: "bring GigabitEthernet0/1 back up", Status: Active}

	tests := []struct {
		name  string
		raw   string
		prior Goal
		want  Outcome
	}{
		{"complete word", "Complete", prior, Completed()},
		{"complete punctuated", "  complete.\n", prior, Completed()},
		{"complete marker", "All done <task_complete/>", prior, Completed()},
		{"clarification", "Clarification needed: which router?", prior, ClarificationNeeded("which router?")},
		{"new goal tag", "New goal: The current goal is to show the vlan table.", prior, New("show the vlan table.")},
		{"current goal sentence", "The current goal is to configure NTP", Goal{}, New("configure NTP")},
		{"same goal rephrased", "The current goal is to Bring GigabitEthernet0/1 back up!", prior, Continuing(prior.Statement)},
		{"continuing keeps prior statement", "Continuing goal: The current goal is to fix the uplink port", prior, Continuing(prior.Statement)},
		{"continuing without prior", "Continuing goal: check the clock", Goal{}, New("check the clock")},
		{"continuing tag", "Continuing: keep going", prior, Continuing(prior.Statement)},
		{"completed prior is not continued", "The current goal is to bring GigabitEthernet0/1 back up", Goal{Statement: prior.Statement, Status: Complete}, New("bring GigabitEthernet0/1 back up")},
		{"empty", "   ", prior, ClarificationNeeded("   ")},
		{"prose", "I think you may want to look at\nthe interfaces first.", prior, ClarificationNeeded("I think you may want to look at\nthe interfaces first.")},
		{"empty new goal", "New goal:", prior, ClarificationNeeded("New goal:")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw, tt.prior))
		})
	}
}

func TestApply(t *testing.T) {
	g := Goal{Statement: "check the uplink", Status: Active}

	assert.Equal(t, Goal{Statement: "show vlans", Status: Active}, g.Apply(New("show vlans")))
	assert.Equal(t, Goal{Statement: "check the uplink", Status: Complete}, g.Apply(Completed()))
	assert.Equal(t, g, g.Apply(Continuing("Check the uplink.")))
	assert.Equal(t, g, g.Apply(ClarificationNeeded("which one?")))
	assert.Equal(t, Goal{Status: NeedsClarification}, Goal{}.Apply(ClarificationNeeded("which one?")))
	assert.Equal(t, Goal{Statement: "x", Status: Active}, Goal{}.Apply(Continuing("x")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Normalize("Show  the VLANs."), Normalize("show the vlans"))
	assert.Equal(t, "bring gi0/1 up", Normalize("  Bring Gi0/1, up! "))
}

func TestTrackerEvaluate(t *testing.T) {
	client := mockclient.NewScripted("New goal: The current goal is to show interface status.")
	tr := &Tracker{
		Composer:     prompts.Default(),
		Model:        llm.PromptClient{Client: client},
		HistoryLimit: 10,
	}
	out, err := tr.Evaluate(context.Background(), Input{
		History:  []state.Message{{Role: state.RoleUser, Content: "show me the interfaces"}},
		Query:    "show me the interfaces",
		Snapshot: "R1#",
	})
	require.NoError(t, err)
	assert.Equal(t, New("show interface status."), out)

	calls := client.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[0].Content
	assert.Contains(t, prompt, "**GOAL EVALUATION INSTRUCTIONS**")
	assert.Contains(t, prompt, "**Previously Recorded Goal:** (not yet determined)")
	assert.Contains(t, prompt, "User: show me the interfaces")
}

func TestTrackerEvaluateTransportError(t *testing.T) {
	tr := &Tracker{
		Composer: prompts.Default(),
		Model: llm.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
			return "", errors.New("connection reset")
		}),
	}
	_, err := tr.Evaluate(context.Background(), Input{Query: "q"})
	require.Error(t, err)
	_, ok := llm.IsTransportError(err)
	assert.True(t, ok)
}
