// Package history renders the bounded conversation window that is embedded in
// prompts. The window is recomputed on every prompt build because the log may
// grow between turns.
package history

import (
	"strings"

	"antshell/internal/state"
)

// Window returns at most the last limit user/agent messages in chronological
// order. Messages of any other role are skipped and do not count toward limit.
func Window(msgs []state.Message, limit int) []state.Message {
	if limit <= 0 || len(msgs) == 0 {
		return nil
	}
	out := make([]state.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if include(msgs[i].Role) {
			out = append(out, msgs[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Format renders Window(msgs, limit) as "User: ..." / "Agent: ..." lines.
func Format(msgs []state.Message, limit int) string {
	window := Window(msgs, limit)
	if len(window) == 0 {
		return ""
	}
	lines := make([]string, 0, len(window))
	for _, m := range window {
		lines = append(lines, label(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func include(role state.Role) bool {
	return role == state.RoleUser || role == state.RoleAgent
}

func label(role state.Role) string {
	if role == state.RoleUser {
		return "User"
	}
	return "Agent"
}
