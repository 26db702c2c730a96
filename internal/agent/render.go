package agent

import (
	"errors"
	"fmt"
	"strings"

	"antshell/internal/llm"
	"antshell/internal/logging"
	"antshell/internal/reply"
	"antshell/internal/turn"
)

// printResult shows everything one turn operation produced, in order:
// explanations, executed output, the proposal awaiting approval and the
// phase the session ended in.
func (a *Agent) printResult(res turn.Result, err error) {
	if res.Executed != nil {
		for _, c := range res.Executed.Commands {
			if !c.Ran {
				fmt.Fprintf(a.out, "  (not run) %s\n", c.Command)
				continue
			}
			fmt.Fprintf(a.out, "$ %s\n", c.Command)
			if out := strings.TrimRight(c.Output, "\n"); out != "" {
				fmt.Fprintln(a.out, out)
			}
			if c.ExitCode != 0 {
				fmt.Fprintf(a.out, "(exit %d)\n", c.ExitCode)
			}
		}
	}

	for _, act := range res.Actions {
		if act.Thinking != "" {
			logging.DevLog("model thinking: %s", act.Thinking)
		}
		if act.Kind == reply.Violation {
			fmt.Fprintf(a.out, "(reply ignored: %s)\n", strings.Join(act.Violations, "; "))
			continue
		}
		a.printResponse(act.Text)
	}

	switch res.Phase {
	case turn.AwaitingApproval:
		if res.Pending != nil {
			fmt.Fprintln(a.out, "Proposed commands:")
			for i, cmd := range res.Pending.Commands {
				fmt.Fprintf(a.out, "  %d. %s\n", i+1, cmd)
			}
			fmt.Fprintln(a.out, "Run them? y / n [reason]  (:abandon to drop)")
		}
	case turn.Done:
		if res.Goal.Statement != "" {
			fmt.Fprintf(a.out, "Goal complete: %s\n", res.Goal.Statement)
		} else {
			fmt.Fprintln(a.out, "Goal complete.")
		}
	case turn.NeedsClarification:
		if res.Clarification != "" && !printedAsAction(res) {
			a.printResponse(res.Clarification)
		}
		fmt.Fprintln(a.out, "(Ant needs more information to continue.)")
	}

	if err != nil {
		a.printError(err)
	}
}

// printedAsAction reports whether the clarification text already appeared as
// the last reply.
func printedAsAction(res turn.Result) bool {
	if len(res.Actions) == 0 {
		return false
	}
	return strings.TrimSpace(res.Actions[len(res.Actions)-1].Text) == strings.TrimSpace(res.Clarification)
}

func (a *Agent) printError(err error) {
	a.logger.Error("turn failed", logging.Fields{"error": err.Error()})
	if errors.Is(err, turn.ErrNoPendingCommands) {
		fmt.Fprintln(a.out, "Nothing is waiting for approval.")
		return
	}
	if pe, ok := llm.IsProviderError(err); ok {
		fmt.Fprintf(a.out, "Provider error (%s): %s\n", pe.Type, pe.Message)
		if pe.RetryAfter != nil {
			fmt.Fprintf(a.out, "Retry after %s.\n", pe.RetryAfter)
		}
	} else {
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
	if turn.IsRetryable(err) {
		fmt.Fprintln(a.out, "(retryable: use :retry)")
	}
}

func (a *Agent) printResponse(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if a.render == nil {
		fmt.Fprintf(a.out, "%s\n", text)
		return
	}
	rendered, err := a.render.Render(text)
	if err != nil {
		a.logger.Warn("markdown render failed", logging.Fields{"error": err.Error()})
		fmt.Fprintf(a.out, "%s\n", text)
		return
	}
	fmt.Fprint(a.out, strings.TrimRight(rendered, "\n")+"\n")
}
