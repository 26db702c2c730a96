package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"antshell/internal/logging"
	"antshell/internal/turn"
)

const helpText = `Commands:
  :help             show this text
  :goal             show the current goal
  :status           show phase, pending commands and provider
  :accept           run the pending commands (same as y)
  :reject [reason]  reject the pending commands (same as n [reason])
  :abandon          drop the pending commands without asking the model again
  :retry            resend the last failed model call
  :snapshot         print the terminal snapshot the model sees
  :sessions         list conversations and attached terminals
  :use <key>        switch to a conversation (creates if missing)
  :new <key>        create and switch to a blank conversation
  :ledger [n]       show the n most recent approvals (default 10)
  :provider [key]   list providers or switch the active one
  :quit             exit the program`

// handleCommand runs a console command. It returns true on :quit.
func (a *Agent) handleCommand(ctx context.Context, cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case ":help":
		fmt.Fprintln(a.out, helpText)
	case ":goal":
		sess, err := a.session(ctx)
		if err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		g := sess.Snapshot().Goal
		if g.Statement == "" {
			fmt.Fprintln(a.out, "No goal yet.")
			return false
		}
		fmt.Fprintf(a.out, "Goal (%s): %s\n", g.Status, g.Statement)
	case ":status":
		a.printStatus(ctx)
	case ":accept", ":reject":
		sess, err := a.session(ctx)
		if err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		pending := sess.Snapshot().Pending
		if pending == nil {
			fmt.Fprintln(a.out, "Nothing is waiting for approval.")
			return false
		}
		reason := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))
		a.decide(ctx, sess, pending.ID, parts[0] == ":accept", reason)
	case ":abandon":
		sess, err := a.session(ctx)
		if err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		set, err := sess.Abandon()
		if errors.Is(err, turn.ErrNoPendingCommands) {
			fmt.Fprintln(a.out, "Nothing is waiting for approval.")
			return false
		}
		if err != nil {
			fmt.Fprintf(a.out, "Abandon failed: %v\n", err)
			return false
		}
		fmt.Fprintf(a.out, "Dropped %d command(s).\n", len(set.Commands))
	case ":retry":
		sess, err := a.session(ctx)
		if err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		res, err := sess.Retry(ctx)
		if errors.Is(err, turn.ErrNothingToRetry) {
			fmt.Fprintln(a.out, "Nothing to retry.")
			return false
		}
		a.printResult(res, err)
	case ":snapshot":
		if _, err := a.session(ctx); err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		snap, err := a.terms.Snapshot(ctx, a.states.CurrentKey())
		if err != nil {
			fmt.Fprintf(a.out, "Snapshot failed: %v\n", err)
			return false
		}
		if strings.TrimSpace(snap) == "" {
			fmt.Fprintln(a.out, "(terminal is empty)")
			return false
		}
		fmt.Fprintln(a.out, snap)
	case ":sessions":
		a.printSessions()
	case ":use":
		if len(parts) < 2 {
			fmt.Fprintln(a.out, ":use requires a key")
			return false
		}
		if _, err := a.states.EnsureState(parts[1]); err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		if _, err := a.session(ctx); err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		fmt.Fprintf(a.out, "Switched to %s\n", parts[1])
	case ":new":
		if len(parts) < 2 {
			fmt.Fprintln(a.out, ":new requires a key")
			return false
		}
		if _, err := a.states.NewState(parts[1]); err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		if _, err := a.session(ctx); err != nil {
			fmt.Fprintln(a.out, err)
			return false
		}
		fmt.Fprintf(a.out, "Created new conversation %s\n", parts[1])
	case ":ledger":
		a.printLedger(ctx, parts[1:])
	case ":provider":
		a.handleProvider(parts[1:])
	case ":quit", ":exit":
		fmt.Fprintln(a.out, "Exiting per user request.")
		return true
	default:
		fmt.Fprintf(a.out, "Unknown command %s. Try :help\n", parts[0])
	}
	return false
}

func (a *Agent) printStatus(ctx context.Context) {
	sess, err := a.session(ctx)
	if err != nil {
		fmt.Fprintln(a.out, err)
		return
	}
	v := sess.Snapshot()
	fmt.Fprintf(a.out, "Conversation: %s (turn %d)\n", v.SessionID, v.Turn)
	fmt.Fprintf(a.out, "Phase: %s\n", v.Phase)
	if v.Goal.Statement != "" {
		fmt.Fprintf(a.out, "Goal: %s [%s]\n", v.Goal.Statement, v.Goal.Status)
	}
	if v.Pending != nil {
		fmt.Fprintf(a.out, "Pending: %s\n", strings.Join(v.Pending.Commands, "; "))
	}
	for _, info := range a.terms.List() {
		if info.SessionID == v.SessionID {
			fmt.Fprintf(a.out, "Terminal: %s\n", info.Label)
		}
	}
	if a.providers != nil {
		opt := a.providers.Active()
		fmt.Fprintf(a.out, "Provider: %s (%s)\n", opt.Key, opt.Model)
	}
}

func (a *Agent) printSessions() {
	labels := map[string]string{}
	for _, info := range a.terms.List() {
		labels[info.SessionID] = info.Label
	}
	phases := map[string]turn.Phase{}
	for _, v := range a.hub.Views() {
		phases[v.SessionID] = v.Phase
	}
	summaries := a.states.Summaries()
	if len(summaries) == 0 {
		fmt.Fprintln(a.out, "No conversations yet. Use :new <name> to create one.")
		return
	}
	current := a.states.CurrentKey()
	for _, s := range summaries {
		marker := " "
		if s.Key == current {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %d messages, updated %s", marker, s.Key, s.MessageCount, s.UpdatedAt.Format(time.RFC822))
		if p, ok := phases[s.Key]; ok {
			line += "  phase=" + p.String()
		}
		if l, ok := labels[s.Key]; ok {
			line += "  terminal=" + l
		}
		fmt.Fprintln(a.out, line)
	}
}

func (a *Agent) printLedger(ctx context.Context, args []string) {
	if a.ledger == nil {
		fmt.Fprintln(a.out, "Ledger is disabled.")
		return
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(a.out, ":ledger expects a positive integer (e.g. :ledger 5).")
			return
		}
		limit = n
	}
	events, err := a.ledger.Recent(ctx, a.states.CurrentKey(), limit)
	if err != nil {
		fmt.Fprintf(a.out, "Ledger read failed: %v\n", err)
		return
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "No ledger entries for this conversation.")
		return
	}
	for _, ev := range events {
		detail := strings.Join(ev.Commands, "; ")
		if ev.Goal != "" {
			detail = ev.Goal
		}
		line := fmt.Sprintf("%s  %-9s %s", ev.Timestamp.Local().Format(time.RFC822), ev.Kind, detail)
		if ev.Reason != "" {
			line += fmt.Sprintf("  (%s)", ev.Reason)
		}
		fmt.Fprintln(a.out, line)
	}
}

func (a *Agent) handleProvider(args []string) {
	if a.providers == nil {
		fmt.Fprintln(a.out, "Provider switching is not available.")
		return
	}
	if len(args) == 0 {
		active := a.providers.Active().Key
		for _, opt := range a.providers.Options() {
			marker := " "
			if opt.Key == active {
				marker = "*"
			}
			fmt.Fprintf(a.out, "%s %s  %s (%s)\n", marker, opt.Key, opt.Label, opt.Model)
		}
		return
	}
	if err := a.providers.SetActive(args[0]); err != nil {
		fmt.Fprintf(a.out, "Provider switch failed: %v\n", err)
		return
	}
	opt := a.providers.Active()
	a.logger.Info("provider switched", logging.Fields{"provider": opt.Key, "model": opt.Model})
	fmt.Fprintf(a.out, "Active provider: %s (%s)\n", opt.Key, opt.Model)
}
