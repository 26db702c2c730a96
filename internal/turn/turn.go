// Package turn drives one conversation through the propose/approve/execute
// loop: it evaluates the goal, composes the prompt for the current phase,
// parses the model reply and holds proposed commands until the user decides.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"antshell/internal/goal"
	"antshell/internal/ledger"
	"antshell/internal/llm"
	"antshell/internal/reply"
	"antshell/internal/state"
	"antshell/internal/terminal"
)

// Phase of a session.
type Phase int

const (
	Initial Phase = iota
	AwaitingApproval
	AfterAccepted
	AfterRejected
	Continuation
	Done
	NeedsClarification
)

func (p Phase) String() string {
	switch p {
	case Initial:
		return "initial"
	case AwaitingApproval:
		return "awaiting_approval"
	case AfterAccepted:
		return "after_accepted"
	case AfterRejected:
		return "after_rejected"
	case Continuation:
		return "continuation"
	case Done:
		return "done"
	case NeedsClarification:
		return "needs_clarification"
	default:
		return "unknown"
	}
}

// SetStatus is the lifecycle state of a CommandSet.
type SetStatus string

const (
	Pending      SetStatus = "pending"
	Executed     SetStatus = "executed"
	RejectedSet  SetStatus = "rejected"
	AbandonedSet SetStatus = "abandoned"
)

// CommandSet is the ordered commands of one reply, held until the user
// accepts or rejects them.
type CommandSet struct {
	ID       string
	Turn     int
	Commands []string
	Status   SetStatus
	Reason   string
}

func (c *CommandSet) clone() *CommandSet {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Commands = append([]string(nil), c.Commands...)
	return &cp
}

// Decision is the user's verdict on the pending set.
type Decision struct {
	SetID    string
	Accepted bool
	Reason   string
}

// Model produces a reply for a prompt.
type Model = llm.Completer

// Terminal is the session's terminal.
type Terminal interface {
	Snapshot(ctx context.Context, sessionID string) (string, error)
	Execute(ctx context.Context, sessionID string, commands []string) (terminal.Result, error)
}

// Log is the conversation message log. *state.Conversation implements it.
type Log interface {
	Append(msg state.Message)
	Messages() []state.Message
}

// Ledger records approvals and goal changes.
type Ledger interface {
	Record(ctx context.Context, ev ledger.Event) error
}

var (
	ErrNoPendingCommands = errors.New("no pending command set")
	ErrStaleDecision     = errors.New("decision does not reference the pending command set")
	ErrNothingToRetry    = errors.New("no failed step to retry")
)

// ProtocolViolation describes a reply that could not be acted upon.
type ProtocolViolation struct {
	Notes []string
	Raw   string
}

func (v *ProtocolViolation) Error() string {
	return "protocol violation: " + strings.Join(v.Notes, "; ")
}

// IsRetryable reports whether err is a transport or terminal failure that can
// be retried without running any command twice.
func IsRetryable(err error) bool {
	if te, ok := llm.IsTransportError(err); ok {
		return te.Retryable()
	}
	if ee, ok := terminal.IsExecError(err); ok {
		return ee.Retryable()
	}
	return false
}

// View is a read-only copy of session state.
type View struct {
	SessionID     string
	Phase         Phase
	Goal          goal.Goal
	Pending       *CommandSet
	Continuations int
	Turn          int
}

// Result is what one Submit, Decide or Retry produced.
type Result struct {
	Phase   Phase
	Goal    goal.Goal
	Outcome *goal.Outcome
	// Actions holds every reply parsed during the call, in order.
	Actions []reply.Action
	Pending *CommandSet
	// Executed is set when an accepted set ran.
	Executed *terminal.Result
	// Clarification is the question put to the user when Phase is
	// NeedsClarification.
	Clarification string
	Violation     *ProtocolViolation
}

func (r Result) String() string {
	return fmt.Sprintf("phase=%s actions=%d", r.Phase, len(r.Actions))
}
