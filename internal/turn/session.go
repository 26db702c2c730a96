package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"antshell/internal/goal"
	"antshell/internal/ledger"
	"antshell/internal/logging"
	"antshell/internal/prompts"
	"antshell/internal/reply"
	"antshell/internal/state"
)

// DefaultMaxContinuations bounds automatic continuation prompts per step.
const DefaultMaxContinuations = 3

// Config is shared, read-only session configuration.
type Config struct {
	Composer         *prompts.Composer
	Model            Model
	Terminal         Terminal
	Ledger           Ledger
	Logger           *logging.StructuredLogger
	HistoryLimit     int
	MaxContinuations int
	// Persist is called after every operation that appended to the log.
	Persist func() error
}

func (c Config) withDefaults() Config {
	if c.Composer == nil {
		c.Composer = prompts.Default()
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.MaxContinuations <= 0 {
		c.MaxContinuations = DefaultMaxContinuations
	}
	if c.Logger == nil {
		c.Logger = logging.NewStructuredLogger(logging.Logger, "turn", false)
	}
	return c
}

// Session is one conversation's turn machine. Operations are serialized;
// Submit and Cancel interrupt an operation in flight.
type Session struct {
	id      string
	cfg     Config
	log     Log
	tracker *goal.Tracker
	logger  *logging.StructuredLogger

	run sync.Mutex // held for the whole of an operation

	mu            sync.Mutex
	phase         Phase
	goal          goal.Goal
	pending       *CommandSet
	continuations int
	turn          int
	retry         *prompts.Request

	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	cancelGen uint64
}

// NewSession returns a session in the Initial phase writing to log.
func NewSession(id string, log Log, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:  id,
		cfg: cfg,
		log: log,
		tracker: &goal.Tracker{
			Composer:     cfg.Composer,
			Model:        cfg.Model,
			HistoryLimit: cfg.HistoryLimit,
		},
		logger: cfg.Logger.WithSession(id),
		phase:  Initial,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		SessionID:     s.id,
		Phase:         s.phase,
		Goal:          s.goal,
		Pending:       s.pending.clone(),
		Continuations: s.continuations,
		Turn:          s.turn,
	}
}

// RestoreGoal sets the goal of a resumed conversation. It is a no-op while a
// command set is pending.
func (s *Session) RestoreGoal(g goal.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.goal = g
	}
}

// Cancel interrupts the model or terminal call in flight, if any.
func (s *Session) Cancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	s.cancelMu.Lock()
	s.cancelGen++
	gen := s.cancelGen
	s.cancel = cancel
	s.cancelMu.Unlock()
	return ctx, func() {
		cancel()
		s.cancelMu.Lock()
		if s.cancelGen == gen {
			s.cancel = nil
		}
		s.cancelMu.Unlock()
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	from := s.phase
	s.phase = p
	s.mu.Unlock()
	if from != p {
		s.logger.Debug("phase change", logging.Fields{"from": from.String(), "to": p.String()})
	}
}

func (s *Session) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{Phase: s.phase, Goal: s.goal, Pending: s.pending.clone()}
}

// Submit handles new user input. It supersedes any operation in flight and
// abandons a pending command set.
func (s *Session) Submit(ctx context.Context, query string) (Result, error) {
	s.Cancel()
	s.run.Lock()
	defer s.run.Unlock()
	ctx, done := s.begin(ctx)
	defer done()
	defer s.persist()

	if set := s.takePending(AbandonedSet, "superseded by new input"); set != nil {
		s.record(ctx, ledger.Event{Kind: ledger.Abandoned, SetID: set.ID, Commands: set.Commands, Reason: set.Reason})
		s.log.Append(state.Message{Role: state.RoleMeta, Content: "abandoned: " + strings.Join(set.Commands, "; ")})
	}

	s.mu.Lock()
	s.turn++
	s.continuations = 0
	s.retry = nil
	prior := s.goal
	s.mu.Unlock()

	history := s.log.Messages()
	snapshot, err := s.cfg.Terminal.Snapshot(ctx, s.id)
	if err != nil {
		s.log.Append(state.Message{Role: state.RoleUser, Content: query})
		s.setPhase(Initial)
		return s.result(), fmt.Errorf("read terminal snapshot: %w", err)
	}

	outcome, err := s.tracker.Evaluate(ctx, goal.Input{Prior: prior, History: history, Query: query, Snapshot: snapshot})
	if ctx.Err() != nil {
		s.logger.Info("goal evaluation superseded")
		s.setPhase(Initial)
		return s.result(), ctx.Err()
	}
	if err != nil {
		s.log.Append(state.Message{Role: state.RoleUser, Content: query})
		s.setPhase(Initial)
		return s.result(), err
	}

	next := prior.Apply(outcome)
	s.mu.Lock()
	s.goal = next
	s.mu.Unlock()
	s.logger.Info("goal evaluated", logging.Fields{"outcome": outcome.Kind.String(), "goal": next.Statement})
	if outcome.Kind == goal.KindNew {
		s.log.Append(state.Message{Role: state.RoleSystem, Content: "goal: " + next.Statement})
		s.record(ctx, ledger.Event{Kind: ledger.GoalSet, Goal: next.Statement})
	}

	res := Result{Outcome: &outcome}
	switch outcome.Kind {
	case goal.KindComplete:
		s.log.Append(state.Message{Role: state.RoleUser, Content: query})
		s.completeGoal(ctx)
		s.setPhase(Done)
		return s.finish(res), nil
	case goal.KindClarificationNeeded:
		s.log.Append(state.Message{Role: state.RoleUser, Content: query})
		s.log.Append(state.Message{Role: state.RoleAgent, Content: outcome.Text})
		res.Clarification = outcome.Text
		s.setPhase(NeedsClarification)
		return s.finish(res), nil
	}

	req := prompts.Request{
		Variant:      prompts.Initial,
		Goal:         next.Statement,
		History:      history,
		HistoryLimit: s.cfg.HistoryLimit,
		Query:        query,
		Snapshot:     snapshot,
	}
	prompt, err := s.cfg.Composer.Compose(req)
	if err != nil {
		s.log.Append(state.Message{Role: state.RoleUser, Content: query})
		s.setPhase(Initial)
		return s.result(), err
	}
	s.log.Append(state.Message{Role: state.RoleUser, Content: query})
	s.setPhase(Initial)
	err = s.loop(ctx, req, prompt, &res)
	return s.finish(res), err
}

// Decide resolves the pending command set. Accepting runs the exact commands
// once; rejecting runs nothing. Either way the model is prompted with the
// resulting terminal state.
func (s *Session) Decide(ctx context.Context, d Decision) (Result, error) {
	s.run.Lock()
	defer s.run.Unlock()
	ctx, done := s.begin(ctx)
	defer done()
	defer s.persist()

	s.mu.Lock()
	set := s.pending
	switch {
	case set == nil:
		s.mu.Unlock()
		return s.result(), ErrNoPendingCommands
	case d.SetID != set.ID:
		s.mu.Unlock()
		return s.result(), ErrStaleDecision
	}
	s.pending = nil
	s.continuations = 0
	s.retry = nil
	g := s.goal
	s.mu.Unlock()

	var res Result
	var req prompts.Request
	if d.Accepted {
		set.Status = Executed
		s.logger.Info("executing command set", logging.Fields{"set": set.ID, "commands": len(set.Commands)})
		out, err := s.cfg.Terminal.Execute(ctx, s.id, set.Commands)
		res.Executed = &out
		s.log.Append(state.Message{Role: state.RoleMeta, Content: "executed: " + strings.Join(out.Ran(), "; ")})
		if err != nil {
			set.Reason = err.Error()
			s.record(ctx, ledger.Event{Kind: ledger.Executed, SetID: set.ID, Commands: out.Ran(), Reason: set.Reason})
			s.logger.Error("command set failed", logging.Fields{"set": set.ID, "error": err.Error()})
			s.setPhase(Initial)
			return s.finish(res), err
		}
		s.record(ctx, ledger.Event{Kind: ledger.Executed, SetID: set.ID, Commands: set.Commands})
		req = prompts.Request{Variant: prompts.AfterAccepted}
		s.setPhase(AfterAccepted)
	} else {
		set.Status = RejectedSet
		set.Reason = strings.TrimSpace(d.Reason)
		s.record(ctx, ledger.Event{Kind: ledger.Rejected, SetID: set.ID, Commands: set.Commands, Reason: set.Reason})
		s.log.Append(state.Message{Role: state.RoleMeta, Content: "rejected: " + strings.Join(set.Commands, "; ")})
		req = prompts.Request{Variant: prompts.AfterRejected, Reason: set.Reason}
		s.setPhase(AfterRejected)
	}

	snapshot, err := s.cfg.Terminal.Snapshot(ctx, s.id)
	if err != nil {
		s.setPhase(Initial)
		return s.finish(res), fmt.Errorf("read terminal snapshot: %w", err)
	}
	req.Goal = g.Statement
	req.Snapshot = snapshot
	req.History = s.log.Messages()
	req.HistoryLimit = s.cfg.HistoryLimit

	prompt, err := s.cfg.Composer.Compose(req)
	if err != nil {
		s.setPhase(Initial)
		return s.finish(res), err
	}
	err = s.loop(ctx, req, prompt, &res)
	return s.finish(res), err
}

// Abandon releases the pending set without running it.
func (s *Session) Abandon() (*CommandSet, error) {
	s.Cancel()
	s.run.Lock()
	defer s.run.Unlock()
	defer s.persist()

	set := s.takePending(AbandonedSet, "abandoned by user")
	if set == nil {
		return nil, ErrNoPendingCommands
	}
	s.record(context.Background(), ledger.Event{Kind: ledger.Abandoned, SetID: set.ID, Commands: set.Commands, Reason: set.Reason})
	s.log.Append(state.Message{Role: state.RoleMeta, Content: "abandoned: " + strings.Join(set.Commands, "; ")})
	s.setPhase(Initial)
	return set, nil
}

// Retry resends the last prompt whose model call failed.
func (s *Session) Retry(ctx context.Context) (Result, error) {
	s.run.Lock()
	defer s.run.Unlock()
	ctx, done := s.begin(ctx)
	defer done()
	defer s.persist()

	s.mu.Lock()
	req := s.retry
	s.retry = nil
	s.mu.Unlock()
	if req == nil {
		return s.result(), ErrNothingToRetry
	}
	prompt, err := s.cfg.Composer.Compose(*req)
	if err != nil {
		return s.result(), err
	}
	var res Result
	err = s.loop(ctx, *req, prompt, &res)
	return s.finish(res), err
}

func (s *Session) takePending(status SetStatus, reason string) *CommandSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.pending
	if set == nil {
		return nil
	}
	s.pending = nil
	set.Status = status
	set.Reason = reason
	return set
}

// loop sends prompt and follows the reply until the session needs the user:
// commands to approve, completion, a question, or the continuation bound.
func (s *Session) loop(ctx context.Context, req prompts.Request, prompt string, res *Result) error {
	violations := 0
	for {
		raw, err := s.cfg.Model.Complete(ctx, prompt)
		if ctx.Err() != nil {
			s.logger.Info("model reply superseded")
			s.setPhase(Initial)
			return ctx.Err()
		}
		if err != nil {
			s.mu.Lock()
			failed := req
			s.retry = &failed
			s.mu.Unlock()
			s.logger.Error("model call failed", logging.Fields{"variant": req.Variant.String(), "error": err.Error()})
			s.setPhase(Initial)
			return err
		}

		act := reply.Parse(raw)
		res.Actions = append(res.Actions, act)
		s.log.Append(state.Message{Role: state.RoleAgent, Content: raw})
		if len(act.Violations) > 0 {
			s.logger.Warn("reply violations", logging.Fields{"kind": act.Kind.String(), "notes": strings.Join(act.Violations, "; ")})
		}

		switch act.Kind {
		case reply.Commands:
			s.mu.Lock()
			set := &CommandSet{ID: uuid.NewString(), Turn: s.turn, Commands: act.Commands, Status: Pending}
			s.pending = set
			s.mu.Unlock()
			s.record(ctx, ledger.Event{Kind: ledger.Proposed, SetID: set.ID, Commands: set.Commands})
			s.setPhase(AwaitingApproval)
			return nil

		case reply.Completion:
			s.completeGoal(ctx)
			s.setPhase(Done)
			return nil

		case reply.WaitForUser:
			res.Clarification = act.Text
			s.setPhase(NeedsClarification)
			return nil

		case reply.Violation:
			violations++
			v := &ProtocolViolation{Notes: act.Violations, Raw: raw}
			res.Violation = v
			if violations > 1 {
				res.Clarification = "The assistant's replies could not be acted on (" + strings.Join(v.Notes, "; ") + "). Please clarify how to proceed."
				s.setPhase(NeedsClarification)
				return nil
			}
			req = s.continuationRequest("Your previous reply could not be acted on: " + strings.Join(v.Notes, "; ") +
				". Reply with exactly one closed <cmd>…</cmd> block, or <task_complete/>, or a question ending with <wait_for_user/>, and never combine commands with <task_complete/>.")

		default:
			violations = 0
			s.mu.Lock()
			s.continuations++
			n := s.continuations
			s.mu.Unlock()
			if n > s.cfg.MaxContinuations {
				res.Clarification = fmt.Sprintf("No command or completion after %d continuation prompts. How would you like to proceed?", s.cfg.MaxContinuations)
				s.logger.Warn("continuation bound reached", logging.Fields{"bound": s.cfg.MaxContinuations})
				s.setPhase(NeedsClarification)
				return nil
			}
			req = s.continuationRequest("")
		}

		s.setPhase(Continuation)
		snapshot, err := s.cfg.Terminal.Snapshot(ctx, s.id)
		if err != nil {
			s.setPhase(Initial)
			return fmt.Errorf("read terminal snapshot: %w", err)
		}
		req.Snapshot = snapshot
		req.History = s.log.Messages()
		prompt, err = s.cfg.Composer.Compose(req)
		if err != nil {
			s.setPhase(Initial)
			return err
		}
	}
}

func (s *Session) continuationRequest(notice string) prompts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return prompts.Request{
		Variant:      prompts.Continuation,
		Goal:         s.goal.Statement,
		HistoryLimit: s.cfg.HistoryLimit,
		Notice:       notice,
	}
}

// completeGoal marks the goal complete in the log and the ledger.
func (s *Session) completeGoal(ctx context.Context) {
	s.mu.Lock()
	s.goal = s.goal.Apply(goal.Completed())
	g := s.goal
	s.mu.Unlock()
	s.log.Append(state.Message{Role: state.RoleSystem, Content: strings.TrimSpace("goal complete: " + g.Statement)})
	s.record(ctx, ledger.Event{Kind: ledger.GoalComplete, Goal: g.Statement})
}

func (s *Session) finish(res Result) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res.Phase = s.phase
	res.Goal = s.goal
	res.Pending = s.pending.clone()
	return res
}

func (s *Session) record(ctx context.Context, ev ledger.Event) {
	if s.cfg.Ledger == nil {
		return
	}
	ev.Session = s.id
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := s.cfg.Ledger.Record(ctx, ev); err != nil {
		s.logger.Error("ledger write failed", logging.Fields{"kind": string(ev.Kind), "error": err.Error()})
	}
}

func (s *Session) persist() {
	if s.cfg.Persist == nil {
		return
	}
	if err := s.cfg.Persist(); err != nil {
		s.logger.Error("persist conversation failed", logging.Fields{"error": err.Error()})
	}
}
