// Package goal keeps the durable statement of the task a session is working
// toward and classifies the model's goal-evaluation replies.
package goal

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"antshell/internal/llm"
	"antshell/internal/prompts"
	"antshell/internal/state"
)

// Status of a Goal.
type Status string

const (
	Active             Status = "active"
	Complete           Status = "complete"
	NeedsClarification Status = "needs_clarification"
)

// Goal is the current task statement.
type Goal struct {
	Statement string `json:"statement"`
	Status    Status `json:"status"`
}

// IsActive reports whether g holds an unfinished statement.
func (g Goal) IsActive() bool {
	return g.Status == Active && strings.TrimSpace(g.Statement) != ""
}

// Kind tags an Outcome.
type Kind int

const (
	KindContinuing Kind = iota
	KindNew
	KindComplete
	KindClarificationNeeded
)

func (k Kind) String() string {
	switch k {
	case KindContinuing:
		return "continuing"
	case KindNew:
		return "new"
	case KindComplete:
		return "complete"
	case KindClarificationNeeded:
		return "clarification_needed"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a goal evaluation. Text is the goal
// statement for Continuing and New, and the question (or the unclassified
// raw reply) for ClarificationNeeded.
type Outcome struct {
	Kind Kind
	Text string
}

func Continuing(text string) Outcome          { return Outcome{Kind: KindContinuing, Text: text} }
func New(text string) Outcome                 { return Outcome{Kind: KindNew, Text: text} }
func Completed() Outcome                      { return Outcome{Kind: KindComplete} }
func ClarificationNeeded(text string) Outcome { return Outcome{Kind: KindClarificationNeeded, Text: text} }

func (o Outcome) String() string {
	if o.Text == "" {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", o.Kind, o.Text)
}

// Apply returns the goal that results from o. Continuing never rewrites the
// statement and ClarificationNeeded never mutates an existing goal.
func (g Goal) Apply(o Outcome) Goal {
	switch o.Kind {
	case KindNew:
		return Goal{Statement: strings.TrimSpace(o.Text), Status: Active}
	case KindComplete:
		g.Status = Complete
		return g
	case KindContinuing:
		if strings.TrimSpace(g.Statement) == "" {
			return Goal{Statement: strings.TrimSpace(o.Text), Status: Active}
		}
		g.Status = Active
		return g
	case KindClarificationNeeded:
		if strings.TrimSpace(g.Statement) == "" {
			return Goal{Status: NeedsClarification}
		}
		return g
	default:
		return g
	}
}

var (
	completeMarkerRe = regexp.MustCompile(`(?i)<task_complete\s*/>`)
	completeWordRe   = regexp.MustCompile(`(?i)^complete[.!]?$`)
	currentGoalRe    = regexp.MustCompile(`(?i)^the current goal is(\s+to)?[\s:]*`)
)

const (
	clarifyLead    = "clarification needed:"
	newLead        = "new goal:"
	continuingLead = "continuing goal:"
	continuingTag  = "continuing:"
)

// Classify maps a raw goal-evaluation reply to an Outcome. Replies that do not
// start with a recognised lead are returned as ClarificationNeeded(raw).
func Classify(raw string, prior Goal) Outcome {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClarificationNeeded(raw)
	}
	if completeMarkerRe.MatchString(trimmed) {
		return Completed()
	}

	line := firstLine(trimmed)
	if completeWordRe.MatchString(line) {
		return Completed()
	}

	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, clarifyLead):
		return ClarificationNeeded(strings.TrimSpace(line[len(clarifyLead):]))
	case strings.HasPrefix(lower, newLead):
		return resolve(statement(line[len(newLead):]), prior, false, raw)
	case strings.HasPrefix(lower, continuingLead):
		return resolve(statement(line[len(continuingLead):]), prior, true, raw)
	case strings.HasPrefix(lower, continuingTag):
		return resolve(statement(line[len(continuingTag):]), prior, true, raw)
	case currentGoalRe.MatchString(line):
		return resolve(statement(line), prior, false, raw)
	}
	return ClarificationNeeded(raw)
}

func resolve(text string, prior Goal, continuing bool, raw string) Outcome {
	if text == "" {
		if continuing && prior.IsActive() {
			return Continuing(prior.Statement)
		}
		return ClarificationNeeded(raw)
	}
	if prior.IsActive() && (continuing || Normalize(text) == Normalize(prior.Statement)) {
		return Continuing(prior.Statement)
	}
	return New(text)
}

func statement(s string) string {
	s = strings.TrimSpace(s)
	s = currentGoalRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Normalize folds case, punctuation and whitespace so near-identical goal
// statements compare equal.
func Normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// Input is everything one goal evaluation depends on.
type Input struct {
	Prior    Goal
	History  []state.Message
	Query    string
	Snapshot string
}

// Tracker runs goal evaluations against the model.
type Tracker struct {
	Composer     *prompts.Composer
	Model        llm.Completer
	HistoryLimit int
}

// Evaluate composes the goal-evaluation prompt, asks the model and classifies
// the reply. Model failures are returned as *llm.TransportError.
func (t *Tracker) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	prompt, err := t.Composer.Compose(prompts.Request{
		Variant:      prompts.GoalEvaluation,
		Goal:         activeStatement(in.Prior),
		History:      in.History,
		HistoryLimit: t.HistoryLimit,
		Query:        in.Query,
		Snapshot:     in.Snapshot,
	})
	if err != nil {
		return Outcome{}, err
	}
	raw, err := t.Model.Complete(ctx, prompt)
	if err != nil {
		if _, ok := llm.IsTransportError(err); ok {
			return Outcome{}, err
		}
		return Outcome{}, llm.WrapTransport("goal evaluation", err)
	}
	return Classify(raw, in.Prior), nil
}

func activeStatement(g Goal) string {
	if g.IsActive() {
		return g.Statement
	}
	return ""
}
