// Package prompts composes the instruction text sent to the model for each
// phase of a turn. Instructions are assembled from small embedded fragments;
// the clauses that change after a rejection are separate fragments selected by
// variant, so a rejected-variant prompt can never silently fall back to the
// base wording.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"text/template"

	"antshell/internal/history"
	"antshell/internal/state"
)

//go:embed templates/*
var embedded embed.FS

// Variant selects which prompt is rendered.
type Variant int

const (
	Initial Variant = iota
	AfterAccepted
	AfterRejected
	Continuation
	GoalEvaluation
)

func (v Variant) String() string {
	switch v {
	case Initial:
		return "initial"
	case AfterAccepted:
		return "after_accepted"
	case AfterRejected:
		return "after_rejected"
	case Continuation:
		return "continuation"
	case GoalEvaluation:
		return "goal_evaluation"
	default:
		return "variant(" + strconv.Itoa(int(v)) + ")"
	}
}

const noGoal = "(not yet determined)"

// Request holds every input a prompt depends on. Compose is a pure function
// of these fields.
type Request struct {
	Variant      Variant
	Goal         string
	History      []state.Message
	HistoryLimit int
	Query        string
	Snapshot     string
	// Reason is the optional free-text rejection reason (AfterRejected only).
	Reason string
	// Notice is an extra line shown above the instructions, used when the
	// previous reply could not be acted upon.
	Notice string
}

// CompositionError reports a missing or broken template fragment. No prompt
// is produced when it is returned.
type CompositionError struct {
	Variant  Variant
	Fragment string
	Err      error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("compose %s prompt: fragment %q: %v", e.Variant, e.Fragment, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// IsCompositionError checks if err is a CompositionError and returns it.
func IsCompositionError(err error) (*CompositionError, bool) {
	var ce *CompositionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Options configures a Composer.
type Options struct {
	// Fragments overrides the embedded template set; mainly for tests.
	Fragments fs.FS
	// Persona replaces the built-in persona paragraph when non-empty.
	Persona string
}

// Composer renders prompts. It holds only read-only configuration and is
// safe to share between sessions.
type Composer struct {
	fragments fs.FS
	persona   string
}

// New returns a Composer using opts.
func New(opts Options) *Composer {
	fragments := opts.Fragments
	if fragments == nil {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			panic(err)
		}
		fragments = sub
	}
	return &Composer{fragments: fragments, persona: strings.TrimSpace(opts.Persona)}
}

// Default returns a Composer over the embedded fragments.
func Default() *Composer {
	return New(Options{})
}

// clause slots whose wording depends on the variant.
var clauseSlots = []string{"understand", "plan", "explain", "completion"}

func clauseFragment(v Variant, slot string) string {
	if v == AfterRejected {
		return slot + "_rejected"
	}
	return slot
}

// Compose renders the prompt for req.
func (c *Composer) Compose(req Request) (string, error) {
	switch req.Variant {
	case Initial:
		return c.initial(req)
	case AfterAccepted:
		return c.afterAccepted(req)
	case AfterRejected:
		return c.afterRejected(req)
	case Continuation:
		return c.continuation(req)
	case GoalEvaluation:
		return c.goalEvaluation(req)
	default:
		return "", &CompositionError{Variant: req.Variant, Fragment: "", Err: errors.New("unknown variant")}
	}
}

func (c *Composer) initial(req Request) (string, error) {
	instructions, err := c.instructions(req.Variant)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are an AI assistant interacting with a user and potentially a live terminal.\n")
	writeGoal(&b, req.Goal)
	b.WriteString("\n")
	writeHistory(&b, req)
	if strings.TrimSpace(req.Snapshot) != "" {
		b.WriteString("\n")
		writeSnapshot(&b, "Current Terminal State:", req.Snapshot)
	}
	b.WriteString("\n**Latest User Query (leading to current goal):** ")
	b.WriteString(req.Query)
	b.WriteString("\n")
	writeNotice(&b, req.Notice)
	b.WriteString("\n")
	b.WriteString(instructions)
	return b.String(), nil
}

func (c *Composer) afterAccepted(req Request) (string, error) {
	instructions, err := c.instructions(req.Variant)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("User approved the previous command(s) and they were executed. You are an AI assistant interacting with a user and potentially a live terminal.\n")
	writeGoal(&b, req.Goal)
	b.WriteString("\n**IMPORTANT CONTEXT: Below is the *updated* state of the terminal after execution. Use this context AND the conversation history to determine the next action towards the goal.**\n\n")
	writeSnapshot(&b, "Updated Terminal State:", req.Snapshot)
	b.WriteString("\n**Previous Conversation History is available.**\n")
	writeNotice(&b, req.Notice)
	b.WriteString("\n")
	b.WriteString(instructions)
	return b.String(), nil
}

func (c *Composer) afterRejected(req Request) (string, error) {
	instructions, err := c.instructions(req.Variant)
	if err != nil {
		return "", err
	}
	reason := "No reason provided."
	if r := strings.TrimSpace(req.Reason); r != "" {
		reason = "Reason provided: " + strconv.Quote(r) + "."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user REJECTED the previously suggested command(s) related to the goal: %s. %s You are an AI assistant interacting with a user and potentially a live terminal.\n", goalText(req.Goal), reason)
	b.WriteString("\n**IMPORTANT CONTEXT: Below is the current state of the terminal. The previous commands were NOT executed.**\n\n")
	writeSnapshot(&b, "Current Terminal State:", req.Snapshot)
	b.WriteString("\n**Previous Conversation History is available.**\n")
	writeNotice(&b, req.Notice)
	b.WriteString("\n")
	b.WriteString(instructions)
	return b.String(), nil
}

func (c *Composer) continuation(req Request) (string, error) {
	instructions, err := c.instructions(req.Variant)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are an AI assistant interacting with a user and potentially a live terminal. The previous step involved explanation or analysis, and no commands were executed.\n")
	writeGoal(&b, req.Goal)
	b.WriteString("\n**IMPORTANT CONTEXT: Below is the *current* state of the terminal. Use this context AND the conversation history to determine the next action towards the goal.**\n\n")
	writeSnapshot(&b, "Current Terminal State:", req.Snapshot)
	b.WriteString("\n")
	writeHistory(&b, req)
	writeNotice(&b, req.Notice)
	b.WriteString("\n")
	b.WriteString(instructions)
	return b.String(), nil
}

func (c *Composer) goalEvaluation(req Request) (string, error) {
	body, err := c.fragment(req.Variant, "goal_evaluation")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are an AI assistant responsible *only* for determining the current task goal.\n\n")
	fmt.Fprintf(&b, "**Previously Recorded Goal:** %s\n\n", goalText(req.Goal))
	writeHistory(&b, req)
	b.WriteString("\n**Latest User Query:** ")
	b.WriteString(req.Query)
	b.WriteString("\n\nTerminal context to make decision:\n\n")
	b.WriteString(req.Snapshot)
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String(), nil
}

// instructions renders the shared instruction skeleton with the clause
// fragments selected for v.
func (c *Composer) instructions(v Variant) (string, error) {
	skeleton, err := c.fragment(v, "instructions.tmpl")
	if err != nil {
		return "", err
	}
	data := make(map[string]string, len(clauseSlots)+3)
	for _, name := range []string{"negatives", "tags"} {
		text, err := c.fragment(v, name)
		if err != nil {
			return "", err
		}
		data[name] = text
	}
	if c.persona != "" {
		data["persona"] = c.persona
	} else {
		text, err := c.fragment(v, "persona")
		if err != nil {
			return "", err
		}
		data["persona"] = text
	}
	for _, slot := range clauseSlots {
		text, err := c.fragment(v, clauseFragment(v, slot))
		if err != nil {
			return "", err
		}
		data[slot] = text
	}

	tmpl, err := template.New("instructions").Option("missingkey=error").Parse(skeleton)
	if err != nil {
		return "", &CompositionError{Variant: v, Fragment: "instructions.tmpl", Err: err}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", &CompositionError{Variant: v, Fragment: "instructions.tmpl", Err: err}
	}
	return b.String(), nil
}

func (c *Composer) fragment(v Variant, name string) (string, error) {
	file := name
	if !strings.Contains(name, ".") {
		file = name + ".md"
	}
	data, err := fs.ReadFile(c.fragments, file)
	if err != nil {
		return "", &CompositionError{Variant: v, Fragment: name, Err: err}
	}
	text := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(text) == "" {
		return "", &CompositionError{Variant: v, Fragment: name, Err: errors.New("fragment is empty")}
	}
	return text, nil
}

func goalText(goal string) string {
	if g := strings.TrimSpace(goal); g != "" {
		return g
	}
	return noGoal
}

func writeGoal(b *strings.Builder, goal string) {
	b.WriteString("The current goal is: ")
	b.WriteString(goalText(goal))
	b.WriteString("\n")
}

func writeHistory(b *strings.Builder, req Request) {
	fmt.Fprintf(b, "**Conversation History (Last %d messages):**\n", req.HistoryLimit)
	b.WriteString(history.Format(req.History, req.HistoryLimit))
	b.WriteString("\n")
}

func writeSnapshot(b *strings.Builder, title, snapshot string) {
	b.WriteString(title)
	b.WriteString("\n***\n")
	b.WriteString(snapshot)
	b.WriteString("\n***\n")
}

func writeNotice(b *strings.Builder, notice string) {
	if n := strings.TrimSpace(notice); n != "" {
		b.WriteString("\n**NOTE:** ")
		b.WriteString(n)
		b.WriteString("\n")
	}
}
