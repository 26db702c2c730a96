// Package agent is the interactive console: it reads operator input, routes
// it to the turn machine of the current conversation and renders replies,
// proposed commands and their output.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"antshell/internal/config"
	"antshell/internal/goal"
	"antshell/internal/ledger"
	"antshell/internal/llm"
	"antshell/internal/logging"
	"antshell/internal/state"
	"antshell/internal/terminal"
	"antshell/internal/turn"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":goal", Description: "show the current goal"},
	{Text: ":status", Description: "show phase, pending commands and provider"},
	{Text: ":accept", Description: "run the pending commands"},
	{Text: ":reject", Description: "reject the pending commands (:reject [reason])"},
	{Text: ":abandon", Description: "drop the pending commands without a reply"},
	{Text: ":retry", Description: "resend the last failed model call"},
	{Text: ":snapshot", Description: "print the terminal snapshot"},
	{Text: ":sessions", Description: "list conversations and terminals"},
	{Text: ":use", Description: "switch to a conversation (creates if missing)"},
	{Text: ":new", Description: "create and switch to a blank conversation"},
	{Text: ":ledger", Description: "show recent approvals (:ledger [n])"},
	{Text: ":provider", Description: "list or switch providers (:provider [key])"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// ProviderSwitcher is implemented by clients that can change provider at
// runtime. *llm.Switcher implements it.
type ProviderSwitcher interface {
	Active() llm.ProviderOption
	Options() []llm.ProviderOption
	SetActive(key string) error
}

// LedgerReader lists recorded approvals.
type LedgerReader interface {
	Recent(ctx context.Context, session string, limit int) ([]ledger.Event, error)
}

// Connector opens the terminal for a conversation that has none yet.
type Connector func(ctx context.Context, sessionID string) (terminal.Runner, error)

// Options wires an Agent.
type Options struct {
	Config    config.Config
	States    *state.Manager
	Hub       *turn.Hub
	Terminals *terminal.Registry
	Connect   Connector
	Ledger    LedgerReader
	Providers ProviderSwitcher
	Logger    *logging.StructuredLogger
	// Out receives console output; nil means stdout.
	Out io.Writer
	// ResumeKey selects the conversation to start in.
	ResumeKey string
}

// Agent is the console front end.
type Agent struct {
	cfg       config.Config
	states    *state.Manager
	hub       *turn.Hub
	terms     *terminal.Registry
	connect   Connector
	ledger    LedgerReader
	providers ProviderSwitcher
	logger    *logging.StructuredLogger
	out       io.Writer
	isTTY     bool
	render    *glamour.TermRenderer
	resumeKey string
}

// New returns an Agent ready for Run or RunOneShot.
func New(opts Options) (*Agent, error) {
	if opts.States == nil || opts.Hub == nil || opts.Terminals == nil {
		return nil, errors.New("agent: states, hub and terminals are required")
	}
	out := opts.Out
	stdout := out == nil
	if stdout {
		out = os.Stdout
	}
	var renderer *glamour.TermRenderer
	if stdout && term.IsTerminal(int(os.Stdout.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewStructuredLogger(logging.Logger, "agent", false)
	}
	return &Agent{
		cfg:       opts.Config,
		states:    opts.States,
		hub:       opts.Hub,
		terms:     opts.Terminals,
		connect:   opts.Connect,
		ledger:    opts.Ledger,
		providers: opts.Providers,
		logger:    logger,
		out:       out,
		isTTY:     stdout && term.IsTerminal(int(os.Stdin.Fd())),
		render:    renderer,
		resumeKey: strings.TrimSpace(opts.ResumeKey),
	}, nil
}

// Run starts the console and blocks until the operator exits.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.resumeKey != "" {
		if _, err := a.states.EnsureState(a.resumeKey); err != nil {
			return err
		}
	}
	if _, err := a.session(ctx); err != nil {
		return err
	}

	tracker := newInterruptTracker(2 * time.Second)
	if a.isTTY {
		return a.runPrompt(ctx, cancel, tracker)
	}
	go a.handleInterrupts(ctx, cancel, tracker)
	return a.runNonInteractive(ctx, cancel)
}

// RunOneShot submits query, prints what the assistant proposes and exits.
// Proposed commands are printed and abandoned, never run.
func (a *Agent) RunOneShot(ctx context.Context, query string) error {
	if a.resumeKey != "" {
		if _, err := a.states.EnsureState(a.resumeKey); err != nil {
			return err
		}
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	res, err := sess.Submit(ctx, query)
	a.printResult(res, err)
	if res.Pending != nil {
		if _, aerr := sess.Abandon(); aerr != nil && !errors.Is(aerr, turn.ErrNoPendingCommands) {
			return aerr
		}
		fmt.Fprintln(a.out, "(one-shot mode: commands were not executed)")
	}
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// session returns the turn machine of the current conversation, opening it
// and its terminal on first use.
func (a *Agent) session(ctx context.Context) (*turn.Session, error) {
	conv, err := a.states.Current()
	if err != nil {
		return nil, err
	}
	key := conv.Key()
	if !a.attached(key) {
		if a.connect == nil {
			return nil, fmt.Errorf("%w: %s", terminal.ErrNoConnection, key)
		}
		runner, err := a.connect(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("connect terminal: %w", err)
		}
		a.terms.Attach(key, runner)
		a.logger.Info("terminal attached", logging.Fields{"session": key, "label": runner.Label()})
	}
	if s, ok := a.hub.Get(key); ok {
		return s, nil
	}
	s := a.hub.Open(key, conv, func() error { return a.states.Save(conv) })
	if g, ok := goalFromLog(conv.Messages()); ok {
		s.RestoreGoal(g)
	}
	return s, nil
}

func (a *Agent) attached(key string) bool {
	for _, info := range a.terms.List() {
		if info.SessionID == key {
			return true
		}
	}
	return false
}

// goalFromLog recovers the last goal recorded in a resumed conversation. A
// goal whose newest entry is a completion comes back complete.
func goalFromLog(msgs []state.Message) (goal.Goal, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != state.RoleSystem {
			continue
		}
		if m.Content == "goal complete" {
			return goal.Goal{Status: goal.Complete}, true
		}
		if text, ok := strings.CutPrefix(m.Content, "goal complete: "); ok {
			return goal.Goal{Statement: strings.TrimSpace(text), Status: goal.Complete}, true
		}
		if text, ok := strings.CutPrefix(m.Content, "goal: "); ok && strings.TrimSpace(text) != "" {
			return goal.Goal{Statement: strings.TrimSpace(text), Status: goal.Active}, true
		}
	}
	return goal.Goal{}, false
}

func (a *Agent) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	fmt.Fprintln(a.out, "Ant is ready. Describe what you want done on the terminal.")
	fmt.Fprintln(a.out, "Type ':help' for commands. Answer proposals with y / n [reason]. Use double Ctrl+C to exit.")

	if conv, cerr := a.states.Current(); cerr == nil {
		if n := conv.Len(); n > 0 {
			fmt.Fprintf(a.out, "(resumed %s with %d messages)\n", conv.Key(), n)
		}
	}

	history := loadInputHistory(a.cfg.HistoryPath)

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, st) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := a.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		a.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("antshell"),
		prompt.OptionLivePrefix(a.livePrefix),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if tracker.secondPress() {
						fmt.Fprintln(a.out, "\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						a.cancelInFlight()
						cancel()
						panic(promptExit{})
					}
					fmt.Fprintln(a.out, "\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

func (a *Agent) livePrefix() (string, bool) {
	key := a.states.CurrentKey()
	if s, ok := a.hub.Get(key); ok && s.Snapshot().Pending != nil {
		return fmt.Sprintf("[%s] run? (y/n) > ", key), true
	}
	return fmt.Sprintf("[%s] > ", key), true
}

func (a *Agent) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (a *Agent) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		prefix, _ := a.livePrefix()
		fmt.Fprint(a.out, prefix)

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(a.out)
				return nil
			}
			if ctx.Err() != nil {
				fmt.Fprintln(a.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := a.handleLine(ctx, trimLineEnding(line)); exit {
			cancel()
			return nil
		}
	}
}

// handleInterrupts cancels the call in flight on the first Ctrl+C and exits
// on a second one.
func (a *Agent) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			a.cancelInFlight()
			if tracker.secondPress() {
				fmt.Fprintln(a.out, "\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Fprintln(a.out, "\n(Request cancelled. Press Ctrl+C again within 2s to exit)")
		}
	}
}

func (a *Agent) cancelInFlight() {
	if s, ok := a.hub.Get(a.states.CurrentKey()); ok {
		s.Cancel()
	}
}

// handleLine routes one line of input. It returns true when the operator
// asked to exit.
func (a *Agent) handleLine(ctx context.Context, input string) bool {
	line := strings.TrimSpace(input)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ":") {
		return a.handleCommand(ctx, line)
	}

	sess, err := a.session(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
		return false
	}
	if view := sess.Snapshot(); view.Pending != nil {
		if accepted, reason, ok := parseApproval(line); ok {
			a.decide(ctx, sess, view.Pending.ID, accepted, reason)
			return false
		}
	}

	logging.DevLog("dispatching query: %d chars", len(line))
	res, err := sess.Submit(ctx, line)
	a.printResult(res, err)
	return false
}

func (a *Agent) decide(ctx context.Context, sess *turn.Session, setID string, accepted bool, reason string) {
	res, err := sess.Decide(ctx, turn.Decision{SetID: setID, Accepted: accepted, Reason: reason})
	a.printResult(res, err)
}

// parseApproval recognises the inline answers to a proposal: y, yes, n, no,
// optionally followed by a rejection reason.
func parseApproval(line string) (accepted bool, reason string, ok bool) {
	word, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(strings.TrimRight(word, ",.:")) {
	case "y", "yes":
		if strings.TrimSpace(rest) != "" {
			return false, "", false
		}
		return true, "", true
	case "n", "no":
		return false, strings.TrimSpace(rest), true
	}
	return false, "", false
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}
