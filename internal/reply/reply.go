// Package reply extracts the structured action from a raw model reply.
//
// Recognised markers are <thinking>…</thinking>, <cmd>…</cmd>,
// <task_complete/> and <wait_for_user/>. Every other bracketed tag is inert
// text. Parsing never fails; shapes that cannot be acted on safely come back
// as a Violation action carrying no commands.
package reply

import (
	"regexp"
	"strings"
)

// Kind is the action a reply asks for.
type Kind int

const (
	Explanation Kind = iota
	Commands
	Completion
	WaitForUser
	Violation
)

func (k Kind) String() string {
	switch k {
	case Explanation:
		return "explanation"
	case Commands:
		return "commands"
	case Completion:
		return "completion"
	case WaitForUser:
		return "wait_for_user"
	case Violation:
		return "violation"
	default:
		return "unknown"
	}
}

// Violation notes.
const (
	NoteMultipleBlocks    = "multiple command blocks"
	NoteCommandsWithDone  = "command block combined with completion marker"
	NoteUnterminatedBlock = "unterminated command block"
)

// Action is the typed result of Parse.
type Action struct {
	Kind     Kind
	Thinking string
	// Commands is set only when Kind is Commands, in reply order.
	Commands []string
	// Text is the reply with thinking, command blocks and markers removed.
	Text string
	// Waiting records a wait marker that accompanied a command block.
	Waiting    bool
	Violations []string
}

var (
	thinkingRe = regexp.MustCompile(`(?is)<thinking>(.*?)</thinking>`)
	cmdOpenRe  = regexp.MustCompile(`(?i)<cmd>`)
	cmdCloseRe = regexp.MustCompile(`(?i)</cmd>`)
	completeRe = regexp.MustCompile(`(?i)<task_complete\s*/>`)
	waitRe     = regexp.MustCompile(`(?i)<wait_for_user\s*/>`)
)

type block struct {
	start, end int // span of the whole block including tags
	body       string
}

// Parse converts a raw reply into an Action.
func Parse(raw string) Action {
	var act Action

	if m := thinkingRe.FindStringSubmatch(raw); m != nil {
		act.Thinking = strings.TrimSpace(m[1])
	}

	// Markers inside the thinking block are narration, not actions.
	body := thinkingRe.ReplaceAllString(raw, "")
	blocks, unterminated := findBlocks(body)
	completed := completeRe.MatchString(body)
	waiting := waitRe.MatchString(body)
	act.Text = displayText(body, blocks, unterminated)

	if unterminated >= 0 {
		act.Kind = Violation
		act.Violations = append(act.Violations, NoteUnterminatedBlock)
		return act
	}

	var commands []string
	if len(blocks) > 0 {
		commands = splitCommands(blocks[0].body)
		if len(blocks) > 1 {
			act.Violations = append(act.Violations, NoteMultipleBlocks)
		}
	}

	switch {
	case len(commands) > 0 && completed:
		act.Kind = Violation
		act.Violations = append(act.Violations, NoteCommandsWithDone)
	case len(commands) > 0:
		act.Kind = Commands
		act.Commands = commands
		act.Waiting = waiting
	case completed:
		act.Kind = Completion
	case waiting:
		act.Kind = WaitForUser
	default:
		act.Kind = Explanation
	}
	return act
}

// findBlocks returns every terminated <cmd> block in order. If an opening tag
// has no matching close, the offset of that tag is returned as unterminated
// (otherwise -1).
func findBlocks(raw string) ([]block, int) {
	var blocks []block
	pos := 0
	for {
		open := cmdOpenRe.FindStringIndex(raw[pos:])
		if open == nil {
			return blocks, -1
		}
		bodyStart := pos + open[1]
		closing := cmdCloseRe.FindStringIndex(raw[bodyStart:])
		if closing == nil {
			return blocks, pos + open[0]
		}
		blocks = append(blocks, block{
			start: pos + open[0],
			end:   bodyStart + closing[1],
			body:  raw[bodyStart : bodyStart+closing[0]],
		})
		pos = bodyStart + closing[1]
	}
}

func splitCommands(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func displayText(raw string, blocks []block, unterminated int) string {
	var b strings.Builder
	last := 0
	for _, blk := range blocks {
		b.WriteString(raw[last:blk.start])
		last = blk.end
	}
	if unterminated >= 0 {
		b.WriteString(raw[last:unterminated])
	} else {
		b.WriteString(raw[last:])
	}
	text := completeRe.ReplaceAllString(b.String(), "")
	text = waitRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
