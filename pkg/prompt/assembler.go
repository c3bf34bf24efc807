// Package prompt builds completion requests from the persona and a session's history.
package prompt

import (
	"github.com/harun/vprtutor/pkg/completion"
	"github.com/harun/vprtutor/pkg/session"
)

// DefaultWindow is the number of stored turns sent with each request (3 user/assistant pairs).
const DefaultWindow = 6

// Assembler combines the persona with the most recent turns of a history
type Assembler struct {
	Persona string
	Window  int
}

// NewAssembler returns an Assembler using the tutoring persona.
// A window <= 0 falls back to DefaultWindow.
func NewAssembler(window int) *Assembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{Persona: Persona, Window: window}
}

// WindowSize returns the effective window
func (a *Assembler) WindowSize() int {
	if a.Window <= 0 {
		return DefaultWindow
	}
	return a.Window
}

// Assemble returns [system:persona, ...last Window turns of history].
// System turns in history are skipped. The returned slice never aliases history.
func (a *Assembler) Assemble(history []session.Turn) []completion.Message {
	turns := make([]session.Turn, 0, len(history))
	for _, turn := range history {
		if turn.Role == session.RoleSystem {
			continue
		}
		turns = append(turns, turn)
	}

	if window := a.WindowSize(); len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	messages := make([]completion.Message, 0, len(turns)+1)
	messages = append(messages, completion.Message{
		Role:    string(session.RoleSystem),
		Content: a.Persona,
	})
	for _, turn := range turns {
		messages = append(messages, completion.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return messages
}
