package prompt

import (
	"fmt"
	"testing"

	"github.com/harun/vprtutor/pkg/completion"
	"github.com/harun/vprtutor/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alternating(n int) []session.Turn {
	turns := make([]session.Turn, 0, n)
	for i := 0; i < n; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		turns = append(turns, session.Turn{Role: role, Content: fmt.Sprintf("turn-%d", i)})
	}
	return turns
}

func TestNewAssembler(t *testing.T) {
	a := NewAssembler(0)
	assert.Equal(t, DefaultWindow, a.Window)
	assert.Equal(t, Persona, a.Persona)

	a = NewAssembler(4)
	assert.Equal(t, 4, a.WindowSize())

	assert.Equal(t, DefaultWindow, (&Assembler{}).WindowSize())
}

func TestAssemble_EmptyHistory(t *testing.T) {
	messages := NewAssembler(DefaultWindow).Assemble(nil)

	require.Len(t, messages, 1)
	assert.Equal(t, completion.Message{Role: "system", Content: Persona}, messages[0])
}

func TestAssemble_FirstMessage(t *testing.T) {
	history := []session.Turn{{Role: session.RoleUser, Content: "помоги с математикой"}}

	messages := NewAssembler(DefaultWindow).Assemble(history)

	assert.Equal(t, []completion.Message{
		{Role: "system", Content: Persona},
		{Role: "user", Content: "помоги с математикой"},
	}, messages)
}

func TestAssemble_WindowBoundary(t *testing.T) {
	// Seven prior turns plus the newly appended user turn.
	history := alternating(8)

	messages := NewAssembler(DefaultWindow).Assemble(history)

	require.Len(t, messages, 7)
	assert.Equal(t, "system", messages[0].Role)
	for i, msg := range messages[1:] {
		assert.Equal(t, fmt.Sprintf("turn-%d", i+2), msg.Content)
		assert.Equal(t, string(history[i+2].Role), msg.Role)
	}
}

func TestAssemble_ShortHistoryKeepsOrder(t *testing.T) {
	history := alternating(3)

	messages := NewAssembler(DefaultWindow).Assemble(history)

	require.Len(t, messages, 4)
	assert.Equal(t, "turn-0", messages[1].Content)
	assert.Equal(t, "turn-2", messages[3].Content)
}

func TestAssemble_SkipsStoredSystemTurns(t *testing.T) {
	history := []session.Turn{
		{Role: session.RoleSystem, Content: "stale persona"},
		{Role: session.RoleUser, Content: "привет"},
	}

	messages := NewAssembler(DefaultWindow).Assemble(history)

	require.Len(t, messages, 2)
	assert.Equal(t, Persona, messages[0].Content)
	assert.Equal(t, "привет", messages[1].Content)
}

func TestAssemble_Idempotent(t *testing.T) {
	a := NewAssembler(DefaultWindow)
	history := alternating(9)

	first := a.Assemble(history)
	second := a.Assemble(history)

	assert.Equal(t, first, second)
	assert.Equal(t, first[0].Content, second[0].Content)
}

func TestAssemble_DoesNotAliasHistory(t *testing.T) {
	history := alternating(2)

	messages := NewAssembler(DefaultWindow).Assemble(history)
	messages[1].Content = "mutated"

	assert.Equal(t, "turn-0", history[0].Content)
	assert.Len(t, history, 2)
}

func TestTexts(t *testing.T) {
	for _, subject := range Subjects {
		assert.Contains(t, WelcomeText, subject)
	}
	assert.Contains(t, Persona, "ВПР")
	assert.NotEmpty(t, ApologyText)
	assert.NotEmpty(t, UnsupportedText)
}
