package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weftlab/loom/pkg/models"
)

func TestSessionState_FreshSessionIsFull(t *testing.T) {
	state := NewSessionState(false)
	assert.Equal(t, models.PromptFull, state.Decide("h1"))
}

func TestSessionState_DeltaAfterFullSent(t *testing.T) {
	state := NewSessionState(false)

	next := state.NotePromptSent(models.PromptFull, "h1")
	assert.Equal(t, models.PromptDelta, next)
	assert.Equal(t, models.PromptDelta, state.Decide("h1"))
}

func TestSessionState_HeaderChangeForcesFull(t *testing.T) {
	state := NewSessionState(false)
	state.NotePromptSent(models.PromptFull, "h1")

	assert.Equal(t, models.PromptFull, state.Decide("h2"))

	// Sending the new header restores delta for it
	state.NotePromptSent(models.PromptFull, "h2")
	assert.Equal(t, models.PromptDelta, state.Decide("h2"))
	assert.Equal(t, models.PromptFull, state.Decide("h1"))
}

func TestSessionState_DisconnectForcesFullUntilResent(t *testing.T) {
	state := NewSessionState(false)
	state.NotePromptSent(models.PromptFull, "h1")

	assert.Equal(t, models.PromptFull, state.MarkDisconnected())
	assert.Equal(t, models.PromptFull, state.Decide("h1"))

	// A delta send does not clear the disconnect
	state.NotePromptSent(models.PromptDelta, "h1")
	assert.Equal(t, models.PromptFull, state.Decide("h1"))

	// A full send does
	state.NotePromptSent(models.PromptFull, "h1")
	assert.Equal(t, models.PromptDelta, state.Decide("h1"))
}

func TestSessionState_ResetForcesFull(t *testing.T) {
	state := NewSessionState(false)
	state.NotePromptSent(models.PromptFull, "h1")

	assert.Equal(t, models.PromptFull, state.Reset())
	assert.Equal(t, models.PromptFull, state.Decide("h1"))
}

func TestSessionState_StatelessAlwaysFull(t *testing.T) {
	state := NewSessionState(true)

	state.NotePromptSent(models.PromptFull, "h1")
	assert.Equal(t, models.PromptFull, state.Decide("h1"))
}

func TestSessionState_NoteResumeKeepsState(t *testing.T) {
	state := NewSessionState(false)
	state.NotePromptSent(models.PromptFull, "h1")

	assert.Equal(t, models.PromptDelta, state.NoteResume())
	assert.Equal(t, models.PromptDelta, state.Decide("h1"))
}
