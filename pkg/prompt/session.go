package prompt

import (
	"sync"

	"github.com/weftlab/loom/pkg/models"
)

// SessionState decides whether a session needs a full prompt or can take a
// delta. All inputs to the decision live here: whether a full prompt was
// ever sent, the header hash it carried, whether the adapter reported a
// disconnect since, and whether the protocol is stateless. Every mutation
// returns the prompt kind the next send must use, so the caller never
// reconstructs the decision from raw flags.
type SessionState struct {
	mu sync.Mutex

	// stateless protocols resend everything every turn
	stateless bool

	fullSent       bool
	lastHeaderHash string
	disconnected   bool
}

// NewSessionState creates the state for a fresh session. A fresh session
// always starts with a full prompt.
func NewSessionState(stateless bool) *SessionState {
	return &SessionState{stateless: stateless}
}

// Decide returns the kind for a send whose header hashes to headerHash.
func (s *SessionState) Decide(headerHash string) models.PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decideLocked(headerHash)
}

// NotePromptSent records a successful send. Sending a full prompt clears
// the disconnect flag: the session has seen the complete header again.
// Returns the kind a follow-up send would use with an unchanged header.
func (s *SessionState) NotePromptSent(kind models.PromptKind, headerHash string) models.PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == models.PromptFull {
		s.fullSent = true
		s.lastHeaderHash = headerHash
		s.disconnected = false
	}
	return s.decideLocked(headerHash)
}

// MarkDisconnected records an adapter disconnect. The next send is full.
func (s *SessionState) MarkDisconnected() models.PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnected = true
	return models.PromptFull
}

// Reset clears everything for a session reset. The next send is full.
func (s *SessionState) Reset() models.PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fullSent = false
	s.lastHeaderHash = ""
	s.disconnected = false
	return models.PromptFull
}

// NoteResume records that a suspended turn is continuing without a new
// prompt. State is unchanged; the returned kind applies only if the
// resumed turn ends up needing a send after all.
func (s *SessionState) NoteResume() models.PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decideLocked(s.lastHeaderHash)
}

func (s *SessionState) decideLocked(headerHash string) models.PromptKind {
	if s.stateless || !s.fullSent || s.disconnected || headerHash != s.lastHeaderHash {
		return models.PromptFull
	}
	return models.PromptDelta
}
