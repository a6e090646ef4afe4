package models

import "github.com/google/uuid"

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// NewRunID returns a fresh run identifier
func NewRunID() string { return newID("run") }

// NewNodeID returns a fresh node identifier
func NewNodeID() string { return newID("node") }

// NewEdgeID returns a fresh edge identifier
func NewEdgeID() string { return newID("edge") }

// NewEnvelopeID returns a fresh handoff envelope identifier
func NewEnvelopeID() string { return newID("env") }

// NewMessageID returns a fresh user message identifier
func NewMessageID() string { return newID("msg") }

// NewArtifactID returns a fresh artifact identifier
func NewArtifactID() string { return newID("art") }

// NewToolCallID returns a fresh tool call identifier
func NewToolCallID() string { return newID("call") }

// NewTurnID returns a fresh turn identifier
func NewTurnID() string { return newID("turn") }

// NewEventID returns a fresh event identifier
func NewEventID() string { return newID("evt") }
