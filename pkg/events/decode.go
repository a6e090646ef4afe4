package events

import (
	"encoding/json"
	"fmt"
)

// decoders maps every event type to a constructor for its concrete struct.
// Decode fails loudly on unknown types so a log written by a newer engine is
// detected instead of silently skipped.
var decoders = map[string]func() Event{
	EventTypeRunPatch:          func() Event { return &RunPatch{} },
	EventTypeRunMode:           func() Event { return &RunMode{} },
	EventTypeRunStalled:        func() Event { return &RunStalled{} },
	EventTypeNodePatch:         func() Event { return &NodePatch{} },
	EventTypeNodeProgress:      func() Event { return &NodeProgress{} },
	EventTypeNodeDeleted:       func() Event { return &NodeDeleted{} },
	EventTypeEdgeCreated:       func() Event { return &EdgeCreated{} },
	EventTypeEdgeDeleted:       func() Event { return &EdgeDeleted{} },
	EventTypeArtifactCreated:   func() Event { return &ArtifactCreated{} },
	EventTypeMessageUser:       func() Event { return &MessageUser{} },
	EventTypeAssistantDelta:    func() Event { return &AssistantDelta{} },
	EventTypeAssistantFinal:    func() Event { return &AssistantFinal{} },
	EventTypeThinkingDelta:     func() Event { return &ThinkingDelta{} },
	EventTypeThinkingFinal:     func() Event { return &ThinkingFinal{} },
	EventTypeMessageReasoning:  func() Event { return &MessageReasoning{} },
	EventTypeToolProposed:      func() Event { return &ToolProposed{} },
	EventTypeToolStarted:       func() Event { return &ToolStarted{} },
	EventTypeToolCompleted:     func() Event { return &ToolCompleted{} },
	EventTypeApprovalRequested: func() Event { return &ApprovalRequested{} },
	EventTypeApprovalResolved:  func() Event { return &ApprovalResolved{} },
	EventTypeHandoffSent:       func() Event { return &HandoffSent{} },
	EventTypeHandoffReported:   func() Event { return &HandoffReported{} },
	EventTypeTelemetryUsage:    func() Event { return &TelemetryUsage{} },
}

// KnownTypes returns every event type the decoder understands.
func KnownTypes() []string {
	types := make([]string, 0, len(decoders))
	for t := range decoders {
		types = append(types, t)
	}
	return types
}

// Decode parses one event log line into its concrete struct.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse event head: %w", err)
	}
	ctor, ok := decoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %q", head.Type)
	}
	ev := ctor()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

// Encode marshals an event to its wire form. The envelope must already be
// stamped; Encode never mutates the event.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventType(), err)
	}
	return data, nil
}
