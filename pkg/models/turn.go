package models

// TurnInput is everything a node runner needs to drive one turn
type TurnInput struct {
	Run       *Run
	Node      *Node
	TurnID    string
	Envelopes []Envelope
	Messages  []UserMessage
	Resume    bool
}

// TurnResult is the terminal outcome of one turn. Outcome selects which of
// the optional fields are meaningful.
type TurnResult struct {
	Outcome TurnOutcome `json:"outcome"`
	Message string      `json:"message,omitempty"`
	Summary string      `json:"summary,omitempty"`
	Prompt  string      `json:"prompt,omitempty"`

	// completed
	Artifacts           []Artifact `json:"artifacts,omitempty"`
	Diff                string     `json:"diff,omitempty"`
	Outgoing            []Envelope `json:"outgoing,omitempty"`
	OutputHash          string     `json:"outputHash,omitempty"`
	DiffHash            string     `json:"diffHash,omitempty"`
	VerificationFailure string     `json:"verificationFailure,omitempty"`

	// blocked
	Approval *Approval `json:"approval,omitempty"`

	// failed
	Error string `json:"error,omitempty"`
}

// Completed constructs a completed turn result
func Completed(message, summary string) TurnResult {
	return TurnResult{Outcome: TurnCompleted, Message: message, Summary: summary}
}

// Blocked constructs a blocked turn result
func Blocked(approval *Approval, summary string) TurnResult {
	return TurnResult{Outcome: TurnBlocked, Approval: approval, Summary: summary}
}

// Interrupted constructs an interrupted turn result
func Interrupted(message, summary string) TurnResult {
	return TurnResult{Outcome: TurnInterrupted, Message: message, Summary: summary}
}

// Failed constructs a failed turn result
func Failed(err, summary string) TurnResult {
	return TurnResult{Outcome: TurnFailed, Error: err, Summary: summary}
}
