package models

// RunStatus defines run lifecycle states
type RunStatus string

const (
	// RunStatusRunning means the scheduler dispatches turns for this run
	RunStatusRunning RunStatus = "running"
	// RunStatusPaused means no new turns are dispatched until resumed
	RunStatusPaused RunStatus = "paused"
	// RunStatusStopped means the run is terminal and all sessions are closed
	RunStatusStopped RunStatus = "stopped"
	// RunStatusFailed means the run ended with an unrecoverable error
	RunStatusFailed RunStatus = "failed"
)

// IsValid checks if the run status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusPaused, RunStatusStopped, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further turns can ever run
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusStopped || s == RunStatusFailed
}

// RunMode defines orchestration modes
type RunMode string

const (
	// RunModeAuto lets orchestrator nodes self-continue after a completed turn
	RunModeAuto RunMode = "auto"
	// RunModeInteractive requires an explicit user message before the next turn
	RunModeInteractive RunMode = "interactive"
)

// IsValid checks if the run mode is valid
func (m RunMode) IsValid() bool {
	return m == RunModeAuto || m == RunModeInteractive
}

// GlobalMode defines the workspace discipline applied to every node of a run
type GlobalMode string

const (
	// GlobalModePlanning restricts nodes to a read-only workspace plus docs writes
	GlobalModePlanning GlobalMode = "planning"
	// GlobalModeImplementation enables full capabilities subject to per-node flags
	GlobalModeImplementation GlobalMode = "implementation"
)

// IsValid checks if the global mode is valid
func (m GlobalMode) IsValid() bool {
	return m == GlobalModePlanning || m == GlobalModeImplementation
}

// NodeStatus defines node lifecycle states
type NodeStatus string

const (
	// NodeStatusIdle means the node is waiting for input or a resume flag
	NodeStatusIdle NodeStatus = "idle"
	// NodeStatusRunning means exactly one turn is in flight for the node
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusBlocked means the node is suspended on an approval or a stall
	NodeStatusBlocked NodeStatus = "blocked"
	// NodeStatusFailed means the last turn failed
	NodeStatusFailed NodeStatus = "failed"
)

// IsValid checks if the node status is valid
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusIdle, NodeStatusRunning, NodeStatusBlocked, NodeStatusFailed:
		return true
	default:
		return false
	}
}

// NodeRole defines how the scheduler treats a node
type NodeRole string

const (
	// NodeRoleOrchestrator marks a node eligible for auto-mode self-continuation
	NodeRoleOrchestrator NodeRole = "orchestrator"
	// NodeRoleWorker marks a regular node driven only by inbox input
	NodeRoleWorker NodeRole = "worker"
)

// IsValid checks if the node role is valid
func (r NodeRole) IsValid() bool {
	return r == NodeRoleOrchestrator || r == NodeRoleWorker
}

// ConnectionState defines provider session connection states
type ConnectionState string

const (
	// ConnectionIdle means no session has been started yet
	ConnectionIdle ConnectionState = "idle"
	// ConnectionConnected means the adapter session is live
	ConnectionConnected ConnectionState = "connected"
	// ConnectionDisconnected means the adapter session is gone; the node is not runnable
	ConnectionDisconnected ConnectionState = "disconnected"
)

// IsValid checks if the connection state is valid
func (s ConnectionState) IsValid() bool {
	return s == ConnectionIdle || s == ConnectionConnected || s == ConnectionDisconnected
}

// EdgeType defines edge routing semantics
type EdgeType string

const (
	// EdgeTypeHandoff routes work delegation envelopes
	EdgeTypeHandoff EdgeType = "handoff"
	// EdgeTypeReport routes completion reports back to the delegator
	EdgeTypeReport EdgeType = "report"
)

// IsValid checks if the edge type is valid
func (t EdgeType) IsValid() bool {
	return t == EdgeTypeHandoff || t == EdgeTypeReport
}

// EdgeManagement defines how much of the graph a node may mutate
type EdgeManagement string

const (
	// EdgeManagementNone forbids all graph-mutating tools
	EdgeManagementNone EdgeManagement = "none"
	// EdgeManagementSelf allows edges that include the calling node
	EdgeManagementSelf EdgeManagement = "self"
	// EdgeManagementAll allows spawning nodes and arbitrary edges
	EdgeManagementAll EdgeManagement = "all"
)

// IsValid checks if the edge management level is valid
func (m EdgeManagement) IsValid() bool {
	return m == EdgeManagementNone || m == EdgeManagementSelf || m == EdgeManagementAll
}

// PermissionsMode defines how tool calls are gated for a node
type PermissionsMode string

const (
	// PermissionsSkip executes tools without asking the operator
	PermissionsSkip PermissionsMode = "skip"
	// PermissionsGated suspends every tool call on an operator approval
	PermissionsGated PermissionsMode = "gated"
)

// IsValid checks if the permissions mode is valid
func (m PermissionsMode) IsValid() bool {
	return m == PermissionsSkip || m == PermissionsGated
}

// NativeToolHandling defines who executes workspace tools for a node
type NativeToolHandling string

const (
	// NativeToolsEngine means the engine executes workspace tool calls
	NativeToolsEngine NativeToolHandling = "engine"
	// NativeToolsProvider means the provider executes them; the engine only observes
	NativeToolsProvider NativeToolHandling = "provider"
)

// IsValid checks if the native tool handling is valid
func (h NativeToolHandling) IsValid() bool {
	return h == NativeToolsEngine || h == NativeToolsProvider
}

// ArtifactKind defines artifact categories
type ArtifactKind string

const (
	// ArtifactKindPrompt is a composed prompt captured for audit
	ArtifactKindPrompt ArtifactKind = "prompt"
	// ArtifactKindDiff is a unified diff produced by a turn
	ArtifactKindDiff ArtifactKind = "diff"
	// ArtifactKindLog is captured command or session output
	ArtifactKindLog ArtifactKind = "log"
	// ArtifactKindJSON is structured machine-readable output
	ArtifactKindJSON ArtifactKind = "json"
	// ArtifactKindUserFeedback is operator-provided feedback text
	ArtifactKindUserFeedback ArtifactKind = "user-feedback"
)

// IsValid checks if the artifact kind is valid
func (k ArtifactKind) IsValid() bool {
	switch k {
	case ArtifactKindPrompt, ArtifactKindDiff, ArtifactKindLog, ArtifactKindJSON, ArtifactKindUserFeedback:
		return true
	default:
		return false
	}
}

// ResponseExpectation defines what a handoff sender expects back
type ResponseExpectation string

const (
	// ResponseNone expects nothing back
	ResponseNone ResponseExpectation = "none"
	// ResponseOptional welcomes but does not require a reply
	ResponseOptional ResponseExpectation = "optional"
	// ResponseRequired marks the sender as awaiting a reply
	ResponseRequired ResponseExpectation = "required"
)

// IsValid checks if the response expectation is valid
func (e ResponseExpectation) IsValid() bool {
	return e == ResponseNone || e == ResponseOptional || e == ResponseRequired
}

// TransportType defines provider adapter transports
type TransportType string

const (
	// TransportCLI drives a subprocess over stdin/stdout
	TransportCLI TransportType = "cli"
	// TransportAPI drives an HTTP chat-completion API
	TransportAPI TransportType = "api"
	// TransportMock is the in-process scripted adapter used by tests
	TransportMock TransportType = "mock"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportCLI || t == TransportAPI || t == TransportMock
}

// ProtocolType defines CLI transport line protocols
type ProtocolType string

const (
	// ProtocolJSONL is the engine-native line-delimited JSON protocol
	ProtocolJSONL ProtocolType = "jsonl"
	// ProtocolStreamJSON is the streaming protocol spoken by agent CLIs,
	// with fenced tool-call extraction from message bodies
	ProtocolStreamJSON ProtocolType = "stream-json"
	// ProtocolRaw treats subprocess output as plain text deltas
	ProtocolRaw ProtocolType = "raw"
)

// IsValid checks if the protocol type is valid
func (p ProtocolType) IsValid() bool {
	return p == ProtocolJSONL || p == ProtocolStreamJSON || p == ProtocolRaw
}

// PromptKind defines how much of the composed prompt is sent
type PromptKind string

const (
	// PromptFull sends system, role, mode and task blocks
	PromptFull PromptKind = "full"
	// PromptDelta sends only mode and task blocks
	PromptDelta PromptKind = "delta"
)

// TurnOutcome defines terminal turn results
type TurnOutcome string

const (
	// TurnCompleted means the turn produced a final assistant message
	TurnCompleted TurnOutcome = "completed"
	// TurnBlocked means the turn is suspended on an operator approval
	TurnBlocked TurnOutcome = "blocked"
	// TurnInterrupted means the turn was cut short by an interrupt
	TurnInterrupted TurnOutcome = "interrupted"
	// TurnFailed means the turn ended with an error
	TurnFailed TurnOutcome = "failed"
)

// ResolutionKind defines approval resolution outcomes
type ResolutionKind string

const (
	// ResolutionApproved executes the gated tool call unchanged
	ResolutionApproved ResolutionKind = "approved"
	// ResolutionDenied rejects the gated tool call
	ResolutionDenied ResolutionKind = "denied"
	// ResolutionModified executes the tool call with operator-supplied args
	ResolutionModified ResolutionKind = "modified"
)

// IsValid checks if the resolution kind is valid
func (k ResolutionKind) IsValid() bool {
	return k == ResolutionApproved || k == ResolutionDenied || k == ResolutionModified
}
