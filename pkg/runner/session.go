package runner

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
	"github.com/weftlab/loom/pkg/provider"
)

// pendingTurn is the saved state of a turn suspended on an operator
// approval. The head of queue is the gated call; resume re-reads it after
// the resolution lands in the session's cache.
type pendingTurn struct {
	turnID  string
	message string
	queue   []models.ToolCall
	errors  []string
	results []prompt.ToolResult

	// proposed tracks which call ids already got a tool.proposed event, so
	// a resumed queue does not announce the same call twice.
	proposed map[string]bool

	// verification is the repeat sample of the last failing command this
	// turn, fed into the loop-safety counters.
	verification string
}

func newPendingTurn(turnID string) *pendingTurn {
	return &pendingTurn{turnID: turnID, proposed: make(map[string]bool)}
}

// session binds one node to its provider adapter plus the runner-side state
// that survives between turns.
type session struct {
	id      provider.Identity
	adapter provider.Adapter
	state   *prompt.SessionState
	signals *signalQueue

	// fenced marks sessions whose final message bodies may carry fenced
	// tool-call lines the runner must extract.
	fenced bool

	active atomic.Bool

	mu          sync.Mutex
	pending     *pendingTurn
	resolutions map[string]models.Resolution
	awaiting    map[string]bool
	lastResults []prompt.ToolResult
	wsContext   string
	wsGathered  bool
}

func newSession(id provider.Identity, adapter provider.Adapter, queueSize int) *session {
	return &session{
		id:          id,
		adapter:     adapter,
		state:       prompt.NewSessionState(!adapter.Stateful()),
		signals:     newSignalQueue(id.NodeID, queueSize),
		fenced:      provider.ExtractsFencedCalls(adapter),
		resolutions: make(map[string]models.Resolution),
		awaiting:    make(map[string]bool),
	}
}

// takePending claims the saved turn, leaving none behind.
func (s *session) takePending() *pendingTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt := s.pending
	s.pending = nil
	return pt
}

// savePending stores a suspended turn for the next resume dispatch.
func (s *session) savePending(pt *pendingTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = pt
}

// cacheResolution stores an operator resolution for a gated call; the tool
// queue claims it when the suspended turn resumes.
func (s *session) cacheResolution(id string, res models.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions[id] = res
}

// takeResolution claims a cached resolution, if one arrived.
func (s *session) takeResolution(id string) (models.Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if ok {
		delete(s.resolutions, id)
	}
	return res, ok
}

// markAwaiting records an outstanding required-response handoff to nodeID.
func (s *session) markAwaiting(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting[nodeID] = true
}

// settleAwaiting clears senders that have now replied and returns the still
// outstanding node ids, sorted.
func (s *session) settleAwaiting(envelopes []models.Envelope) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range envelopes {
		delete(s.awaiting, env.From)
	}
	if len(s.awaiting) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.awaiting))
	for id := range s.awaiting {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// setLastResults stores the turn's tool results for echo into the next
// prompt's task block.
func (s *session) setLastResults(results []prompt.ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResults = results
}

// takeLastResults claims the previous turn's tool results.
func (s *session) takeLastResults() []prompt.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.lastResults
	s.lastResults = nil
	return out
}

// contextText returns the cached workspace survey, and whether one was
// gathered since the session started or was last reset.
func (s *session) contextText() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsContext, s.wsGathered
}

func (s *session) setContextText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsContext = text
	s.wsGathered = true
}

// reset clears everything a session reset invalidates: the prompt-kind
// state, any suspended turn, cached resolutions and the workspace survey.
func (s *session) reset() {
	s.state.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.resolutions = make(map[string]models.Resolution)
	s.lastResults = nil
	s.wsContext = ""
	s.wsGathered = false
}
