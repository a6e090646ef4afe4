package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/api"
	"github.com/weftlab/loom/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP client helpers
// ────────────────────────────────────────────────────────────

// doJSON runs one request against the live server and decodes the response
// into out (skipped when out is nil). Fails the test on any status other
// than expectedStatus.
func (app *TestApp) doJSON(t *testing.T, method, path string, body any, expectedStatus int, out any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: %s", method, path, string(raw))

	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "%s %s: %s", method, path, string(raw))
	}
}

// ────────────────────────────────────────────────────────────
// Run and graph helpers
// ────────────────────────────────────────────────────────────

// CreateRun creates a run in the app's default working directory.
func (app *TestApp) CreateRun(t *testing.T) *models.Run {
	t.Helper()
	return app.CreateRunWith(t, models.CreateRunRequest{})
}

// CreateRunWith creates a run from an explicit request. An empty Cwd falls
// back to the app's working directory so workspace tools have a real place
// to operate.
func (app *TestApp) CreateRunWith(t *testing.T, req models.CreateRunRequest) *models.Run {
	t.Helper()
	if req.Cwd == "" {
		req.Cwd = app.WorkDir
	}
	var run models.Run
	app.doJSON(t, http.MethodPost, "/api/runs", req, http.StatusCreated, &run)
	return &run
}

// GetRun fetches a run by id.
func (app *TestApp) GetRun(t *testing.T, runID string) *models.Run {
	t.Helper()
	var run models.Run
	app.doJSON(t, http.MethodGet, "/api/runs/"+runID, nil, http.StatusOK, &run)
	return &run
}

// AddNode creates a node in the run.
func (app *TestApp) AddNode(t *testing.T, runID string, cfg models.NodeConfig) *models.Node {
	t.Helper()
	var node models.Node
	app.doJSON(t, http.MethodPost, "/api/runs/"+runID+"/nodes", cfg, http.StatusCreated, &node)
	return &node
}

// GetNode fetches one node.
func (app *TestApp) GetNode(t *testing.T, runID, nodeID string) *models.Node {
	t.Helper()
	var node models.Node
	app.doJSON(t, http.MethodGet, "/api/runs/"+runID+"/nodes/"+nodeID, nil, http.StatusOK, &node)
	return &node
}

// DeleteNode removes a node; preserve keeps its artifacts in the run.
func (app *TestApp) DeleteNode(t *testing.T, runID, nodeID string, preserve bool) {
	t.Helper()
	path := "/api/runs/" + runID + "/nodes/" + nodeID
	if preserve {
		path += "?preserveArtifacts=true"
	}
	app.doJSON(t, http.MethodDelete, path, nil, http.StatusNoContent, nil)
}

// AddEdge creates an edge in the run.
func (app *TestApp) AddEdge(t *testing.T, runID string, req models.CreateEdgeRequest) *models.Edge {
	t.Helper()
	var edge models.Edge
	app.doJSON(t, http.MethodPost, "/api/runs/"+runID+"/edges", req, http.StatusCreated, &edge)
	return &edge
}

// PostMessage queues operator input. An empty NodeID targets the
// orchestrator.
func (app *TestApp) PostMessage(t *testing.T, runID string, req models.PostMessageRequest) *models.UserMessage {
	t.Helper()
	var msg models.UserMessage
	app.doJSON(t, http.MethodPost, "/api/runs/"+runID+"/messages", req, http.StatusAccepted, &msg)
	return &msg
}

// DeliverEnvelope injects a handoff envelope into the target node's inbox.
func (app *TestApp) DeliverEnvelope(t *testing.T, runID string, env models.Envelope) *models.Envelope {
	t.Helper()
	var delivered models.Envelope
	app.doJSON(t, http.MethodPost, "/api/runs/"+runID+"/envelopes", env, http.StatusAccepted, &delivered)
	return &delivered
}

// SetRunStatus patches the run's status.
func (app *TestApp) SetRunStatus(t *testing.T, runID string, status models.RunStatus) *models.Run {
	t.Helper()
	var run models.Run
	app.doJSON(t, http.MethodPatch, "/api/runs/"+runID,
		models.UpdateRunRequest{Status: &status}, http.StatusOK, &run)
	return &run
}

// ────────────────────────────────────────────────────────────
// Approval and artifact helpers
// ────────────────────────────────────────────────────────────

// ListApprovals returns pending approvals, narrowed to one run when runID
// is non-empty.
func (app *TestApp) ListApprovals(t *testing.T, runID string) []models.Approval {
	t.Helper()
	path := "/api/approvals"
	if runID != "" {
		path += "?runId=" + runID
	}
	var resp api.ApprovalListResponse
	app.doJSON(t, http.MethodGet, path, nil, http.StatusOK, &resp)
	return resp.Approvals
}

// ResolveApproval answers a pending approval and reports whether the
// resolution was applied.
func (app *TestApp) ResolveApproval(t *testing.T, approvalID string, res models.Resolution) bool {
	t.Helper()
	var resp api.ResolveApprovalResponse
	app.doJSON(t, http.MethodPost, "/api/approvals/"+approvalID+"/resolve", res, http.StatusOK, &resp)
	return resp.Applied
}

// ListArtifacts returns the run's artifact index.
func (app *TestApp) ListArtifacts(t *testing.T, runID string) []models.Artifact {
	t.Helper()
	var resp api.ArtifactListResponse
	app.doJSON(t, http.MethodGet, "/api/runs/"+runID+"/artifacts", nil, http.StatusOK, &resp)
	return resp.Artifacts
}

// RecordArtifact records an artifact over the API.
func (app *TestApp) RecordArtifact(t *testing.T, runID string, req models.RecordArtifactRequest) *models.Artifact {
	t.Helper()
	var artifact models.Artifact
	app.doJSON(t, http.MethodPost, "/api/runs/"+runID+"/artifacts", req, http.StatusCreated, &artifact)
	return &artifact
}

// ────────────────────────────────────────────────────────────
// Polling helpers
// ────────────────────────────────────────────────────────────

// WaitNodeStatus polls the node over HTTP until it reaches the status, or
// fails the test after timeout.
func (app *TestApp) WaitNodeStatus(t *testing.T, runID, nodeID string, status models.NodeStatus, timeout time.Duration) *models.Node {
	t.Helper()
	return pollUntil(t, timeout, fmt.Sprintf("node %s status %s", nodeID, status), func() (*models.Node, bool) {
		n := app.GetNode(t, runID, nodeID)
		return n, n.Status == status
	})
}

// WaitRunStatus polls the run over HTTP until it reaches the status.
func (app *TestApp) WaitRunStatus(t *testing.T, runID string, status models.RunStatus, timeout time.Duration) *models.Run {
	t.Helper()
	return pollUntil(t, timeout, fmt.Sprintf("run %s status %s", runID, status), func() (*models.Run, bool) {
		r := app.GetRun(t, runID)
		return r, r.Status == status
	})
}

// WaitInboxDrained polls until the node has consumed its queued input and
// settled back to idle. Use it after PostMessage to wait out a full turn.
func (app *TestApp) WaitInboxDrained(t *testing.T, runID, nodeID string, timeout time.Duration) *models.Node {
	t.Helper()
	return pollUntil(t, timeout, fmt.Sprintf("node %s inbox drained", nodeID), func() (*models.Node, bool) {
		n := app.GetNode(t, runID, nodeID)
		return n, n.InboxCount == 0 && n.Status == models.NodeStatusIdle
	})
}

// ────────────────────────────────────────────────────────────
// Event stream assertions
// ────────────────────────────────────────────────────────────

// eventStep is one expected frame in a relative-order assertion. A nil
// match accepts any frame of the type.
type eventStep struct {
	typ   string
	match func(WSEvent) bool
}

func step(typ string, match func(WSEvent) bool) eventStep {
	return eventStep{typ: typ, match: match}
}

// requireEventOrder asserts the steps appear among the frames in the given
// relative order. Frames that match no step are skipped, so the assertion
// stays robust against advisory events interleaving with the ones under
// test.
func requireEventOrder(t *testing.T, frames []WSEvent, steps []eventStep) {
	t.Helper()
	i := 0
	for _, f := range frames {
		if i == len(steps) {
			return
		}
		if f.Type != steps[i].typ {
			continue
		}
		if steps[i].match != nil && !steps[i].match(f) {
			continue
		}
		i++
	}
	if i < len(steps) {
		seen := make([]string, len(frames))
		for j, f := range frames {
			seen[j] = f.Type
		}
		t.Fatalf("event order: matched %d of %d steps, next unmatched %q; frames: %v",
			i, len(steps), steps[i].typ, seen)
	}
}

// field walks a parsed frame down the given keys, returning nil when any
// level is missing. JSON numbers come back as float64.
func field(e WSEvent, keys ...string) any {
	var cur any = e.Parsed
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

// pollUntil runs check every 10ms until it reports done, failing the test
// at timeout.
func pollUntil[T any](t *testing.T, timeout time.Duration, what string, check func() (T, bool)) T {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			var zero T
			t.Fatalf("timeout waiting for %s", what)
			return zero
		case <-tick.C:
			if v, done := check(); done {
				return v
			}
		}
	}
}
