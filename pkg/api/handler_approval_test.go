package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// seedApproval publishes an approval request straight to the store, the
// way a blocked turn records one.
func seedApproval(t *testing.T, f *serverFixture, runID, nodeID, id string) {
	t.Helper()
	require.NoError(t, f.store.Publish(context.Background(), &events.ApprovalRequested{
		Envelope: events.Envelope{RunID: runID},
		Approval: models.Approval{
			ID:          id,
			RunID:       runID,
			NodeID:      nodeID,
			Tool:        models.ToolCall{ID: id, Name: "command"},
			RequestedAt: time.Now().UTC(),
		},
	}))
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	f := newTestServer(t)
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleWorker})
	seedApproval(t, f, run.ID, node.ID, "apr-1")

	rec := f.do(t, http.MethodGet, "/api/approvals?runId="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ApprovalListResponse
	f.decode(t, rec, &list)
	require.Len(t, list.Approvals, 1)
	assert.Equal(t, "apr-1", list.Approvals[0].ID)
	assert.Equal(t, node.ID, list.Approvals[0].NodeID)

	rec = f.do(t, http.MethodPost, "/api/approvals/apr-1/resolve", models.Denied("not needed"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ResolveApprovalResponse
	f.decode(t, rec, &res)
	assert.True(t, res.Applied)

	rec = f.do(t, http.MethodGet, "/api/approvals?runId="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(t, rec, &list)
	assert.Empty(t, list.Approvals)

	// Resolving again is a no-op, not an error.
	rec = f.do(t, http.MethodPost, "/api/approvals/apr-1/resolve", models.Approved())
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(t, rec, &res)
	assert.False(t, res.Applied)
}

func TestResolveApprovalRejectsUnknownKind(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/approvals/apr-9/resolve", map[string]string{"kind": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
