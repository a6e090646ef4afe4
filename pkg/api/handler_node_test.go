package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func TestNodeLifecycleOverHTTP(t *testing.T) {
	f := newTestServer(t)
	run := f.createRun(t)

	node := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleWorker})
	assert.Equal(t, models.NodeRoleWorker, node.Role)
	assert.Equal(t, "mock", node.Provider)
	assert.Equal(t, models.NodeStatusIdle, node.Status)

	rec := f.do(t, http.MethodGet, "/api/runs/"+run.ID+"/nodes/"+node.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	label := "planner"
	rec = f.do(t, http.MethodPatch, "/api/runs/"+run.ID+"/nodes/"+node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Label: &label},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Node
	f.decode(t, rec, &updated)
	assert.Equal(t, "planner", updated.Label)

	rec = f.do(t, http.MethodPost, "/api/runs/"+run.ID+"/nodes/"+node.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/runs/"+run.ID+"/nodes/"+node.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/runs/"+run.ID+"/nodes/"+node.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNodeValidationOverHTTP(t *testing.T) {
	f := newTestServer(t)
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleWorker})

	t.Run("unknown provider", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/runs/"+run.ID+"/nodes", models.NodeConfig{Provider: "ghost"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("runtime fields are engine-managed", func(t *testing.T) {
		status := models.NodeStatusRunning
		rec := f.do(t, http.MethodPatch, "/api/runs/"+run.ID+"/nodes/"+node.ID, models.UpdateNodeRequest{
			Patch: models.NodePatch{Status: &status},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown node", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/runs/"+run.ID+"/nodes/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/runs/ghost/nodes", models.NodeConfig{})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEdgeLifecycleOverHTTP(t *testing.T) {
	f := newTestServer(t)
	run := f.createRun(t)
	boss := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleOrchestrator})
	hand := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleWorker})

	rec := f.do(t, http.MethodPost, "/api/runs/"+run.ID+"/edges", models.CreateEdgeRequest{
		From: boss.ID,
		To:   hand.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var edge models.Edge
	f.decode(t, rec, &edge)
	assert.Equal(t, models.EdgeTypeHandoff, edge.Type)

	rec = f.do(t, http.MethodPost, "/api/runs/"+run.ID+"/edges", models.CreateEdgeRequest{
		From: boss.ID,
		To:   "ghost",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/runs/"+run.ID+"/edges/"+edge.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/runs/"+run.ID+"/edges/"+edge.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
