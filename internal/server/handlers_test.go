package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck-ai/taskdeck/internal/agent"
	"github.com/taskdeck-ai/taskdeck/internal/engine"
	"github.com/taskdeck-ai/taskdeck/internal/engine/enginetest"
	"github.com/taskdeck-ai/taskdeck/internal/event"
	"github.com/taskdeck-ai/taskdeck/internal/lifecycle"
	"github.com/taskdeck-ai/taskdeck/internal/storage"
	"github.com/taskdeck-ai/taskdeck/internal/task"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *enginetest.Fake) {
	t.Helper()
	fake := enginetest.New()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	local := storage.New(t.TempDir())
	tasks := task.NewService(local)
	manager := lifecycle.NewManager(lifecycle.Deps{
		Engine:   fake,
		Caps:     engine.NewCapabilities(fake),
		Tasks:    tasks,
		Profiles: agent.NewRegistry(),
		Bus:      bus,
		Local:    local,
	})
	t.Cleanup(manager.CloseAll)

	cfg := DefaultConfig()
	cfg.EnableCORS = false
	return New(cfg, tasks, manager, agent.NewRegistry(), bus), fake
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func createTestTask(t *testing.T, s *Server) *types.Task {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/task", map[string]string{
		"title":       "Fix login bug",
		"projectPath": "/repos/app",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	return &created
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateTask(t *testing.T) {
	s, _ := newTestServer(t)
	created := createTestTask(t, s)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Fix login bug", created.Title)
	assert.Equal(t, types.TaskStatusTodo, created.Status)
}

func TestCreateTask_RequiresTitle(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/task", map[string]string{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/task/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestListTasks(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/task", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "empty list, not null")

	createTestTask(t, s)
	rec = doJSON(t, s, http.MethodGet, "/task", nil)
	var tasks []*types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
	assert.Len(t, tasks, 1)
}

func TestSetTaskStatus(t *testing.T) {
	s, _ := newTestServer(t)
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodPatch, "/task/"+created.ID+"/status", map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated types.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, types.TaskStatusDone, updated.Status)
}

func TestSendMessage(t *testing.T) {
	s, fake := newTestServer(t)
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/message", map[string]string{
		"message": "make the tests pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queued bool                    `json:"queued"`
		State  types.ConversationState `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Queued)
	require.Len(t, resp.State.Messages, 1)
	assert.Equal(t, "make the tests pass", resp.State.Messages[0].Content)

	require.Len(t, fake.StartCalls, 1)
	assert.Equal(t, "make the tests pass", fake.StartCalls[0].Prompt)
}

func TestSendMessage_SecondMessageQueues(t *testing.T) {
	s, fake := newTestServer(t)
	created := createTestTask(t, s)

	doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/message", map[string]string{"message": "first"})
	rec := doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/message", map[string]string{"message": "second"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queued bool `json:"queued"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Queued)
	assert.Len(t, fake.StartCalls, 1, "queued input never reaches the engine")
}

func TestSendMessage_RequiresBody(t *testing.T) {
	s, _ := newTestServer(t)
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/message", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_EngineFailure(t *testing.T) {
	s, fake := newTestServer(t)
	fake.StartErr = assert.AnError
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/message", map[string]string{"message": "go"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ErrCodeEngineError, resp.Error.Code)
}

func TestGetConversation(t *testing.T) {
	s, _ := newTestServer(t)
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodGet, "/task/"+created.ID+"/conversation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state types.ConversationState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, created.ID, state.TaskID)
	assert.True(t, state.CanSendMessage)
	assert.Empty(t, state.Messages)
}

func TestStopExecution_UnmountedIsNoOp(t *testing.T) {
	s, fake := newTestServer(t)
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fake.StopCalls)
}

func TestStopExecution_Running(t *testing.T) {
	s, fake := newTestServer(t)
	created := createTestTask(t, s)

	doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/message", map[string]string{"message": "go"})

	rec := doJSON(t, s, http.MethodPost, "/task/"+created.ID+"/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, fake.StopCalls, 1)
}

func TestDeleteTask(t *testing.T) {
	s, _ := newTestServer(t)
	created := createTestTask(t, s)

	rec := doJSON(t, s, http.MethodDelete, "/task/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/task/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProfiles(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profiles []*agent.Profile
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&profiles))
	assert.Len(t, profiles, 3)
}
