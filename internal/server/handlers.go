package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskdeck-ai/taskdeck/internal/storage"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ProjectPath  string `json:"projectPath"`
		AgentProfile string `json:"agentProfile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "title is required")
		return
	}

	task, err := s.tasks.Create(r.Context(), req.Title, req.Description, req.ProjectPath, req.AgentProfile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	s.manager.CloseTask(taskID)
	if err := s.tasks.Delete(r.Context(), taskID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) setTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status types.TaskStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "status is required")
		return
	}

	task, err := s.tasks.SetStatus(r.Context(), chi.URLParam(r, "taskID"), req.Status)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// openTask mounts a task's conversation: history is replayed and the store
// attaches to the task's event channel.
func (s *Server) openTask(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Open(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.Store().Snapshot())
}

func (s *Server) closeTask(w http.ResponseWriter, r *http.Request) {
	s.manager.CloseTask(chi.URLParam(r, "taskID"))
	writeSuccess(w)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Open(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.Store().Snapshot())
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Images  []string `json:"images,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "message is required")
		return
	}

	c, err := s.manager.Open(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	queued, err := c.Send(r.Context(), req.Message, req.Images)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeEngineError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queued": queued,
		"state":  c.Store().Snapshot(),
	})
}

func (s *Server) stopExecution(w http.ResponseWriter, r *http.Request) {
	c, ok := s.manager.Get(chi.URLParam(r, "taskID"))
	if !ok {
		// Nothing mounted means nothing running; stop is idempotent.
		writeSuccess(w)
		return
	}
	if err := c.Stop(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeEngineError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.profiles.List())
}
