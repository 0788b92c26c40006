package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/google/uuid"
)

// taskID reads the {id} path value. Anything that is not a UUID is a
// validation error, written to w.
func taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "Invalid task id",
			FieldDetail{Field: "id", Message: "Task id must be a UUID"})
		return "", false
	}
	return id, true
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var completed *bool
	if raw := r.URL.Query().Get("completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "Validation failed",
				FieldDetail{Field: "completed", Message: "Must be true or false"})
			return
		}
		completed = &v
	}
	tasks, err := s.cfg.Store.ListTasks(r.Context(), ownerID(r), completed)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []persistence.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

type createTaskRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in createTaskRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	t, err := s.cfg.Store.CreateTask(r.Context(), ownerID(r), in.Title)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordTaskMutation(r.Context(), "create")
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.cfg.Store.GetTask(r.Context(), ownerID(r), id)
	if err != nil {
		s.denyIfForbidden(r, err, id)
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateTaskRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var in updateTaskRequest
	if !s.decodeJSON(w, r, &in) {
		return
	}
	t, err := s.cfg.Store.UpdateTask(r.Context(), ownerID(r), id, persistence.TaskPatch{Title: in.Title, Completed: in.Completed})
	if err != nil {
		s.denyIfForbidden(r, err, id)
		s.writeDomainError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordTaskMutation(r.Context(), "update")
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSetCompleted(completed bool) http.HandlerFunc {
	op := "complete"
	if !completed {
		op = "uncomplete"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}
		t, err := s.cfg.Store.SetCompleted(r.Context(), ownerID(r), id, completed)
		if err != nil {
			s.denyIfForbidden(r, err, id)
			s.writeDomainError(w, r, err)
			return
		}
		s.cfg.Metrics.RecordTaskMutation(r.Context(), op)
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Store.DeleteTask(r.Context(), ownerID(r), id); err != nil {
		s.denyIfForbidden(r, err, id)
		s.writeDomainError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordTaskMutation(r.Context(), "delete")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.cfg.Store.ClearCompleted(r.Context(), ownerID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.cfg.Metrics.RecordTaskMutation(r.Context(), "clear_completed")
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_count": n,
		"message":       "Completed tasks cleared",
	})
}

func (s *Server) denyIfForbidden(r *http.Request, err error, id string) {
	if errors.Is(err, persistence.ErrForbidden) {
		audit.Deny(r.Context(), "task.access", "cross_owner_task "+id, ownerID(r))
	}
}
