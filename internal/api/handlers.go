package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"taskhub/internal/auth"
	"taskhub/internal/authz"
	"taskhub/internal/metrics"
	"taskhub/internal/model"
	"taskhub/internal/task"
)

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestMetrics)

	// Public
	r.Get("/healthz", a.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/swagger", httpSwagger.Handler())

	// Secured
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(a.Verifier, a.Logger))

		r.Post("/tasks", a.CreateTask)
		r.Get("/tasks", a.ListTasks)
		r.Get("/tasks/{id}", a.GetTask)
		r.Put("/tasks/{id}", a.UpdateTask)
		r.Delete("/tasks/{id}", a.DeleteTask)
	})

	return r
}

type updateTaskRequest struct {
	model.TaskFields
	Version int64 `json:"version"`
}

type listTasksResponse struct {
	Tasks         []model.Task `json:"tasks"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// @Summary Create a task
// @Tags Tasks
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body model.TaskFields true "Task fields"
// @Success 201 {object} model.Task
// @Router /tasks [post]
func (a *API) CreateTask(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)

	var fields model.TaskFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		a.writeError(w, &model.ValidationError{Field: "body", Message: "request body must be valid JSON"})
		return
	}

	if !a.authorize(w, p, authz.OpCreate, authz.Resource{TenantID: p.TenantID}) {
		return
	}

	t, err := a.Engine.Create(r.Context(), p.TenantID, p.UserID, fields)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.Publisher.Publish(model.NewTaskEvent(model.EventTaskCreated, p.UserID, t))
	a.writeJSON(w, http.StatusCreated, t)
}

// @Summary List tasks
// @Tags Tasks
// @Security ApiKeyAuth
// @Produce json
// @Param status query string false "Filter by status"
// @Param assigned_to query string false "Filter by assignee"
// @Param limit query int false "Page size (max 100)"
// @Param page_token query string false "Continuation token"
// @Success 200 {object} listTasksResponse
// @Router /tasks [get]
func (a *API) ListTasks(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)

	if !a.authorize(w, p, authz.OpList, authz.Resource{TenantID: p.TenantID}) {
		return
	}

	var filter task.ListFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.Status(s)
		if !status.Valid() {
			a.writeError(w, &model.ValidationError{Field: "status", Message: "unknown status filter"})
			return
		}
		filter.Status = &status
	}
	if assignee := r.URL.Query().Get("assigned_to"); assignee != "" {
		filter.AssignedTo = &assignee
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			a.writeError(w, &model.ValidationError{Field: "limit", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	result, err := a.Engine.List(r.Context(), p.TenantID, filter, r.URL.Query().Get("page_token"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := listTasksResponse{Tasks: result.Tasks, NextPageToken: result.NextToken}
	if resp.Tasks == nil {
		resp.Tasks = []model.Task{}
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// @Summary Get a task
// @Tags Tasks
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} model.Task
// @Router /tasks/{id} [get]
func (a *API) GetTask(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)

	if !a.authorize(w, p, authz.OpRead, authz.Resource{TenantID: p.TenantID}) {
		return
	}

	// The lookup key is built from the principal's tenant, so a task id
	// belonging to another tenant resolves to 404, not 403. Existence is
	// never leaked across the boundary.
	t, err := a.Engine.Get(r.Context(), p.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, t)
}

// @Summary Update a task
// @Tags Tasks
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param body body updateTaskRequest true "Changed fields plus expected version"
// @Success 200 {object} model.Task
// @Router /tasks/{id} [put]
func (a *API) UpdateTask(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)
	taskID := chi.URLParam(r, "id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, &model.ValidationError{Field: "body", Message: "request body must be valid JSON"})
		return
	}
	if req.Version <= 0 {
		a.writeError(w, &model.ValidationError{Field: "version", Message: "version is required"})
		return
	}

	// The MEMBER update rule needs the resource's ownership facts, so the
	// point read happens before the policy decision.
	current, err := a.Engine.Get(r.Context(), p.TenantID, taskID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	res := authz.Resource{
		TenantID:   current.TenantID,
		AssignedTo: current.AssignedTo,
		CreatedBy:  current.CreatedBy,
	}
	if !a.authorize(w, p, authz.OpUpdate, res) {
		return
	}

	t, err := a.Engine.Update(r.Context(), p.TenantID, taskID, req.Version, req.TaskFields)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.Publisher.Publish(model.NewTaskEvent(model.EventTaskUpdated, p.UserID, t))
	a.writeJSON(w, http.StatusOK, t)
}

// @Summary Delete a task
// @Tags Tasks
// @Security ApiKeyAuth
// @Param id path string true "Task ID"
// @Success 204
// @Router /tasks/{id} [delete]
func (a *API) DeleteTask(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r)
	taskID := chi.URLParam(r, "id")

	// Role rule first: MEMBER delete is denied regardless of whether the
	// task exists or who owns it.
	if !a.authorize(w, p, authz.OpDelete, authz.Resource{TenantID: p.TenantID}) {
		return
	}

	// Snapshot for the deletion event payload.
	t, err := a.Engine.Get(r.Context(), p.TenantID, taskID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if err := a.Engine.Delete(r.Context(), p.TenantID, taskID); err != nil {
		a.writeError(w, err)
		return
	}

	a.Publisher.Publish(model.NewTaskEvent(model.EventTaskDeleted, p.UserID, t))
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Liveness probe
// @Tags Health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorize runs the policy engine and writes the generic 403 on deny. The
// reason code goes to logs and metrics only.
func (a *API) authorize(w http.ResponseWriter, p *model.Principal, op authz.Operation, res authz.Resource) bool {
	decision := authz.Authorize(p, op, res)
	if decision.Allowed {
		return true
	}

	metrics.AuthzDenials.WithLabelValues(string(decision.Reason)).Inc()
	a.Logger.Info("operation denied",
		zap.String("tenant_id", p.TenantID),
		zap.String("user_id", p.UserID),
		zap.String("operation", string(op)),
		zap.String("reason", string(decision.Reason)),
	)
	http.Error(w, "forbidden", http.StatusForbidden)
	return false
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error("failed to encode response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error", "message": ve.Message})
	case errors.Is(err, model.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "task not found"})
	case errors.Is(err, model.ErrConflict):
		a.writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "message": "version conflict, re-read and retry"})
	case errors.Is(err, model.ErrStorageUnavailable):
		a.Logger.Error("storage unavailable", zap.Error(err))
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage_unavailable", "message": "temporarily unavailable, retry"})
	default:
		a.Logger.Error("internal error", zap.Error(err))
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": "internal server error"})
	}
}

// requestMetrics records per-route counters with the final status code.
func (a *API) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
