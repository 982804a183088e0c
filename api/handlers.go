package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"sticky-board/domain"
)

const (
	codeValidation   = "validation"
	codeNotFound     = "not_found"
	codeForbidden    = "forbidden"
	codeConflict     = "conflict"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Total int           `json:"total"`
}

type deleteResponse struct {
	Message     string      `json:"message"`
	DeletedTask domain.Task `json:"deletedTask"`
}

type createTaskRequest struct {
	Status     string `json:"status"`
	Text       string `json:"text"`
	ColorClass string `json:"colorClass"`
}

type updateTaskRequest struct {
	Status string  `json:"status"`
	Text   *string `json:"text"`
}

type createUserRequest struct {
	Email string `json:"email"`
}

// Register wires up all API routes on the provided Echo instance.
// A nil deduper ignores Idempotency-Key headers.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.JSONSerializer = sonicSerializer{}
	h := &handlers{store: store, auth: auth, dedup: deduper, log: logger}

	e.GET("/tasks", h.listTasks)
	e.POST("/tasks", h.createTask)
	e.PUT("/tasks/:id", h.updateTask)
	e.DELETE("/tasks/:id", h.deleteTask)
	e.GET("/users", h.getUser)
	e.POST("/users", h.postUser)
	e.GET("/healthz", healthz)
}

type handlers struct {
	store Storage
	auth  Authenticator
	dedup Deduper
	log   *log.Logger
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func writeError(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, errorResponse{Error: msg, Code: code})
}

// begin starts request metrics and moves the request onto the span context.
func (h *handlers) begin(c echo.Context, route string) *requestMetrics {
	m, spanCtx := newRequestMetrics(c.Request().Context(), h.log, c.Request().Method, route)
	c.SetRequest(c.Request().WithContext(spanCtx))
	return m
}

func (h *handlers) authenticate(c echo.Context, m *requestMetrics) (Principal, error) {
	p, err := h.auth.PrincipalFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		m.SetErrorStage("auth")
		return Principal{}, err
	}
	m.SetUser(p.ID)
	return p, nil
}

// fail maps a storage or ownership error onto the wire error body.
func (h *handlers) fail(c echo.Context, m *requestMetrics, stage string, err error) error {
	m.SetErrorStage(stage)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return writeError(c, http.StatusNotFound, codeNotFound, "Task not found")
	case errors.Is(err, domain.ErrAuthorization):
		return writeError(c, http.StatusBadRequest, codeForbidden, "User does not own task")
	case errors.Is(err, domain.ErrConflict):
		return writeError(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return writeError(c, http.StatusBadRequest, codeValidation, err.Error())
	}
	h.log.WithError(err).WithField("stage", stage).Error("storage failure")
	return writeError(c, http.StatusInternalServerError, codeInternal, "Database error")
}

func (h *handlers) timed(m *requestMetrics, fn func() error) error {
	start := time.Now()
	err := fn()
	m.ObserveStore(time.Since(start))
	return err
}

func (h *handlers) listTasks(c echo.Context) (err error) {
	m := h.begin(c, "/tasks")
	defer func() { m.Log(c.Response().Status, err) }()

	p, authErr := h.authenticate(c, m)
	if authErr != nil {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, authErr.Error())
	}

	var status domain.Status
	if raw := c.QueryParam("status"); raw != "" {
		parsed, parseErr := domain.ParseStatus(raw)
		if parseErr != nil {
			m.SetErrorStage("invalid_status")
			return writeError(c, http.StatusBadRequest, codeValidation, "Invalid status")
		}
		status = parsed
	}

	var tasks []domain.Task
	if storeErr := h.timed(m, func() error {
		var e error
		tasks, e = h.store.ListTasks(c.Request().Context(), p.ID, status)
		return e
	}); storeErr != nil {
		return h.fail(c, m, "storage", storeErr)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		switch {
		case a.CreatedAt > b.CreatedAt:
			return -1
		case a.CreatedAt < b.CreatedAt:
			return 1
		}
		// v7 ids sort by creation time within the same millisecond.
		return strings.Compare(b.ID, a.ID)
	})
	m.SetTasksServed(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Total: len(tasks)})
}

func (h *handlers) createTask(c echo.Context) (err error) {
	m := h.begin(c, "/tasks")
	defer func() { m.Log(c.Response().Status, err) }()

	p, authErr := h.authenticate(c, m)
	if authErr != nil {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, authErr.Error())
	}

	var req createTaskRequest
	if decErr := decodeBody(c, &req); decErr != nil {
		m.SetErrorStage("decode")
		return writeError(c, http.StatusBadRequest, codeValidation, "invalid body")
	}
	if strings.TrimSpace(req.Status) == "" {
		m.SetErrorStage("validate")
		return writeError(c, http.StatusBadRequest, codeValidation, "Status is required")
	}
	status, parseErr := domain.ParseStatus(req.Status)
	if parseErr != nil {
		m.SetErrorStage("validate")
		return writeError(c, http.StatusBadRequest, codeValidation, "Invalid status")
	}

	ctx := c.Request().Context()
	if userErr := h.timed(m, func() error {
		_, e := h.store.GetUser(ctx, p.ID)
		return e
	}); userErr != nil {
		if errors.Is(userErr, domain.ErrNotFound) {
			m.SetErrorStage("user")
			return writeError(c, http.StatusBadRequest, codeValidation, "User not found")
		}
		return h.fail(c, m, "user", userErr)
	}

	var key string
	if h.dedup != nil {
		key = strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	}
	if key != "" {
		prevID, claimed, claimErr := h.dedup.Claim(ctx, p.ID, key)
		switch {
		case claimErr != nil:
			h.log.WithError(claimErr).WithField("user", p.ID).Warn("idempotency check failed, creating without it")
			key = ""
		case !claimed && prevID == "":
			m.SetErrorStage("idempotency")
			return writeError(c, http.StatusConflict, codeConflict, "Request already in progress")
		case !claimed:
			m.SetTask(prevID)
			prev, getErr := h.ownedTask(ctx, m, p, prevID)
			if getErr != nil {
				return h.fail(c, m, "idempotency", getErr)
			}
			return c.JSON(http.StatusOK, prev)
		}
	}

	id, idErr := uuid.NewV7()
	if idErr != nil {
		h.release(ctx, p.ID, key)
		return h.fail(c, m, "id", idErr)
	}
	task := domain.Task{
		ID:         id.String(),
		Text:       req.Text,
		Status:     status,
		ColorClass: req.ColorClass,
		OwnerID:    p.ID,
		CreatedAt:  domain.NowMillis(),
	}
	if task.ColorClass == "" {
		task.ColorClass = domain.PickColorClass()
	}
	m.SetTask(task.ID)
	if storeErr := h.timed(m, func() error { return h.store.CreateTask(ctx, task) }); storeErr != nil {
		h.release(ctx, p.ID, key)
		return h.fail(c, m, "storage", storeErr)
	}
	if key != "" {
		if doneErr := h.dedup.Complete(ctx, p.ID, key, task.ID); doneErr != nil {
			h.log.WithError(doneErr).WithField("task", task.ID).Warn("record idempotency key failed")
		}
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) release(ctx context.Context, userID, key string) {
	if key == "" {
		return
	}
	if err := h.dedup.Release(ctx, userID, key); err != nil {
		h.log.WithError(err).WithField("user", userID).Warn("release idempotency key failed")
	}
}

// ownedTask loads id and checks it belongs to p.
func (h *handlers) ownedTask(ctx context.Context, m *requestMetrics, p Principal, id string) (domain.Task, error) {
	var task domain.Task
	err := h.timed(m, func() error {
		var e error
		task, e = h.store.GetTask(ctx, id)
		return e
	})
	if err != nil {
		return domain.Task{}, err
	}
	if task.OwnerID != p.ID {
		return domain.Task{}, &domain.Error{Op: "load task", Kind: domain.ErrAuthorization, ID: id}
	}
	return task, nil
}

func (h *handlers) updateTask(c echo.Context) (err error) {
	m := h.begin(c, "/tasks/:id")
	defer func() { m.Log(c.Response().Status, err) }()

	p, authErr := h.authenticate(c, m)
	if authErr != nil {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, authErr.Error())
	}
	id := c.Param("id")
	m.SetTask(id)

	var req updateTaskRequest
	if decErr := decodeBody(c, &req); decErr != nil {
		m.SetErrorStage("decode")
		return writeError(c, http.StatusBadRequest, codeValidation, "invalid body")
	}
	if strings.TrimSpace(req.Status) == "" {
		m.SetErrorStage("validate")
		return writeError(c, http.StatusBadRequest, codeValidation, "Status is required")
	}
	status, parseErr := domain.ParseStatus(req.Status)
	if parseErr != nil {
		m.SetErrorStage("validate")
		return writeError(c, http.StatusBadRequest, codeValidation, "Invalid status")
	}

	ctx := c.Request().Context()
	task, loadErr := h.ownedTask(ctx, m, p, id)
	if loadErr != nil {
		return h.fail(c, m, "load", loadErr)
	}
	task.Status = status
	if req.Text != nil {
		task.Text = *req.Text
	}
	if storeErr := h.timed(m, func() error { return h.store.UpdateTask(ctx, task) }); storeErr != nil {
		return h.fail(c, m, "storage", storeErr)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context) (err error) {
	m := h.begin(c, "/tasks/:id")
	defer func() { m.Log(c.Response().Status, err) }()

	p, authErr := h.authenticate(c, m)
	if authErr != nil {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, authErr.Error())
	}
	id := c.Param("id")
	m.SetTask(id)

	ctx := c.Request().Context()
	task, loadErr := h.ownedTask(ctx, m, p, id)
	if loadErr != nil {
		return h.fail(c, m, "load", loadErr)
	}
	if storeErr := h.timed(m, func() error { return h.store.DeleteTask(ctx, task) }); storeErr != nil {
		return h.fail(c, m, "storage", storeErr)
	}
	return c.JSON(http.StatusOK, deleteResponse{Message: "Task deleted successfully", DeletedTask: task})
}

func (h *handlers) getUser(c echo.Context) (err error) {
	m := h.begin(c, "/users")
	defer func() { m.Log(c.Response().Status, err) }()

	p, authErr := h.authenticate(c, m)
	if authErr != nil {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, authErr.Error())
	}
	var user domain.User
	if storeErr := h.timed(m, func() error {
		var e error
		user, e = h.store.GetUser(c.Request().Context(), p.ID)
		return e
	}); storeErr != nil {
		if errors.Is(storeErr, domain.ErrNotFound) {
			m.SetErrorStage("user")
			return writeError(c, http.StatusBadRequest, codeValidation, "No user found")
		}
		return h.fail(c, m, "storage", storeErr)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *handlers) postUser(c echo.Context) (err error) {
	m := h.begin(c, "/users")
	defer func() { m.Log(c.Response().Status, err) }()

	p, authErr := h.authenticate(c, m)
	if authErr != nil {
		return writeError(c, http.StatusUnauthorized, codeUnauthorized, authErr.Error())
	}
	var req createUserRequest
	if decErr := decodeBody(c, &req); decErr != nil && !errors.Is(decErr, io.EOF) {
		m.SetErrorStage("decode")
		return writeError(c, http.StatusBadRequest, codeValidation, "invalid body")
	}
	user := domain.User{ID: p.ID, Email: strings.TrimSpace(req.Email)}
	if user.Email == "" {
		user.Email = p.Email
	}
	if storeErr := h.timed(m, func() error { return h.store.CreateUser(c.Request().Context(), user) }); storeErr != nil {
		if errors.Is(storeErr, domain.ErrConflict) {
			m.SetErrorStage("user")
			return writeError(c, http.StatusBadRequest, codeConflict, "User already exists")
		}
		return h.fail(c, m, "storage", storeErr)
	}
	return c.JSON(http.StatusCreated, user)
}
