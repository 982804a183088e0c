package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tidwall/gjson"

	"sticky-board/backend"
	"sticky-board/domain"
)

var testSecret = []byte("test-secret")

type memStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	users map[string]domain.User
	err   error
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]domain.Task{}, users: map[string]domain.User{}}
}

func (m *memStore) ListTasks(_ context.Context, ownerID string, status domain.Status) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID && (status == "" || t.Status == status) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.NotFound("get task", id)
	}
	return t, nil
}

func (m *memStore) CreateTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) UpdateTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, t.ID)
	return nil
}

func (m *memStore) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, &domain.Error{Op: "get user", Kind: domain.ErrNotFound, ID: id}
	}
	return u, nil
}

func (m *memStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return &domain.Error{Op: "create user", Kind: domain.ErrConflict, ID: u.ID}
	}
	m.users[u.ID] = u
	return nil
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestServer(t *testing.T, store Storage) *echo.Echo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	Register(e, store, NewSharedSecretAuth(testSecret, "", ""), nil, logger)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, user))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListTasksNewestFirst(t *testing.T) {
	store := newMemStore()
	store.tasks["old"] = domain.Task{ID: "old", Status: domain.StatusTodo, OwnerID: "u1", CreatedAt: 1}
	store.tasks["new"] = domain.Task{ID: "new", Status: domain.StatusProgress, OwnerID: "u1", CreatedAt: 2}
	store.tasks["other"] = domain.Task{ID: "other", Status: domain.StatusTodo, OwnerID: "u2", CreatedAt: 3}

	e := echo.New()
	logger, _ := test.NewNullLogger()
	h := &handlers{store: store, auth: NewSharedSecretAuth(testSecret, "", ""), log: logger}
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "u1"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.listTasks(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	body := rec.Body.String()
	if ids := gjson.Get(body, "tasks.#.id").String(); ids != `["new","old"]` {
		t.Fatalf("unexpected tasks %s", ids)
	}
	if gjson.Get(body, "total").Int() != 2 {
		t.Fatalf("unexpected total in %s", body)
	}
}

func TestListTasksSameTimestampNewestIDFirst(t *testing.T) {
	store := newMemStore()
	for _, id := range []string{
		"01900000-0000-7000-8000-00000000000a",
		"01900000-0000-7000-8000-00000000000c",
		"01900000-0000-7000-8000-00000000000b",
	} {
		store.tasks[id] = domain.Task{ID: id, Status: domain.StatusTodo, OwnerID: "u1", CreatedAt: 5}
	}
	store.tasks["later"] = domain.Task{ID: "later", Status: domain.StatusTodo, OwnerID: "u1", CreatedAt: 6}
	e := newTestServer(t, store)

	want := `["later","01900000-0000-7000-8000-00000000000c","01900000-0000-7000-8000-00000000000b","01900000-0000-7000-8000-00000000000a"]`
	for i := 0; i < 5; i++ {
		rec := do(t, e, http.MethodGet, "/tasks", "u1", "")
		if ids := gjson.Get(rec.Body.String(), "tasks.#.id").String(); ids != want {
			t.Fatalf("unexpected order %s", ids)
		}
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	store := newMemStore()
	store.tasks["a"] = domain.Task{ID: "a", Status: domain.StatusTodo, OwnerID: "u1"}
	store.tasks["b"] = domain.Task{ID: "b", Status: domain.StatusCompleted, OwnerID: "u1"}
	e := newTestServer(t, store)

	rec := do(t, e, http.MethodGet, "/tasks?status=completed", "u1", "")
	if ids := gjson.Get(rec.Body.String(), "tasks.#.id").String(); ids != `["b"]` {
		t.Fatalf("unexpected tasks %s", ids)
	}

	rec = do(t, e, http.MethodGet, "/tasks?status=archived", "u1", "")
	if rec.Code != http.StatusBadRequest || gjson.Get(rec.Body.String(), "code").String() != codeValidation {
		t.Fatalf("expected validation error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestListTasksEmptyIsArray(t *testing.T) {
	e := newTestServer(t, newMemStore())
	rec := do(t, e, http.MethodGet, "/tasks", "u1", "")
	if !strings.Contains(rec.Body.String(), `"tasks":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	e := newTestServer(t, newMemStore())
	for _, path := range []string{"/tasks", "/users"} {
		rec := do(t, e, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, rec.Code)
		}
		if got := gjson.Get(rec.Body.String(), "error").String(); got != "missing authorization header" {
			t.Fatalf("%s: unexpected error %q", path, got)
		}
	}
}

func TestCreateTaskValidation(t *testing.T) {
	store := newMemStore()
	e := newTestServer(t, store)

	rec := do(t, e, http.MethodPost, "/tasks", "u1", `{"status":"todo"}`)
	if rec.Code != http.StatusBadRequest || gjson.Get(rec.Body.String(), "error").String() != "User not found" {
		t.Fatalf("expected unregistered user rejection, got %d %s", rec.Code, rec.Body.String())
	}

	store.users["u1"] = domain.User{ID: "u1"}
	rec = do(t, e, http.MethodPost, "/tasks", "u1", `{"text":"x"}`)
	if rec.Code != http.StatusBadRequest || gjson.Get(rec.Body.String(), "error").String() != "Status is required" {
		t.Fatalf("expected missing status rejection, got %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, e, http.MethodPost, "/tasks", "u1", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid body rejection, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/tasks", "u1", `{"status":"todo","text":""}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if gjson.Get(body, "ownerId").String() != "u1" || gjson.Get(body, "id").String() == "" {
		t.Fatalf("unexpected task %s", body)
	}
	if gjson.Get(body, "colorClass").String() == "" {
		t.Fatalf("expected a color to be assigned: %s", body)
	}
}

func TestUpdateAndDeleteOwnership(t *testing.T) {
	store := newMemStore()
	store.tasks["t1"] = domain.Task{ID: "t1", Text: "mine", Status: domain.StatusTodo, OwnerID: "owner"}
	e := newTestServer(t, store)

	rec := do(t, e, http.MethodPut, "/tasks/t1", "intruder", `{"status":"completed","text":"stolen"}`)
	if rec.Code != http.StatusBadRequest || gjson.Get(rec.Body.String(), "code").String() != codeForbidden {
		t.Fatalf("expected forbidden, got %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, e, http.MethodDelete, "/tasks/t1", "intruder", "")
	if rec.Code != http.StatusBadRequest || gjson.Get(rec.Body.String(), "error").String() != "User does not own task" {
		t.Fatalf("expected forbidden, got %d %s", rec.Code, rec.Body.String())
	}
	if store.tasks["t1"].Text != "mine" {
		t.Fatalf("task modified by non owner")
	}

	rec = do(t, e, http.MethodPut, "/tasks/missing", "owner", `{"status":"todo"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPut, "/tasks/t1", "owner", `{"text":"no status"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	rec = do(t, e, http.MethodPut, "/tasks/t1", "owner", `{"status":"progress"}`)
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "text").String() != "mine" {
		t.Fatalf("expected text kept, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodDelete, "/tasks/t1", "owner", "")
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "deletedTask.id").String() != "t1" {
		t.Fatalf("unexpected delete response %d %s", rec.Code, rec.Body.String())
	}
	if _, ok := store.tasks["t1"]; ok {
		t.Fatalf("expected task removed")
	}
}

func TestStorageFailureIsInternal(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("table unavailable")
	e := newTestServer(t, store)

	rec := do(t, e, http.MethodGet, "/tasks", "u1", "")
	if rec.Code != http.StatusInternalServerError || gjson.Get(rec.Body.String(), "code").String() != codeInternal {
		t.Fatalf("expected internal error, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "table unavailable") {
		t.Fatalf("storage detail leaked: %s", rec.Body.String())
	}
}

func TestUserRegistration(t *testing.T) {
	store := newMemStore()
	e := newTestServer(t, store)

	rec := do(t, e, http.MethodGet, "/users", "u1", "")
	if rec.Code != http.StatusBadRequest || gjson.Get(rec.Body.String(), "error").String() != "No user found" {
		t.Fatalf("expected missing user, got %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, e, http.MethodPost, "/users", "u1", "")
	if rec.Code != http.StatusCreated || gjson.Get(rec.Body.String(), "email").String() != "u1@example.com" {
		t.Fatalf("expected user created from token claims, got %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, e, http.MethodPost, "/users", "u1", `{"email":"other@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected duplicate rejection, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/users", "u1", "")
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "id").String() != "u1" {
		t.Fatalf("expected user, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGzipRequestBody(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = domain.User{ID: "u1"}
	e := newTestServer(t, store)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(`{"status":"progress","text":"zipped"}`))
	gz.Close()

	req := httptest.NewRequest(http.MethodPost, "/tasks", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "u1"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated || gjson.Get(rec.Body.String(), "text").String() != "zipped" {
		t.Fatalf("expected gzip body accepted, got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("plain"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "u1"))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid gzip rejection, got %d", rec.Code)
	}
}

// The remote backend and the handlers must agree on the wire contract.
func TestRemoteBackendAgainstServer(t *testing.T) {
	store := newMemStore()
	srv := httptest.NewServer(newTestServer(t, store))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	owner := backend.NewRemote(srv.URL, backend.NewSession(signToken(t, "owner")), srv.Client(), logger)
	intruder := backend.NewRemote(srv.URL, backend.NewSession(signToken(t, "intruder")), srv.Client(), logger)
	ctx := context.Background()

	if _, err := owner.Create(ctx, backend.Draft{ID: "prov", Status: domain.StatusTodo}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unregistered user to be rejected, got %v", err)
	}
	if _, err := owner.EnsureUser(ctx); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := owner.EnsureUser(ctx); err != nil {
		t.Fatalf("ensure user is idempotent: %v", err)
	}

	created, err := owner.Create(ctx, backend.Draft{ID: "prov", Text: "remote", Status: domain.StatusTodo, ColorClass: "blue"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "prov" || created.OwnerID != "owner" {
		t.Fatalf("expected server issued id, got %+v", created)
	}

	status := domain.StatusCompleted
	text := "hijack"
	if _, err := intruder.Update(ctx, created.ID, backend.Fields{Status: &status, Text: &text}); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := intruder.Remove(ctx, created.ID); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := owner.Remove(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	text = "done"
	updated, err := owner.Update(ctx, created.ID, backend.Fields{Status: &status, Text: &text})
	if err != nil || updated.Status != domain.StatusCompleted || updated.Text != "done" {
		t.Fatalf("update: %+v %v", updated, err)
	}
	tasks, err := owner.List(ctx)
	if err != nil || len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("list: %+v %v", tasks, err)
	}
	removed, err := owner.Remove(ctx, created.ID)
	if err != nil || removed.ID != created.ID {
		t.Fatalf("remove: %+v %v", removed, err)
	}
}
