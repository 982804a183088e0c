package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"sticky-board/domain"
)

const (
	maxResponseSize      = 4 << 20
	headerIdempotencyKey = "Idempotency-Key"
)

var errNoCredential = errors.New("no credential for remote call")

// CredentialSource hands out the bearer credential for the current session.
type CredentialSource interface {
	Credential() string
}

// StatusError is a non-success HTTP response from the task service.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// Remote talks to the task service over authenticated HTTP calls. The
// service owns ordering (most recent first) and ownership checks.
type Remote struct {
	baseURL string
	creds   CredentialSource
	http    *http.Client
	log     *log.Logger
}

// NewRemote creates a remote backend for the service at baseURL.
func NewRemote(baseURL string, creds CredentialSource, client *http.Client, logger *log.Logger) *Remote {
	if creds == nil {
		panic("backend.NewRemote: credential source is nil")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    client,
		log:     logger,
	}
}

type createTaskRequest struct {
	Status     domain.Status `json:"status"`
	Text       string        `json:"text"`
	ColorClass string        `json:"colorClass,omitempty"`
}

type updateTaskRequest struct {
	Status domain.Status `json:"status"`
	Text   *string       `json:"text,omitempty"`
}

// List returns every task of the signed-in user.
func (r *Remote) List(ctx context.Context) ([]domain.Task, error) {
	return r.ListStatus(ctx, "")
}

// ListStatus returns the user's tasks, filtered server side when status is set.
func (r *Remote) ListStatus(ctx context.Context, status domain.Status) ([]domain.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	body, err := r.do(ctx, "list", "", http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	tasks, skipped, err := decodeTasks(gjson.GetBytes(body, "tasks"))
	if err != nil {
		return nil, domain.Classify("list", "", err)
	}
	if skipped > 0 {
		r.log.WithField("skipped", skipped).Warn("remote list contained malformed tasks")
	}
	return tasks, nil
}

// Create asks the service to store a new task. The service issues the
// authoritative id; the draft id only travels as the idempotency key so a
// retried create returns the task already made.
func (r *Remote) Create(ctx context.Context, draft Draft) (domain.Task, error) {
	if draft.Status == "" {
		return domain.Task{}, &domain.Error{Op: "create", Kind: domain.ErrValidation, ID: draft.ID, Err: errors.New("status is required")}
	}
	req := createTaskRequest{Status: draft.Status, Text: draft.Text, ColorClass: draft.ColorClass}
	var hdr http.Header
	if draft.ID != "" {
		hdr = http.Header{}
		hdr.Set(headerIdempotencyKey, draft.ID)
	}
	body, err := r.send(ctx, "create", draft.ID, http.MethodPost, "/tasks", req, hdr, http.StatusCreated, http.StatusOK)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := decodeTask(gjson.ParseBytes(body))
	if err != nil {
		return domain.Task{}, domain.Classify("create", draft.ID, err)
	}
	return task, nil
}

// Update sends status and text for id. The service requires a status on
// every update; positions are ignored because the service owns ordering.
func (r *Remote) Update(ctx context.Context, id string, fields Fields) (domain.Task, error) {
	if fields.Status == nil {
		return domain.Task{}, &domain.Error{Op: "update", Kind: domain.ErrValidation, ID: id, Err: errors.New("status is required")}
	}
	req := updateTaskRequest{Status: *fields.Status, Text: fields.Text}
	body, err := r.do(ctx, "update", id, http.MethodPut, "/tasks/"+url.PathEscape(id), req, http.StatusOK, http.StatusCreated)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := decodeTask(gjson.ParseBytes(body))
	if err != nil {
		return domain.Task{}, domain.Classify("update", id, err)
	}
	return task, nil
}

// Remove deletes id and returns the task the service removed.
func (r *Remote) Remove(ctx context.Context, id string) (domain.Task, error) {
	body, err := r.do(ctx, "remove", id, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, http.StatusOK)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := decodeTask(gjson.GetBytes(body, "deletedTask"))
	if err != nil {
		return domain.Task{}, domain.Classify("remove", id, err)
	}
	return task, nil
}

// EnsureUser registers the signed-in principal with the service unless it
// already is.
func (r *Remote) EnsureUser(ctx context.Context) (domain.User, error) {
	body, err := r.do(ctx, "get user", "", http.MethodGet, "/users", nil, http.StatusOK)
	if err == nil {
		return decodeUser(body), nil
	}
	if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	body, err = r.do(ctx, "create user", "", http.MethodPost, "/users", nil, http.StatusCreated, http.StatusOK)
	if err != nil {
		return domain.User{}, err
	}
	user := decodeUser(body)
	r.log.WithField("user", user.ID).Info("registered user with task service")
	return user, nil
}

func decodeUser(body []byte) domain.User {
	v := gjson.ParseBytes(body)
	return domain.User{ID: v.Get("id").String(), Email: v.Get("email").String()}
}

func (r *Remote) do(ctx context.Context, op, id, method, path string, payload any, expect ...int) ([]byte, error) {
	return r.send(ctx, op, id, method, path, payload, nil, expect...)
}

func (r *Remote) send(ctx context.Context, op, id, method, path string, payload any, hdr http.Header, expect ...int) ([]byte, error) {
	token := r.creds.Credential()
	if token == "" {
		return nil, &domain.Error{Op: op, Kind: domain.ErrAuthorization, ID: id, Err: errNoCredential}
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return nil, domain.Classify(op, id, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return nil, domain.Classify(op, id, err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, domain.Classify(op, id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, domain.Classify(op, id, err)
	}
	for _, code := range expect {
		if resp.StatusCode == code {
			return body, nil
		}
	}
	return nil, classifyResponse(op, id, resp.StatusCode, body)
}

func classifyResponse(op, id string, status int, body []byte) error {
	statusErr := &StatusError{
		StatusCode: status,
		Code:       gjson.GetBytes(body, "code").String(),
		Message:    gjson.GetBytes(body, "error").String(),
	}

	var kind error
	switch status {
	case http.StatusBadRequest:
		kind = domain.ErrValidation
		if statusErr.Code == "forbidden" || strings.Contains(strings.ToLower(statusErr.Message), "does not own") {
			kind = domain.ErrAuthorization
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = domain.ErrAuthorization
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusConflict:
		kind = domain.ErrConflict
	default:
		kind = domain.ErrBackend
	}
	return &domain.Error{Op: op, Kind: kind, ID: id, Err: statusErr}
}
