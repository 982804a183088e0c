package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"sticky-board/domain"
)

// Storage persists tasks and users in Azure Table Storage and optionally
// publishes task changes to a queue.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client
	changes   *azqueue.QueueClient
	log       *log.Logger
}

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// New creates a Storage instance from the given connection string. An empty
// changesQueue disables change publishing.
func New(connStr, tasksTable, usersTable, changesQueue string, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
		log:       logger,
	}
	if changesQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute,
					RetryDelay:    time.Second,
					MaxRetryDelay: time.Minute,
					StatusCodes:   retryStatusCodes,
				},
			},
		}
		s.changes, err = azqueue.NewQueueClientFromConnectionString(connStr, changesQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ListTasks returns the tasks of ownerID, optionally only those in status.
func (s *Storage) ListTasks(ctx context.Context, ownerID string, status domain.Status) ([]domain.Task, error) {
	filter := tasksFilter(ownerID, status)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("list tasks", ownerID, err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				s.log.WithError(err).WithField("owner", ownerID).Warn("skipping unreadable task entity")
				continue
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// GetTask looks a task up by id across all owners.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	filter := "RowKey eq " + odataString(id)
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Task{}, classify("get task", id, err)
		}
		if len(resp.Entities) > 0 {
			t, err := decodeTaskEntity(resp.Entities[0])
			if err != nil {
				return domain.Task{}, classify("get task", id, err)
			}
			return t, nil
		}
	}
	return domain.Task{}, domain.NotFound("get task", id)
}

// CreateTask inserts a new task. An existing id is a conflict.
func (s *Storage) CreateTask(ctx context.Context, t domain.Task) error {
	payload, err := sonic.Marshal(entityFromTask(t))
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return classify("create task", t.ID, err)
	}
	s.publish(ctx, changeTypeCreated, t)
	return nil
}

// UpdateTask replaces an existing task.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := sonic.Marshal(entityFromTask(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if _, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return classify("update task", t.ID, err)
	}
	s.publish(ctx, changeTypeUpdated, t)
	return nil
}

// DeleteTask removes a task.
func (s *Storage) DeleteTask(ctx context.Context, t domain.Task) error {
	if _, err := s.taskTable.DeleteEntity(ctx, t.OwnerID, t.ID, nil); err != nil {
		return classify("delete task", t.ID, err)
	}
	s.publish(ctx, changeTypeDeleted, t)
	return nil
}

// GetUser returns a registered user.
func (s *Storage) GetUser(ctx context.Context, id string) (domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return domain.User{}, classify("get user", id, err)
	}
	return decodeUserEntity(ent.Value)
}

// CreateUser registers a user. A second registration is a conflict.
func (s *Storage) CreateUser(ctx context.Context, u domain.User) error {
	payload, err := sonic.Marshal(userEntity{
		tableKeys: tableKeys{PartitionKey: userPartition, RowKey: u.ID},
		Email:     u.Email,
	})
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		return classify("create user", u.ID, err)
	}
	return nil
}

// publish sends a change event. The write already succeeded, so failures
// are only logged.
func (s *Storage) publish(ctx context.Context, kind string, t domain.Task) {
	if s.changes == nil {
		return
	}
	ev := changeEvent{Type: kind, TaskID: t.ID, OwnerID: t.OwnerID, Timestamp: time.Now().UnixMilli()}
	if kind != changeTypeDeleted {
		ev.Task = &t
	}
	data, err := sonic.Marshal(ev)
	if err == nil {
		_, err = s.changes.EnqueueMessage(ctx, string(data), nil)
	}
	if err != nil {
		s.log.WithError(err).WithFields(log.Fields{"type": kind, "task": t.ID}).Warn("publish change event failed")
	}
}

// classify maps table service responses onto domain error kinds.
func classify(op, id string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return &domain.Error{Op: op, Kind: domain.ErrNotFound, ID: id, Err: err}
		case respErr.StatusCode == http.StatusConflict,
			respErr.ErrorCode == string(aztables.EntityAlreadyExists):
			return &domain.Error{Op: op, Kind: domain.ErrConflict, ID: id, Err: err}
		case respErr.StatusCode == http.StatusPreconditionFailed:
			return &domain.Error{Op: op, Kind: domain.ErrConflict, ID: id, Err: err}
		}
	}
	return domain.Classify(op, id, err)
}
