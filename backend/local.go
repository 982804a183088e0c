package backend

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"sticky-board/domain"
)

// LocalTasksKey is the storage key holding the anonymous board.
const LocalTasksKey = "tasks:nouser"

// Local persists the anonymous board as one JSON array in a KeyValue store.
// Every mutation loads the whole array and rewrites it; concurrent writers
// from other processes are last-write-wins.
type Local struct {
	kv  KeyValue
	log *log.Logger
}

// NewLocal creates a local backend on kv.
func NewLocal(kv KeyValue, logger *log.Logger) *Local {
	if kv == nil {
		panic("backend.NewLocal: key/value store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Local{kv: kv, log: logger}
}

// List returns the stored tasks. Unreadable or corrupt state degrades to an
// empty board.
func (l *Local) List(ctx context.Context) ([]domain.Task, error) {
	tasks, err := l.load(ctx)
	if err != nil {
		l.log.WithError(err).Warn("local tasks unreadable, starting empty")
		return []domain.Task{}, nil
	}
	return tasks, nil
}

// Create appends a task. The draft id is kept when present.
func (l *Local) Create(ctx context.Context, draft Draft) (domain.Task, error) {
	task := domain.Task{
		ID:         draft.ID,
		Text:       draft.Text,
		Status:     draft.Status,
		ColorClass: draft.ColorClass,
		CreatedAt:  domain.NowMillis(),
	}
	if task.ID == "" {
		task.ID = domain.NewLocalID()
	}
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}

	tasks, err := l.load(ctx)
	if err != nil {
		return domain.Task{}, domain.Classify("create", task.ID, err)
	}
	if indexOf(tasks, task.ID) >= 0 {
		return domain.Task{}, &domain.Error{Op: "create", Kind: domain.ErrConflict, ID: task.ID, Err: fmt.Errorf("task %s already exists", task.ID)}
	}

	tasks = append(tasks, task)
	if err := l.save(ctx, tasks); err != nil {
		return domain.Task{}, domain.Classify("create", task.ID, err)
	}
	return task, nil
}

// Update applies fields to the task with id and moves it when a position is given.
func (l *Local) Update(ctx context.Context, id string, fields Fields) (domain.Task, error) {
	if fields.Status != nil && !fields.Status.Valid() {
		return domain.Task{}, &domain.Error{Op: "update", Kind: domain.ErrValidation, ID: id, Err: fmt.Errorf("invalid status %q", *fields.Status)}
	}

	tasks, err := l.load(ctx)
	if err != nil {
		return domain.Task{}, domain.Classify("update", id, err)
	}
	idx := indexOf(tasks, id)
	if idx < 0 {
		return domain.Task{}, domain.NotFound("update", id)
	}

	task := tasks[idx]
	fields.apply(&task)
	if fields.Position != nil {
		tasks = append(tasks[:idx], tasks[idx+1:]...)
		if *fields.Position == domain.Head {
			tasks = append([]domain.Task{task}, tasks...)
		} else {
			tasks = append(tasks, task)
		}
	} else {
		tasks[idx] = task
	}

	if err := l.save(ctx, tasks); err != nil {
		return domain.Task{}, domain.Classify("update", id, err)
	}
	return task, nil
}

// Remove deletes the task with id and returns it.
func (l *Local) Remove(ctx context.Context, id string) (domain.Task, error) {
	tasks, err := l.load(ctx)
	if err != nil {
		return domain.Task{}, domain.Classify("remove", id, err)
	}
	idx := indexOf(tasks, id)
	if idx < 0 {
		return domain.Task{}, domain.NotFound("remove", id)
	}

	removed := tasks[idx]
	tasks = append(tasks[:idx], tasks[idx+1:]...)
	if err := l.save(ctx, tasks); err != nil {
		return domain.Task{}, domain.Classify("remove", id, err)
	}
	return removed, nil
}

// load reads the stored array. A storage fault is returned; a corrupt payload
// is logged and treated as an empty board so the next write repairs it.
func (l *Local) load(ctx context.Context) ([]domain.Task, error) {
	data, ok, err := l.kv.Get(ctx, LocalTasksKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return []domain.Task{}, nil
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		l.log.WithError(err).Warn("discarding corrupt local tasks")
		return []domain.Task{}, nil
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (l *Local) save(ctx context.Context, tasks []domain.Task) error {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return err
	}
	return l.kv.Set(ctx, LocalTasksKey, data)
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
