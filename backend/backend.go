package backend

import (
	"context"

	"sticky-board/domain"
)

// Backend is the persistence contract shared by the local store and the
// remote task service.
type Backend interface {
	List(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, draft Draft) (domain.Task, error)
	Update(ctx context.Context, id string, fields Fields) (domain.Task, error)
	Remove(ctx context.Context, id string) (domain.Task, error)
}

// Draft is a task before the store has assigned its final identity.
// ID is a hint; the local store keeps it, the remote service replaces it.
type Draft struct {
	ID         string
	Text       string
	Status     domain.Status
	ColorClass string
}

// Fields describes a partial update. Nil fields are left unchanged.
type Fields struct {
	Text     *string
	Status   *domain.Status
	Position *domain.Position
}

// Mode names the backend a call was routed to.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

func (f Fields) apply(t *domain.Task) {
	if f.Text != nil {
		t.Text = *f.Text
	}
	if f.Status != nil {
		t.Status = *f.Status
	}
}
