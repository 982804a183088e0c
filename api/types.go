package api

import (
	"context"

	"sticky-board/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	ListTasks(ctx context.Context, ownerID string, status domain.Status) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, task domain.Task) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error
}

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Email string
}

// Authenticator is implemented by types able to resolve the caller from headers.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (Principal, error)
}
