package board

import (
	"strings"

	"sticky-board/domain"
)

// Columns is the collection split by status, each in collection order.
type Columns struct {
	Todo      []domain.Task
	Progress  []domain.Task
	Completed []domain.Task
}

// Column returns the bucket for status.
func (c Columns) Column(status domain.Status) []domain.Task {
	switch status {
	case domain.StatusTodo:
		return c.Todo
	case domain.StatusProgress:
		return c.Progress
	case domain.StatusCompleted:
		return c.Completed
	}
	return nil
}

// Len is the number of tasks across all columns.
func (c Columns) Len() int {
	return len(c.Todo) + len(c.Progress) + len(c.Completed)
}

// Filter keeps the tasks whose text contains search, ignoring case.
// An empty search keeps everything.
func Filter(tasks []domain.Task, search string) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	needle := strings.ToLower(search)
	for _, t := range tasks {
		if needle == "" || strings.Contains(strings.ToLower(t.Text), needle) {
			out = append(out, t)
		}
	}
	return out
}

// Project filters tasks and partitions them into columns.
func Project(tasks []domain.Task, search string) Columns {
	var cols Columns
	for _, t := range Filter(tasks, search) {
		switch t.Status {
		case domain.StatusTodo:
			cols.Todo = append(cols.Todo, t)
		case domain.StatusProgress:
			cols.Progress = append(cols.Progress, t)
		case domain.StatusCompleted:
			cols.Completed = append(cols.Completed, t)
		}
	}
	return cols
}
