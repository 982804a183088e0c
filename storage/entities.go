package storage

import (
	"strings"

	"github.com/bytedance/sonic"

	"sticky-board/domain"
)

const (
	edmInt64          = "Edm.Int64"
	userPartition     = "user"
	changeTypeCreated = "task.created"
	changeTypeUpdated = "task.updated"
	changeTypeDeleted = "task.deleted"
)

// tableKeys are the addressing columns every entity carries.
type tableKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is a task row. PartitionKey is the owner, RowKey the task id.
type taskEntity struct {
	tableKeys
	Text          string `json:"Text"`
	Status        string `json:"Status"`
	ColorClass    string `json:"ColorClass,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type userEntity struct {
	tableKeys
	Email string `json:"Email,omitempty"`
}

// changeEvent is published to the changes queue after every task write.
type changeEvent struct {
	Type      string       `json:"type"`
	TaskID    string       `json:"taskId"`
	OwnerID   string       `json:"ownerId"`
	Task      *domain.Task `json:"task,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

func entityFromTask(t domain.Task) taskEntity {
	return taskEntity{
		tableKeys:     tableKeys{PartitionKey: t.OwnerID, RowKey: t.ID},
		Text:          t.Text,
		Status:        string(t.Status),
		ColorClass:    t.ColorClass,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: edmInt64,
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:         ent.RowKey,
		Text:       ent.Text,
		Status:     domain.Status(ent.Status),
		ColorClass: ent.ColorClass,
		OwnerID:    ent.PartitionKey,
		CreatedAt:  ent.CreatedAt,
	}
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.RowKey, Email: ent.Email}, nil
}

// odataString quotes s for use in a table query filter.
func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func tasksFilter(ownerID string, status domain.Status) string {
	filter := "PartitionKey eq " + odataString(ownerID)
	if status != "" {
		filter += " and Status eq " + odataString(string(status))
	}
	return filter
}
