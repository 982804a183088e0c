package backend

import (
	"errors"

	"github.com/tidwall/gjson"

	"sticky-board/domain"
)

var errMalformedTask = errors.New("malformed task in response")

// decodeTask reads a task object, accepting both the camelCase keys of the
// current service and the snake_case column names older deployments return.
func decodeTask(v gjson.Result) (domain.Task, error) {
	if !v.IsObject() {
		return domain.Task{}, errMalformedTask
	}
	t := domain.Task{
		ID:         v.Get("id").String(),
		Text:       v.Get("text").String(),
		Status:     domain.Status(v.Get("status").String()),
		ColorClass: firstOf(v, "colorClass", "color_class").String(),
		OwnerID:    firstOf(v, "ownerId", "userId", "user_id", "owner_id").String(),
		CreatedAt:  firstOf(v, "createdAt", "created_at").Int(),
	}
	if t.ID == "" || !t.Status.Valid() {
		return domain.Task{}, errMalformedTask
	}
	return t, nil
}

func decodeTasks(v gjson.Result) ([]domain.Task, int, error) {
	if !v.IsArray() {
		return nil, 0, errors.New("response has no tasks array")
	}
	tasks := make([]domain.Task, 0, len(v.Array()))
	skipped := 0
	v.ForEach(func(_, item gjson.Result) bool {
		t, err := decodeTask(item)
		if err != nil {
			skipped++
			return true
		}
		tasks = append(tasks, t)
		return true
	})
	return tasks, skipped, nil
}

func firstOf(v gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}
