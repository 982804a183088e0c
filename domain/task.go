package domain

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Status is the column a task belongs to.
type Status string

const (
	StatusTodo      Status = "todo"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusProgress, StatusCompleted}

// Valid reports whether s names one of the board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusProgress, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus converts user input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &Error{Op: "parse status", Kind: ErrValidation, Err: errInvalidStatus(raw)}
	}
	return s, nil
}

// Position selects where a moved task is reinserted in the global ordering.
type Position int

const (
	Tail Position = iota
	Head
)

func (p Position) String() string {
	if p == Head {
		return "head"
	}
	return "tail"
}

// Task represents a single sticky note on the board.
type Task struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Status     Status `json:"status"`
	ColorClass string `json:"colorClass,omitempty"`
	OwnerID    string `json:"ownerId,omitempty"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
}

// Validate checks the fields every stored task must carry.
func (t *Task) Validate() error {
	if t.Status == "" {
		return &Error{Op: "validate task", Kind: ErrValidation, ID: t.ID, Err: errStatusRequired}
	}
	if !t.Status.Valid() {
		return &Error{Op: "validate task", Kind: ErrValidation, ID: t.ID, Err: errInvalidStatus(string(t.Status))}
	}
	return nil
}

// User is a registered principal of the task service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ColorClasses are the note styles a new task can be given.
var ColorClasses = []string{
	"bg-gradient-to-br from-blue-100 to-blue-200 border-blue-400",
	"bg-gradient-to-br from-green-100 to-green-200 border-green-400",
	"bg-gradient-to-br from-yellow-100 to-yellow-200 border-yellow-400",
	"bg-gradient-to-br from-pink-100 to-pink-200 border-pink-400",
	"bg-gradient-to-br from-purple-100 to-purple-200 border-purple-400",
	"bg-gradient-to-br from-indigo-100 to-indigo-200 border-indigo-400",
	"bg-gradient-to-br from-red-100 to-red-200 border-red-400",
	"bg-gradient-to-br from-orange-100 to-orange-200 border-orange-400",
}

// PickColorClass returns a random entry of ColorClasses.
func PickColorClass() string {
	return ColorClasses[rand.IntN(len(ColorClasses))]
}

var lastTimestamp int64

func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// NewLocalID returns a time-derived identifier that is unique within the process.
func NewLocalID() string {
	return strconv.FormatInt(nextTimestamp(), 36)
}

// NowMillis is the creation timestamp format stored on tasks.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
