package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeProcessSource    TaskType = "process_source"
	TaskTypeSyncSourceConfig TaskType = "sync_source_config"
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetSourceCode() string
	Start()
	GetDuration() time.Duration
}

// Task carries the bookkeeping shared by every task. Tasks are never
// retried: a failed source waits for the next run.
type Task struct {
	ID         string
	Type       TaskType
	SourceCode string
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetSourceCode() string {
	return t.SourceCode
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, sourceCode string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		SourceCode: sourceCode,
	}
}
