// Package task provides task records and status transitions.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck-ai/taskdeck/internal/storage"
	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// Service manages task records in local storage. Tasks are client-owned;
// the engine only ever sees task ids.
type Service struct {
	storage *storage.Storage
}

// NewService creates a task service.
func NewService(store *storage.Storage) *Service {
	return &Service{storage: store}
}

// Create creates a new task in todo state.
func (s *Service) Create(ctx context.Context, title, description, projectPath, agentProfile string) (*types.Task, error) {
	now := time.Now().UnixMilli()
	task := &types.Task{
		ID:           ulid.Make().String(),
		Title:        title,
		Description:  description,
		Status:       types.TaskStatusTodo,
		ProjectPath:  projectPath,
		AgentProfile: agentProfile,
		Time:         types.TaskTime{Created: now, Updated: now},
	}
	if err := s.storage.Put(ctx, []string{"task", task.ID}, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	return task, nil
}

// Get retrieves a task by id.
func (s *Service) Get(ctx context.Context, taskID string) (*types.Task, error) {
	var task types.Task
	if err := s.storage.Get(ctx, []string{"task", taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// List returns all tasks ordered by creation time.
func (s *Service) List(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.storage.Scan(ctx, []string{"task"}, func(key string, data json.RawMessage) error {
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		tasks = append(tasks, &task)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Time.Created < tasks[j].Time.Created })
	return tasks, nil
}

// SetStatus transitions a task's status.
func (s *Service) SetStatus(ctx context.Context, taskID string, status types.TaskStatus) (*types.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task.Status = status
	task.Time.Updated = time.Now().UnixMilli()
	if err := s.storage.Put(ctx, []string{"task", task.ID}, task); err != nil {
		return nil, err
	}
	return task, nil
}

// SetCurrentAttempt records the task's current attempt. Synthetic attempt
// ids are kept in memory only and never written to the record.
func (s *Service) SetCurrentAttempt(ctx context.Context, taskID, attemptID string) (*types.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if attempt := (types.Attempt{ID: attemptID}); attempt.Synthetic() {
		return task, nil
	}
	task.CurrentAttemptID = attemptID
	task.Time.Updated = time.Now().UnixMilli()
	if err := s.storage.Put(ctx, []string{"task", task.ID}, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes a task record.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	return s.storage.Delete(ctx, []string{"task", taskID})
}
