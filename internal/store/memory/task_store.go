// Package memory provides the in-process task table.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/renderbot/crawlserve/internal/crawler"
)

// TaskStore owns the task table for the lifetime of the process. All access
// goes through its methods; the mutex makes every mutation atomic relative
// to concurrent reads.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]crawler.Task
}

// NewTaskStore constructs an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]crawler.Task),
	}
}

// Create inserts a new task. The task must be in pending status.
func (s *TaskStore) Create(_ context.Context, task crawler.Task) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	if task.Status != crawler.TaskStatusPending {
		return fmt.Errorf("new task must be pending, got %q", task.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// SetRunning transitions a pending task to running.
func (s *TaskStore) SetRunning(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}
	task.Status = crawler.TaskStatusRunning
	s.tasks[taskID] = task
	return nil
}

// Complete records the result and moves the task to completed. Once a task
// is terminal no further transition is accepted.
func (s *TaskStore) Complete(_ context.Context, taskID string, result crawler.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}
	task.Status = crawler.TaskStatusCompleted
	task.Result = &result
	task.Error = ""
	s.tasks[taskID] = task
	return nil
}

// Fail records the error text and moves the task to failed.
func (s *TaskStore) Fail(_ context.Context, taskID string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}
	task.Status = crawler.TaskStatusFailed
	task.Error = cause
	task.Result = nil
	s.tasks[taskID] = task
	return nil
}

// Get returns a consistent snapshot of one task.
func (s *TaskStore) Get(_ context.Context, taskID string) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, crawler.ErrTaskNotFound
	}
	if task.Result != nil {
		result := *task.Result
		task.Result = &result
	}
	return task, nil
}

// Active counts tasks that have not reached a terminal state.
func (s *TaskStore) Active(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, task := range s.tasks {
		if !task.Status.Terminal() {
			n++
		}
	}
	return n, nil
}
