// Package approval projects the subset of tasks awaiting human sign-off
// and owns the only two writers that can move a task out of that state.
// It holds no storage of its own: it's a thin read/transition layer over
// whatever TaskStore the Orchestrator wires in, in the spirit of the
// teacher's store/plan_gate.go single-row gate contract.
package approval

import (
	"fmt"
	"time"

	"github.com/cortex-work/engine/internal/model"
)

// ErrNotAwaitingApproval is returned by Approve/Reject when the task does
// not exist or is not currently awaiting approval.
var ErrNotAwaitingApproval = fmt.Errorf("task not found or not awaiting approval")

// TaskStore is the narrow slice of store.Store the Approval Queue needs.
type TaskStore interface {
	GetTask(id string) (*model.Task, error)
	ListTasksByState(state model.TaskState) ([]model.Task, error)
	SaveTask(task *model.Task) error
}

// Queue is a thin projection over a TaskStore's awaiting_approval tasks.
type Queue struct {
	store TaskStore
	now   func() time.Time
}

// New builds a Queue backed by store.
func New(store TaskStore) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Pending returns every task currently awaiting human decision.
func (q *Queue) Pending() ([]model.Task, error) {
	tasks, err := q.store.ListTasksByState(model.TaskAwaitingApproval)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	return tasks, nil
}

// Approve moves a task from awaiting_approval to building. It is the sole
// legal writer of that transition.
func (q *Queue) Approve(taskID string) error {
	task, err := q.store.GetTask(taskID)
	if err != nil || task == nil || task.State != model.TaskAwaitingApproval {
		return ErrNotAwaitingApproval
	}
	task.State = model.TaskBuilding
	task.UpdatedAt = q.now()
	if err := q.store.SaveTask(task); err != nil {
		return fmt.Errorf("approval: approve %s: %w", taskID, err)
	}
	return nil
}

// Reject moves a task from awaiting_approval to failed, recording reason
// as the task's error. It is the sole legal writer of that transition.
func (q *Queue) Reject(taskID string, reason string) error {
	task, err := q.store.GetTask(taskID)
	if err != nil || task == nil || task.State != model.TaskAwaitingApproval {
		return ErrNotAwaitingApproval
	}
	task.State = model.TaskFailed
	task.Error = reason
	task.UpdatedAt = q.now()
	if err := q.store.SaveTask(task); err != nil {
		return fmt.Errorf("approval: reject %s: %w", taskID, err)
	}
	return nil
}
