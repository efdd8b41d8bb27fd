package service

import (
	"fmt"

	"storyboard-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Dispatcher records a generation task and schedules it for execution.
type Dispatcher interface {
	Dispatch(projectID, taskType string, params models.TaskParameters) (*models.Task, error)
}

// QueueDispatcher stores the task row and pushes it onto the asynq queue.
type QueueDispatcher struct {
	DB *gorm.DB
}

func (d QueueDispatcher) Dispatch(projectID, taskType string, params models.TaskParameters) (*models.Task, error) {
	task := &models.Task{
		ID:         uuid.NewString(),
		ProjectId:  projectID,
		Type:       taskType,
		Status:     models.TaskStatusPending,
		Message:    "任务已创建，等待执行",
		Parameters: params,
	}
	if err := models.CreateTask(d.DB, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := EnqueueTask(task.ID); err != nil {
		_ = task.UpdateStatus(d.DB, models.TaskStatusFailed, nil, err.Error())
		return nil, err
	}
	return task, nil
}
