package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 任务状态（在系统中统一使用这些状态）
const (
	// pending: 任务已就绪，等待执行器取走执行
	TaskStatusPending = "pending"
	// processing: 任务正在执行中
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"
	// stale: 任务完成时会话已被重置，结果被丢弃
	TaskStatusStale = "stale"

	TaskTypeStoryIdea      = "generate_story_idea"
	TaskTypeScript         = "generate_script"
	TaskTypeCharacters     = "generate_characters"
	TaskTypeStoryboard     = "generate_storyboard" // 分批生成分镜
	TaskTypeResume         = "resume_storyboard"   // 从已有分镜继续生成
	TaskTypeCharacterImage = "generate_character_image"
	TaskTypeSceneImage     = "generate_scene_image"
	TaskTypeAllSceneImages = "generate_all_scene_images"
)

type Task struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId  string         `gorm:"type:varchar(64);index" json:"projectId"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message"`
	Parameters TaskParameters `gorm:"type:json" json:"parameters"`
	Result     TaskResult     `gorm:"type:json" json:"result"`
	Error      string         `gorm:"type:text" json:"error"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (Task) TableName() string {
	return "task"
}

// TaskParameters 各任务类型所需的参数
type TaskParameters struct {
	CharacterID string `json:"character_id,omitempty"`
	SceneID     int    `json:"scene_id,omitempty"`
	Epoch       uint64 `json:"epoch"`
}

// TaskResult 仅保留最小结果信息
type TaskResult struct {
	Scenes     int    `json:"scenes,omitempty"`
	Target     int    `json:"target,omitempty"`
	Complete   bool   `json:"complete,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
	Batches    int    `json:"batches,omitempty"`
	Text       string `json:"text,omitempty"`
}

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (p TaskParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (p *TaskParameters) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func (r TaskResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *TaskResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

func CreateTask(db *gorm.DB, t *Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	return db.Create(t).Error
}

func GetTaskByID(db *gorm.DB, taskID string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateStatus 更新状态/结果/错误信息，终态同时写入 finished_at
func (t *Task) UpdateStatus(db *gorm.DB, status string, result *TaskResult, errMsg string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case TaskStatusProcessing:
		updates["started_at"] = now
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusStale:
		updates["finished_at"] = now
		updates["progress"] = 100
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			zap.L().Warn("marshal task result failed", zap.String("task_id", t.ID), zap.Error(err))
		} else {
			updates["result"] = b
		}
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	return db.Model(t).Updates(updates).Error
}

// UpdateProgress 更新进度（0-100）与提示信息
func (t *Task) UpdateProgress(db *gorm.DB, progress int, message string) error {
	return db.Model(t).Updates(map[string]interface{}{
		"progress":   progress,
		"message":    message,
		"updated_at": time.Now(),
	}).Error
}

func GetTasksByProjectID(db *gorm.DB, projectID string, limit int) ([]Task, error) {
	var tasks []Task
	q := db.Where("project_id = ?", projectID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
