package service

import (
	"encoding/json"
	"fmt"
	"time"

	"storyboard-server/config"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeGenerateTask = "storyboard:generate"
)

type TaskPayload struct {
	TaskID string `json:"task_id"`
}

var QueueClient *asynq.Client

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	}
}

// InitQueue 初始化
func InitQueue(cfg *config.Config) {
	QueueClient = asynq.NewClient(redisOpt(cfg))
}

func CloseQueue() {
	if QueueClient != nil {
		_ = QueueClient.Close()
	}
}

// EnqueueTask 生成任务入队。会话状态在执行中会变化，所以不自动重试
func EnqueueTask(taskID string) error {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeGenerateTask, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute), // 分镜分批生成 + 批量生图可能较慢
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	zap.L().Info("task enqueued", zap.String("task_id", taskID), zap.String("queue_id", info.ID))
	return nil
}
