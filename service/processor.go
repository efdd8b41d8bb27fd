package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"storyboard-server/config"
	"storyboard-server/models"
	"storyboard-server/session"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 运行中任务的取消注册表（taskID -> cancelFunc）
var cancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

// RegisterCancel 注册任务的 cancelFunc（由 HandleGenerateTask 在执行前调用）
func RegisterCancel(taskID string, cancel context.CancelFunc) {
	cancelRegistry.Lock()
	defer cancelRegistry.Unlock()
	cancelRegistry.m[taskID] = cancel
}

// UnregisterCancel 任务结束时注销
func UnregisterCancel(taskID string) {
	cancelRegistry.Lock()
	defer cancelRegistry.Unlock()
	delete(cancelRegistry.m, taskID)
}

// CancelTask 外部调用以取消正在执行的任务，返回是否实际找到并取消
func CancelTask(taskID string) bool {
	cancelRegistry.Lock()
	defer cancelRegistry.Unlock()
	if cancel, ok := cancelRegistry.m[taskID]; ok {
		cancel()
		delete(cancelRegistry.m, taskID)
		return true
	}
	return false
}

// Processor 处理队列任务：从会话管理器取出会话并执行对应的生成操作
type Processor struct {
	DB       *gorm.DB
	Sessions *session.Manager
	Actions  *session.Actions
}

func NewProcessor(db *gorm.DB, sessions *session.Manager, actions *session.Actions) *Processor {
	return &Processor{
		DB:       db,
		Sessions: sessions,
		Actions:  actions,
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(cfg *config.Config, concurrency int) *asynq.Server {
	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateTask, p.HandleGenerateTask)

	zap.L().Info("starting task processor", zap.Int("concurrency", concurrency))
	go func() {
		if err := srv.Run(mux); err != nil {
			zap.L().Fatal("could not run task processor", zap.Error(err))
		}
	}()
	return srv
}

// HandleGenerateTask 核心处理逻辑
func (p *Processor) HandleGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	// 1. 获取任务
	task, err := models.GetTaskByID(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(zap.String("task_id", task.ID), zap.String("type", task.Type), zap.String("project_id", task.ProjectId))
	log.Info("processing task")
	if err := task.UpdateStatus(p.DB, models.TaskStatusProcessing, nil, ""); err != nil {
		log.Warn("update status processing failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	RegisterCancel(task.ID, cancel)
	defer func() {
		UnregisterCancel(task.ID)
		cancel()
	}()

	// 2. 执行
	result, err := p.Run(runCtx, task)

	// 3. 写回结果。业务失败不重试
	switch {
	case errors.Is(err, session.ErrStale):
		log.Info("task result discarded, session was reset")
		_ = task.UpdateStatus(p.DB, models.TaskStatusStale, result, err.Error())
	case err != nil:
		log.Error("task failed", zap.Error(err))
		_ = task.UpdateStatus(p.DB, models.TaskStatusFailed, result, err.Error())
	default:
		log.Info("task finished")
		_ = task.UpdateStatus(p.DB, models.TaskStatusSuccess, result, "")
	}
	return nil
}

// Run 按任务类型分发到会话操作，使用入队时记录的 epoch
func (p *Processor) Run(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	s, err := p.Sessions.Get(task.ProjectId)
	if err != nil {
		return nil, err
	}
	epoch := task.Parameters.Epoch

	switch task.Type {
	case models.TaskTypeStoryIdea:
		idea, err := p.Actions.GenerateStoryIdea(ctx, s, epoch)
		return textResult(idea), err

	case models.TaskTypeScript:
		script, err := p.Actions.GenerateScript(ctx, s, epoch)
		return textResult(script), err

	case models.TaskTypeCharacters:
		chars, err := p.Actions.GenerateCharacters(ctx, s, epoch)
		if err != nil {
			return nil, err
		}
		return &models.TaskResult{Text: fmt.Sprintf("%d characters", len(chars))}, nil

	case models.TaskTypeStoryboard, models.TaskTypeResume:
		stop := p.trackProgress(s, task)
		defer stop()
		run := p.Actions.GenerateStoryboard
		if task.Type == models.TaskTypeResume {
			run = p.Actions.Resume
		}
		res, err := run(ctx, s, epoch)
		if res == nil {
			return nil, err
		}
		return &models.TaskResult{
			Scenes:     res.Achieved(),
			Target:     res.Target,
			Complete:   res.Complete,
			Incomplete: !res.Complete,
			Batches:    res.Batches,
		}, err

	case models.TaskTypeCharacterImage:
		_, err := p.Actions.GenerateCharacterImage(ctx, s, epoch, task.Parameters.CharacterID)
		return nil, err

	case models.TaskTypeSceneImage:
		_, err := p.Actions.GenerateSceneImage(ctx, s, epoch, task.Parameters.SceneID, task.Parameters.CharacterID)
		return nil, err

	case models.TaskTypeAllSceneImages:
		n, err := p.Actions.GenerateAllSceneImages(ctx, s, epoch, task.Parameters.CharacterID)
		return &models.TaskResult{Scenes: n}, err
	}
	return nil, fmt.Errorf("unknown task type: %s", task.Type)
}

func textResult(text string) *models.TaskResult {
	if text == "" {
		return nil
	}
	return &models.TaskResult{Text: text}
}

// trackProgress 订阅会话事件，把分镜进度同步到任务表
func (p *Processor) trackProgress(s *session.Session, task *models.Task) func() {
	if p.DB == nil {
		return func() {}
	}
	events, cancel := s.Events().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Type {
			case session.EventStatus:
				_ = task.UpdateProgress(p.DB, task.Progress, ev.Message)
			case session.EventSceneInserted:
				if ev.Progress == nil || ev.Progress.Total == 0 {
					continue
				}
				task.Progress = min(ev.Progress.Current*100/ev.Progress.Total, 100)
				_ = task.UpdateProgress(p.DB, task.Progress, fmt.Sprintf("%d/%d", ev.Progress.Current, ev.Progress.Total))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
