package api

import (
	"net/http"

	"storyboard-server/models"
	"storyboard-server/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 生成步骤 -> 任务类型
var stepTaskTypes = map[string]string{
	"idea":       models.TaskTypeStoryIdea,
	"characters": models.TaskTypeCharacters,
	"script":     models.TaskTypeScript,
	"storyboard": models.TaskTypeStoryboard,
	"resume":     models.TaskTypeResume,
}

// dispatch 记录当前 epoch 并创建任务。会话在任务执行前被重置时，结果会被丢弃
func dispatch(c *gin.Context, s *session.Session, taskType string, params models.TaskParameters) {
	params.Epoch = s.Epoch()
	task, err := deps.Dispatcher.Dispatch(s.ID, taskType, params)
	if err != nil {
		zap.L().Error("dispatch task failed", zap.String("project_id", s.ID), zap.String("type", taskType), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    task.ID,
		"project_id": s.ID,
		"type":       taskType,
		"epoch":      params.Epoch,
	})
}

// POST /projects/:project_id/generate/:step
func GenerateStep(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	step := c.Param("step")
	taskType, known := stepTaskTypes[step]
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown generation step: " + step})
		return
	}
	if err := s.Ready(step); err != nil {
		abortWithError(c, err)
		return
	}
	dispatch(c, s, taskType, models.TaskParameters{})
}

// 生成角色参考图
func GenerateCharacterImage(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	characterID := c.Param("character_id")
	if err := s.CharacterImageReady(characterID); err != nil {
		abortWithError(c, err)
		return
	}
	dispatch(c, s, models.TaskTypeCharacterImage, models.TaskParameters{CharacterID: characterID})
}

type referenceRequest struct {
	CharacterID string `json:"character_id" binding:"required"`
}

// 以选定角色为参考生成单个分镜图
func GenerateSceneImage(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := sceneID(c)
	if !ok {
		return
	}
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if err := s.SceneImageReady(req.CharacterID, id); err != nil {
		abortWithError(c, err)
		return
	}
	dispatch(c, s, models.TaskTypeSceneImage, models.TaskParameters{CharacterID: req.CharacterID, SceneID: id})
}

// 批量生成所有尚无图片的分镜，遇到第一个失败即停止
func GenerateAllSceneImages(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	if err := s.SceneImageReady(req.CharacterID, 0); err != nil {
		abortWithError(c, err)
		return
	}
	dispatch(c, s, models.TaskTypeAllSceneImages, models.TaskParameters{CharacterID: req.CharacterID})
}
