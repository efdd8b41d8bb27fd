package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"storyboard-server/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 创建项目（新会话）
func CreateProject(c *gin.Context) {
	var req struct {
		Language string `json:"language" binding:"omitempty,oneof=en vi"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	s := deps.Sessions.Create(models.Language(req.Language))
	zap.L().Info("project created", zap.String("project_id", s.ID), zap.String("language", string(s.Language())))
	c.JSON(http.StatusCreated, gin.H{"project": s.View()})
}

func GetProject(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": s.View()})
}

type videoConfigRequest struct {
	Duration         *int    `json:"duration" binding:"omitempty,min=0"`
	Style            *string `json:"style"`
	IncludeDialogue  *bool   `json:"includeDialogue"`
	DialogueLanguage *string `json:"dialogueLanguage" binding:"omitempty,oneof=en vi"`
}

// 更新项目，只修改请求中出现的字段
func UpdateProject(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	var req struct {
		StoryIdea       *string             `json:"storyIdea"`
		GeneratedScript *string             `json:"generatedScript"`
		VideoConfig     *videoConfigRequest `json:"videoConfig"`
		// 分钟数输入，换算为 duration，优先于 videoConfig.duration
		Minutes  *string `json:"minutes"`
		Language *string `json:"language" binding:"omitempty,oneof=en vi"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	if req.Language != nil {
		s.SetLanguage(models.ParseLanguage(*req.Language))
	}
	if req.StoryIdea != nil {
		s.SetStoryIdea(*req.StoryIdea)
	}
	if req.GeneratedScript != nil {
		s.SetScript(*req.GeneratedScript)
	}
	if vc := req.VideoConfig; vc != nil {
		s.UpdateVideoConfig(func(cfg *models.VideoConfig) {
			if vc.Duration != nil {
				cfg.Duration = *vc.Duration
			}
			if vc.Style != nil {
				cfg.Style = *vc.Style
			}
			if vc.IncludeDialogue != nil {
				cfg.IncludeDialogue = *vc.IncludeDialogue
			}
			if vc.DialogueLanguage != nil {
				cfg.DialogueLanguage = *vc.DialogueLanguage
			}
		})
	}
	if req.Minutes != nil {
		s.SetDurationMinutes(*req.Minutes)
	}

	c.JSON(http.StatusOK, gin.H{"project": s.View()})
}

// 删除会话；saved=true 时同时删除已保存的快照
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")
	if err := deps.Sessions.Delete(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + projectID})
		return
	}
	if c.Query("saved") == "true" && deps.DB != nil {
		if err := models.DeleteProjectByID(deps.DB, projectID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目快照失败: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID, "deleted": true})
}

// 新建项目：清空会话，正在进行的生成结果将被丢弃
func ResetProject(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	hadContent := s.Reset()
	zap.L().Info("project reset", zap.String("project_id", s.ID), zap.Bool("had_content", hadContent))
	c.JSON(http.StatusOK, gin.H{"had_content": hadContent, "project": s.View()})
}

// 保存项目快照
func SaveProject(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok || !requireDB(c) {
		return
	}
	p := s.Snapshot()
	if err := models.SaveProject(deps.DB, p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存项目失败: " + err.Error()})
		return
	}
	zap.L().Info("project saved", zap.String("project_id", p.ID), zap.Int("scenes", len(p.Scenes)))
	c.JSON(http.StatusOK, gin.H{"project_id": p.ID, "name": p.Name, "lastModified": p.LastModified})
}

// 加载已保存的项目到会话
func LoadProject(c *gin.Context) {
	if !requireDB(c) {
		return
	}
	p, err := models.GetProjectByID(deps.DB, c.Param("project_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	s := deps.Sessions.Load(p)
	c.JSON(http.StatusOK, gin.H{"project": s.View()})
}

// 已保存项目列表
func ListSavedProjects(c *gin.Context) {
	if !requireDB(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	projects, err := models.ListProjects(deps.DB, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取项目列表失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}
