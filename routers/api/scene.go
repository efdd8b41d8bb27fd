package api

import (
	"net/http"
	"strconv"

	"storyboard-server/models"

	"github.com/gin-gonic/gin"
)

// 获取分镜列表（按 scene_id 升序）
func GetScenes(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	v := s.View()
	c.JSON(http.StatusOK, gin.H{
		"scenes":       models.SortedScenes(v.Scenes),
		"project_id":   v.ID,
		"total_scenes": len(v.Scenes),
		"progress":     v.Progress,
	})
}

func sceneID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("scene_id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scene_id: " + c.Param("scene_id")})
		return 0, false
	}
	return id, true
}

// 获取分镜详情
func GetSceneDetail(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := sceneID(c)
	if !ok {
		return
	}
	sc, found := s.Scene(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到: " + c.Param("scene_id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": sc})
}

// 修改分镜提示词
func UpdateScene(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := sceneID(c)
	if !ok {
		return
	}
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	sc, err := s.UpdateScenePrompt(id, req.Prompt)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到: " + c.Param("scene_id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": sc})
}
