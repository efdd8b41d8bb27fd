package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 新增角色（空白字段，新 id）
func AddCharacter(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	ch := s.AddCharacter()
	c.JSON(http.StatusCreated, gin.H{"character": ch})
}

// 修改角色名称/描述，未提供的字段保持不变
func UpdateCharacter(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	ch, err := s.UpdateCharacter(c.Param("character_id"), req.Name, req.Description)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "角色未找到: " + c.Param("character_id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": ch})
}

func DeleteCharacter(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	if err := s.RemoveCharacter(c.Param("character_id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "角色未找到: " + c.Param("character_id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"character_id": c.Param("character_id"), "deleted": true})
}
