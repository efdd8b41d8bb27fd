package routers

import (
	"net/http"

	"storyboard-server/models"
	"storyboard-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.GET("/healthz", healthz)
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/saved", api.ListSavedProjects)
		v1.POST("/projects/load/:project_id", api.LoadProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id", api.UpdateProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.POST("/projects/:project_id/reset", api.ResetProject)
		v1.POST("/projects/:project_id/save", api.SaveProject)

		v1.POST("/projects/:project_id/characters", api.AddCharacter)
		v1.PUT("/projects/:project_id/characters/:character_id", api.UpdateCharacter)
		v1.DELETE("/projects/:project_id/characters/:character_id", api.DeleteCharacter)
		v1.POST("/projects/:project_id/characters/:character_id/image", api.GenerateCharacterImage)

		v1.GET("/projects/:project_id/scenes", api.GetScenes)
		v1.GET("/projects/:project_id/scenes/:scene_id", api.GetSceneDetail)
		v1.PUT("/projects/:project_id/scenes/:scene_id", api.UpdateScene)
		v1.POST("/projects/:project_id/scenes/:scene_id/image", api.GenerateSceneImage)
		v1.POST("/projects/:project_id/images", api.GenerateAllSceneImages)

		v1.POST("/projects/:project_id/generate/:step", api.GenerateStep)
		v1.GET("/projects/:project_id/tasks", api.GetProjectTasks)
		v1.GET("/projects/:project_id/events", api.ProjectEvents)

		v1.GET("/projects/:project_id/export/prompts", api.ExportPrompts)
		v1.GET("/projects/:project_id/export/images", api.ExportImages)

		v1.GET("/tasks/:task_id", api.GetTaskStatus)
		v1.DELETE("/tasks/:task_id", api.CancelTask)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	return r
}

func healthz(c *gin.Context) {
	if models.DB != nil {
		if err := models.DB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
