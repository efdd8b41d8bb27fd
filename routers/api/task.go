package api

import (
	"net/http"
	"strconv"
	"time"

	"storyboard-server/models"
	"storyboard-server/service"
	"storyboard-server/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func taskFinished(status string) bool {
	switch status {
	case models.TaskStatusSuccess, models.TaskStatusFailed, models.TaskStatusStale:
		return true
	}
	return false
}

// 任务进度 WebSocket 推送：先推送 DB 中的当前状态，然后每秒轮询，状态/进度变化时推送，终态后关闭
func TaskProgressWebSocket(c *gin.Context) {
	if !requireDB(c) {
		return
	}
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	t, err := models.GetTaskByID(deps.DB, taskID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "task not found: " + err.Error()})
		return
	}
	if err := conn.WriteJSON(t); err != nil || taskFinished(t.Status) {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus, prevProgress, prevMessage := t.Status, t.Progress, t.Message
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
		cur, err := models.GetTaskByID(deps.DB, taskID)
		if err != nil {
			continue
		}
		if cur.Status == prevStatus && cur.Progress == prevProgress && cur.Message == prevMessage {
			continue
		}
		if err := conn.WriteJSON(cur); err != nil {
			return
		}
		if taskFinished(cur.Status) {
			return
		}
		prevStatus, prevProgress, prevMessage = cur.Status, cur.Progress, cur.Message
	}
}

// 查询任务状态：GET /v1/api/tasks/:task_id
func GetTaskStatus(c *gin.Context) {
	if !requireDB(c) {
		return
	}
	t, err := models.GetTaskByID(deps.DB, c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

// 取消正在执行的任务。分镜生成被取消时已生成的分镜保留
func CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")
	if !service.CancelTask(taskID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not running: " + taskID})
		return
	}
	zap.L().Info("task cancelled", zap.String("task_id", taskID))
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "cancelled": true})
}

// 项目的任务列表（最近优先）
func GetProjectTasks(c *gin.Context) {
	if !requireDB(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	tasks, err := models.GetTasksByProjectID(deps.DB, c.Param("project_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取任务失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

type snapshotMessage struct {
	Type    string       `json:"type"`
	Project session.View `json:"project"`
}

// 项目事件 WebSocket：连接后先推送完整快照，之后推送会话事件。
// 分镜插入事件之间按配置间隔发送，形成逐条出现的效果
func ProjectEvents(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := s.Events().Subscribe()
	defer cancel()

	// 读循环只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(snapshotMessage{Type: "snapshot", Project: s.View()}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "project deleted"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == session.EventSceneInserted && deps.Pacing > 0 {
				select {
				case <-closed:
					return
				case <-time.After(deps.Pacing):
				}
			}
		}
	}
}
