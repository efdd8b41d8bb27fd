package api

import (
	"bytes"
	"fmt"
	"net/http"

	"storyboard-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}

// 导出全部分镜提示词（纯文本下载）
func ExportPrompts(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	v := s.View()
	if len(v.Scenes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scenes to export"})
		return
	}
	filename := service.ExportFileName(v.Name, "_prompts.txt")
	c.Header("Content-Disposition", attachment(filename))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(service.PromptText(v.Scenes)))
}

// 导出分镜图片 zip。配置了 MinIO 时上传并返回预签名 URL，否则直接下载
func ExportImages(c *gin.Context) {
	s, ok := currentSession(c)
	if !ok {
		return
	}
	v := s.View()
	data, n, err := service.ImagesZip(v.Scenes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "打包图片失败: " + err.Error()})
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scene images to export"})
		return
	}
	filename := service.ExportFileName(v.Name, "_images.zip")

	if service.StorageEnabled() {
		objectName := fmt.Sprintf("exports/%s/%s", v.ID, filename)
		url, err := service.UploadToMinIO(c.Request.Context(), bytes.NewReader(data), objectName, int64(len(data)))
		if err != nil {
			zap.L().Error("upload export failed", zap.String("project_id", v.ID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url, "filename": filename, "images": n})
		return
	}

	c.Header("Content-Disposition", attachment(filename))
	c.Data(http.StatusOK, "application/zip", data)
}
