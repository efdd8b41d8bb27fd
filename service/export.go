package service

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"storyboard-server/generation"
	"storyboard-server/models"
)

var scenePrefix = regexp.MustCompile(`^Scene \d+ –\s*`)

// PromptText 导出全部分镜提示词：按 scene_id 排序，每条为 "<id>. <prompt>"，空行分隔
func PromptText(scenes []models.Scene) string {
	sorted := models.SortedScenes(scenes)
	blocks := make([]string, 0, len(sorted))
	for _, sc := range sorted {
		blocks = append(blocks, fmt.Sprintf("%d. %s", sc.SceneID, scenePrefix.ReplaceAllString(sc.Prompt, "")))
	}
	return strings.Join(blocks, "\n\n")
}

// ExportFileName 项目名中的空格替换为下划线，例如 "My Story" -> "My_Story_prompts.txt"
func ExportFileName(projectName, suffix string) string {
	return strings.ReplaceAll(projectName, " ", "_") + suffix
}

// ImagesZip 打包已生成图片的分镜，文件名 scene_001.png ...；没有图片时返回 (nil, 0, nil)
func ImagesZip(scenes []models.Scene) ([]byte, int, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	n := 0
	for _, sc := range models.SortedScenes(scenes) {
		if sc.ImageUrl == "" {
			continue
		}
		_, data, err := generation.ParseImageDataURI(sc.ImageUrl)
		if err != nil {
			return nil, 0, fmt.Errorf("scene %d: %w", sc.SceneID, err)
		}
		w, err := zw.Create(fmt.Sprintf("scene_%03d.png", sc.SceneID))
		if err != nil {
			return nil, 0, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, 0, err
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, nil
	}
	return buf.Bytes(), n, nil
}
