package models

import "sort"

// SceneSeconds 每个分镜对应的大致时长（秒）
const SceneSeconds = 8

// Scene 是 storyboard 中的一个约 8 秒的分镜。scene_id 为唯一标识，展示和导出均按 scene_id 升序。
type Scene struct {
	SceneID           int    `json:"scene_id"`
	Time              string `json:"time"`
	Prompt            string `json:"prompt"`
	ImageUrl          string `json:"imageUrl,omitempty"`
	IsGeneratingImage bool   `json:"isGeneratingImage,omitempty"`
}

// GenerationProgress 是 accumulator 状态的瞬时快照，不持久化
type GenerationProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// SortScenes 按 scene_id 升序原地排序
func SortScenes(scenes []Scene) {
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].SceneID < scenes[j].SceneID
	})
}

// SortedScenes 返回按 scene_id 排序的副本
func SortedScenes(scenes []Scene) []Scene {
	out := CloneScenes(scenes)
	SortScenes(out)
	return out
}

func CloneScenes(scenes []Scene) []Scene {
	if scenes == nil {
		return nil
	}
	out := make([]Scene, len(scenes))
	copy(out, scenes)
	return out
}

// FindScene 按 id 查找分镜
func FindScene(scenes []Scene, sceneID int) (Scene, bool) {
	for _, s := range scenes {
		if s.SceneID == sceneID {
			return s, true
		}
	}
	return Scene{}, false
}

// MergeScene 将 scene 插入到已按 scene_id 排序的集合中。
// 已存在相同 scene_id 时保留先到的分镜并返回 false（不覆盖）。
func MergeScene(scenes []Scene, scene Scene) ([]Scene, bool) {
	i := sort.Search(len(scenes), func(i int) bool {
		return scenes[i].SceneID >= scene.SceneID
	})
	if i < len(scenes) && scenes[i].SceneID == scene.SceneID {
		return scenes, false
	}
	out := make([]Scene, 0, len(scenes)+1)
	out = append(out, scenes[:i]...)
	out = append(out, scene)
	out = append(out, scenes[i:]...)
	return out, true
}

// UpdateScene 按 id 修改分镜（而不是按位置替换），返回是否找到
func UpdateScene(scenes []Scene, sceneID int, fn func(*Scene)) bool {
	for i := range scenes {
		if scenes[i].SceneID == sceneID {
			fn(&scenes[i])
			return true
		}
	}
	return false
}

// MaxSceneID 返回集合中最大的 scene_id，空集合返回 0
func MaxSceneID(scenes []Scene) int {
	max := 0
	for _, s := range scenes {
		if s.SceneID > max {
			max = s.SceneID
		}
	}
	return max
}
