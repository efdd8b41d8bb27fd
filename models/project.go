package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Language 生成内容使用的界面语言
type Language string

const (
	LanguageEnglish    Language = "en"
	LanguageVietnamese Language = "vi"

	DefaultLanguage = LanguageVietnamese
	DefaultStyle    = "cinematic"
)

// ParseLanguage 未知语言回退到默认语言
func ParseLanguage(s string) Language {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguageEnglish:
		return LanguageEnglish
	case LanguageVietnamese:
		return LanguageVietnamese
	}
	return DefaultLanguage
}

// UntitledProject 项目名无法从故事构思推导时使用的占位名
func UntitledProject(lang Language) string {
	if lang == LanguageEnglish {
		return "Untitled Project"
	}
	return "Dự án chưa có tên"
}

// ProjectName 取故事构思的第一行作为项目名（非空且少于 50 个字符），否则使用占位名
func ProjectName(storyIdea string, lang Language) string {
	firstLine := strings.TrimSpace(strings.SplitN(storyIdea, "\n", 2)[0])
	n := len([]rune(firstLine))
	if n > 0 && n < 50 {
		return firstLine
	}
	return UntitledProject(lang)
}

// CharacterProfile 角色设定。分镜生图时按 id 引用，不做结构嵌套
type CharacterProfile struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ImageUrl          string `json:"imageUrl,omitempty"`
	IsGeneratingImage bool   `json:"isGeneratingImage,omitempty"`
}

func CloneCharacters(chars []CharacterProfile) []CharacterProfile {
	if chars == nil {
		return nil
	}
	out := make([]CharacterProfile, len(chars))
	copy(out, chars)
	return out
}

// VideoConfig 视频参数。Duration 为 8 的正整数倍时才允许生成，0 表示未设置
type VideoConfig struct {
	Duration         int    `json:"duration"`
	Style            string `json:"style"`
	IncludeDialogue  bool   `json:"includeDialogue"`
	DialogueLanguage string `json:"dialogueLanguage"`
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Duration:         0,
		Style:            DefaultStyle,
		IncludeDialogue:  false,
		DialogueLanguage: string(DefaultLanguage),
	}
}

// Valid duration 是 8 的正整数倍
func (c VideoConfig) Valid() bool {
	return c.Duration > 0 && c.Duration%SceneSeconds == 0
}

// TargetSceneCount round(duration / 8)
func TargetSceneCount(duration int) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Round(float64(duration) / SceneSeconds))
}

// DurationFromMinutes 将用户输入的分钟数转换为秒数。
// 只解析开头的整数部分；非正数或无法解析时返回 0（禁用生成）。
func DurationFromMinutes(input string) int {
	minutes, ok := leadingInt(input)
	if !ok || minutes <= 0 {
		return 0
	}
	scenes := int(math.Round(float64(minutes*60) / SceneSeconds))
	if scenes < 1 {
		scenes = 1
	}
	return scenes * SceneSeconds
}

func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			break
		}
		n = n*10 + int(r-'0')
		digits++
		if n > 1<<20 {
			break
		}
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// DurationFeedback 对应界面上 "~N scenes, final duration: Xm Ys"
type DurationFeedback struct {
	Scenes  int `json:"scenes"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func FeedbackFor(duration int) DurationFeedback {
	if duration <= 0 {
		return DurationFeedback{}
	}
	return DurationFeedback{
		Scenes:  duration / SceneSeconds,
		Minutes: duration / 60,
		Seconds: duration % 60,
	}
}

// Project 是会话状态的快照，用于保存/加载（不提供持久性保证）
type Project struct {
	ID              string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name            string          `json:"name"`
	Language        string          `gorm:"type:varchar(8)" json:"language"`
	Characters      CharacterList   `gorm:"type:json" json:"characters"`
	StoryIdea       string          `gorm:"type:text" json:"storyIdea"`
	GeneratedScript string          `gorm:"type:longtext" json:"generatedScript"`
	VideoConfig     VideoConfigJSON `gorm:"type:json" json:"videoConfig"`
	Scenes          SceneList       `gorm:"type:longtext" json:"scenes"`
	LastModified    int64           `json:"lastModified"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

type CharacterList []CharacterProfile
type SceneList []Scene
type VideoConfigJSON VideoConfig

// 实现 driver.Valuer / sql.Scanner，JSON 列读写
func (l CharacterList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *CharacterList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func (l SceneList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *SceneList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func (c VideoConfigJSON) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *VideoConfigJSON) Scan(value interface{}) error {
	return scanJSON(value, c)
}

func scanJSON(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
