package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storyboard-server/config"
	"storyboard-server/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ErrEmptyResponse 模型没有返回任何文本
var ErrEmptyResponse = errors.New("the model returned an empty response")

// ContentGenerator 是 *genai.Models 中客户端用到的部分，测试中可替换
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Models 每个操作使用的模型
type Models struct {
	Idea      string
	Script    string
	Scene     string
	Character string
	Image     string
}

func ModelsFrom(cfg config.GeminiConfig) Models {
	return Models{
		Idea:      cfg.IdeaModel,
		Script:    cfg.ScriptModel,
		Scene:     cfg.SceneModel,
		Character: cfg.CharacterModel,
		Image:     cfg.ImageModel,
	}
}

// Client 调用 Gemini API 生成故事构思、剧本、角色、分镜批次和图片，并规整返回结果
type Client struct {
	gen    ContentGenerator
	models Models
}

func New(gen ContentGenerator, m Models) *Client {
	return &Client{gen: gen, models: m}
}

// NewClient 使用 Gemini Developer API 创建客户端
func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return New(gc.Models, ModelsFrom(cfg)), nil
}

var sceneListSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"scenes": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"scene_id": {Type: genai.TypeInteger},
					"time":     {Type: genai.TypeString},
					"prompt":   {Type: genai.TypeString},
				},
				Required: []string{"scene_id", "time", "prompt"},
			},
		},
	},
	Required: []string{"scenes"},
}

var characterListSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"characters": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"name", "description"},
			},
		},
	},
	Required: []string{"characters"},
}

func f32(v float32) *float32 {
	return &v
}

func systemInstruction(text string) *genai.Content {
	return &genai.Content{Parts: []*genai.Part{{Text: text}}}
}

func userContents(parts ...*genai.Part) []*genai.Content {
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *Client) generateText(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := c.gen.GenerateContent(ctx, model, userContents(genai.NewPartFromText(prompt)), cfg)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// StoryIdea 按指定风格生成一段故事构思
func (c *Client) StoryIdea(ctx context.Context, style string, lang models.Language) (string, error) {
	const op = "generateStoryIdea"
	text, err := c.generateText(ctx, c.models.Idea, "Please generate a story idea.", &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(instructionsFor(lang).storyIdea(style)),
		Temperature:       f32(0.9),
	})
	if err != nil {
		return "", c.fail(op, err)
	}
	return text, nil
}

// Script 生成完整剧本（纯文本）
func (c *Client) Script(ctx context.Context, storyIdea string, chars []models.CharacterProfile, cfg models.VideoConfig, lang models.Language) (string, error) {
	const op = "generateScript"
	text, err := c.generateText(ctx, c.models.Script, scriptPrompt(storyIdea, chars, cfg), &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(instructionsFor(lang).script(cfg)),
		Temperature:       f32(0.9),
		TopP:              f32(0.95),
	})
	if err != nil {
		return "", c.fail(op, err)
	}
	return text, nil
}

// CharacterProfiles 从剧本或故事构思中提取角色，每个角色分配新的 id。
// 返回中找不到 JSON 对象或缺少 "characters" 数组时报错
func (c *Client) CharacterProfiles(ctx context.Context, scriptOrIdea string, duration int, lang models.Language) ([]models.CharacterProfile, error) {
	const op = "generateCharacterDNA"
	text, err := c.generateText(ctx, c.models.Character, characterPrompt(scriptOrIdea, duration), &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(instructionsFor(lang).characters(duration)),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    characterListSchema,
		Temperature:       f32(0.7),
	})
	if err != nil {
		return nil, c.fail(op, err)
	}

	var raw []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	found, err := decodeKey(text, "characters", &raw)
	if err != nil {
		return nil, c.fail(op, err)
	}
	if !found {
		return nil, c.fail(op, ErrMissingKey)
	}
	out := make([]models.CharacterProfile, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.CharacterProfile{
			ID:          uuid.NewString(),
			Name:        r.Name,
			Description: r.Description,
		})
	}
	return out, nil
}

// SceneBatch 请求下一批分镜。existing 非空时告知模型已生成到的编号，并附上最近几个分镜。
//
// 与 CharacterProfiles 不同：无法解析或缺少 "scenes" 数组时返回空批次而不是错误，
// 是否继续请求由调用方的停滞次数决定
func (c *Client) SceneBatch(ctx context.Context, chars []models.CharacterProfile, script string, cfg models.VideoConfig, lang models.Language, existing []models.Scene) ([]models.Scene, error) {
	const op = "generateScenePrompts"
	text, err := c.generateText(ctx, c.models.Scene, scenePrompt(chars, script, cfg, existing), &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(instructionsFor(lang).scenes(cfg, len(existing) > 0)),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    sceneListSchema,
		Temperature:       f32(0.8),
		TopP:              f32(0.9),
	})
	if errors.Is(err, ErrEmptyResponse) {
		zap.L().Warn("empty scene batch response", zap.Int("existing", len(existing)))
		return nil, nil
	}
	if err != nil {
		return nil, c.fail(op, err)
	}

	var raw []models.Scene
	found, err := decodeKey(text, "scenes", &raw)
	if err != nil {
		zap.L().Warn("unparseable scene batch response", zap.Error(err))
		return nil, nil
	}
	if !found {
		zap.L().Warn("scene batch response has no scenes array")
		return nil, nil
	}
	out := make([]models.Scene, 0, len(raw))
	for _, s := range raw {
		if s.SceneID <= 0 {
			continue
		}
		out = append(out, models.Scene{SceneID: s.SceneID, Time: s.Time, Prompt: s.Prompt})
	}
	return out, nil
}

// CharacterImage 生成纯色背景的角色参考图，返回 data URI
func (c *Client) CharacterImage(ctx context.Context, description string) (string, error) {
	const op = "generateCharacterImage"
	uri, err := c.generateImage(ctx, genai.NewPartFromText(characterImagePrompt(description)))
	if err != nil {
		return "", c.fail(op, err)
	}
	return uri, nil
}

// SceneImage 以角色参考图保持一致性生成分镜图。
// reference 必须是 base64 图片 data URI，在发出请求前校验
func (c *Client) SceneImage(ctx context.Context, scenePrompt, reference string) (string, error) {
	const op = "generateSceneImage"
	mime, data, err := ParseImageDataURI(reference)
	if err != nil {
		return "", c.fail(op, err)
	}
	uri, err := c.generateImage(ctx,
		genai.NewPartFromBytes(data, mime),
		genai.NewPartFromText(sceneImagePrompt(scenePrompt)),
	)
	if err != nil {
		return "", c.fail(op, err)
	}
	return uri, nil
}

func (c *Client) generateImage(ctx context.Context, parts ...*genai.Part) (string, error) {
	resp, err := c.gen.GenerateContent(ctx, c.models.Image, userContents(parts...), &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrNoImageData
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return ImageDataURI(p.InlineData.MIMEType, p.InlineData.Data), nil
			}
		}
	}
	return "", ErrNoImageData
}

func (c *Client) fail(op string, err error) error {
	classified := classify(op, err)
	zap.L().Error("generation request failed",
		zap.String("op", op),
		zap.String("kind", KindOf(classified).String()),
		zap.Error(err))
	return classified
}
