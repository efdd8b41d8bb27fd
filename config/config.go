package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"` // debug | release
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Generation GenerationConfig `yaml:"generation"`
}

type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	IdeaModel      string `yaml:"idea_model"`
	ScriptModel    string `yaml:"script_model"`
	SceneModel     string `yaml:"scene_model"`
	CharacterModel string `yaml:"character_model"`
	ImageModel     string `yaml:"image_model"`
}

type GenerationConfig struct {
	BatchSize           int    `yaml:"batch_size"`
	MaxStagnantAttempts int    `yaml:"max_stagnant_attempts"`
	// 未配置时为 200，显式配置 0 表示不限速
	ScenePacingMs       *int   `yaml:"scene_pacing_ms"`
	DefaultLanguage     string `yaml:"default_language"`
	WorkerConcurrency   int    `yaml:"worker_concurrency"`
}

// ScenePacing 推送分镜插入事件之间的间隔
func (g GenerationConfig) ScenePacing() time.Duration {
	if g.ScenePacingMs == nil || *g.ScenePacingMs <= 0 {
		return 0
	}
	return time.Duration(*g.ScenePacingMs) * time.Millisecond
}

var AppConfig *Config

// InitConfig 读取 .env（可选）与 YAML 配置文件
func InitConfig(path string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load 解析配置文件并补齐默认值，环境变量优先于文件中的 api_key
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	for _, key := range []string{"GEMINI_API_KEY", "API_KEY"} {
		if v := os.Getenv(key); v != "" {
			c.Gemini.APIKey = v
			return
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Gemini.IdeaModel == "" {
		c.Gemini.IdeaModel = "gemini-2.5-flash"
	}
	if c.Gemini.ScriptModel == "" {
		c.Gemini.ScriptModel = "gemini-2.5-pro"
	}
	if c.Gemini.SceneModel == "" {
		c.Gemini.SceneModel = "gemini-2.5-flash"
	}
	if c.Gemini.CharacterModel == "" {
		c.Gemini.CharacterModel = "gemini-2.5-flash"
	}
	if c.Gemini.ImageModel == "" {
		c.Gemini.ImageModel = "gemini-2.5-flash-image"
	}
	g := &c.Generation
	if g.BatchSize <= 0 {
		g.BatchSize = 10
	}
	if g.MaxStagnantAttempts <= 0 {
		g.MaxStagnantAttempts = 5
	}
	if g.ScenePacingMs == nil {
		pacing := 200
		g.ScenePacingMs = &pacing
	}
	if g.DefaultLanguage == "" {
		g.DefaultLanguage = "vi"
	}
	if g.WorkerConcurrency <= 0 {
		g.WorkerConcurrency = 5
	}
}

// InitLogger 安装全局 zap logger，release 模式使用 JSON 输出
func InitLogger(mode string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if mode == "release" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
