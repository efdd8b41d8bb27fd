package main

import (
	"context"
	"fmt"
	"os"

	"storyboard-server/config"
	"storyboard-server/generation"
	"storyboard-server/models"
	"storyboard-server/routers"
	"storyboard-server/routers/api"
	"storyboard-server/service"
	"storyboard-server/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := config.InitConfig("config/config.yaml"); err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := config.AppConfig

	logger, err := config.InitLogger(cfg.Server.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := models.InitDB(cfg.MySQL.DSN); err != nil {
		zap.L().Fatal("database init failed", zap.Error(err))
	}

	service.InitQueue(cfg)
	defer service.CloseQueue()

	if err := service.InitMinIO(cfg); err != nil {
		zap.L().Fatal("minio init failed", zap.Error(err))
	}

	client, err := generation.NewClient(context.Background(), cfg.Gemini)
	if err != nil {
		zap.L().Fatal("generation client init failed", zap.Error(err))
	}

	sessions := session.NewManager(models.ParseLanguage(cfg.Generation.DefaultLanguage))
	actions := session.NewActions(client, cfg.Generation)

	processor := service.NewProcessor(models.GormDB, sessions, actions)
	srv := processor.StartProcessor(cfg, cfg.Generation.WorkerConcurrency)
	defer srv.Shutdown()

	api.Setup(api.Deps{
		Sessions:   sessions,
		Dispatcher: service.QueueDispatcher{DB: models.GormDB},
		DB:         models.GormDB,
		Pacing:     cfg.Generation.ScenePacing(),
	})

	zap.L().Info("server starting", zap.String("port", cfg.Server.Port))
	if err := routers.InitRouter().Run(cfg.Server.Port); err != nil {
		zap.L().Fatal("server stopped", zap.Error(err))
	}
}
