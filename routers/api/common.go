package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"storyboard-server/service"
	"storyboard-server/session"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 处理函数共享的依赖，在 main.go 中通过 Setup 注入
type Deps struct {
	Sessions   *session.Manager
	Dispatcher service.Dispatcher
	DB         *gorm.DB
	// 推送分镜插入事件之间的间隔
	Pacing time.Duration
}

var deps Deps

func Setup(d Deps) {
	deps = d
	// 校验错误中使用 json 字段名
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	}
}

// bindError 将 validator.ValidationErrors 翻译为可读信息
func bindError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return "请求参数错误: " + err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}

// statusFor 会话错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrStale):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotReady):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// currentSession 按路由参数 :project_id 查找会话，找不到时已写入响应
func currentSession(c *gin.Context) (*session.Session, bool) {
	s, err := deps.Sessions.Get(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + c.Param("project_id")})
		return nil, false
	}
	return s, true
}

func requireDB(c *gin.Context) bool {
	if deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return false
	}
	return true
}
