package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"storyboard-server/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	MinioClient *minio.Client
	minioBucket string
)

// InitMinIO 初始化连接，在 main.go 中调用。未配置 endpoint 时导出直接走 HTTP 响应
func InitMinIO(cfg *config.Config) error {
	mc := cfg.MinIO
	if mc.Endpoint == "" {
		zap.L().Info("minio not configured, exports are streamed directly")
		return nil
	}
	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure: mc.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	MinioClient = client
	minioBucket = mc.Bucket
	zap.L().Info("minio connected", zap.String("endpoint", mc.Endpoint), zap.String("bucket", mc.Bucket))
	return nil
}

func StorageEnabled() bool {
	return MinioClient != nil
}

func contentTypeFor(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// UploadToMinIO 从 io.Reader 上传到 MinIO，返回预签名 URL
//   - objectName: 云端存储路径，例如 "exports/<project>/My_Story_images.zip"
//   - size: 文件大小（字节），-1 表示未知大小
func UploadToMinIO(ctx context.Context, reader io.Reader, objectName string, size int64) (string, error) {
	if MinioClient == nil {
		return "", fmt.Errorf("minio not configured")
	}

	// 确保 Bucket 存在
	exists, err := MinioClient.BucketExists(ctx, minioBucket)
	if err != nil {
		return "", fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := MinioClient.MakeBucket(ctx, minioBucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		zap.L().Info("bucket created", zap.String("bucket", minioBucket))
	}

	_, err = MinioClient.PutObject(ctx, minioBucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	// 预签名 URL，72 小时有效
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(objectName)))
	presignedURL, err := MinioClient.PresignedGetObject(ctx, minioBucket, objectName, 72*time.Hour, reqParams)
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}

	zap.L().Info("object uploaded", zap.String("object", objectName))
	return presignedURL.String(), nil
}
