// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于保存商户 Logo。
package storage

import (
	"context"
	"fmt"
	"invoice-assistant-go/internal/config"
	"invoice-assistant-go/pkg/log"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	// 2. 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	log.Info("MinIO 客户端初始化成功")
}

// LogoStore 负责 Logo 的上传与访问链接生成。
type LogoStore interface {
	Put(ctx context.Context, userID uint, fileName string, r io.Reader, size int64, contentType string) (string, error)
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

type minioLogoStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewLogoStore 基于 MinIO 客户端创建 LogoStore。
func NewLogoStore(client *minio.Client, cfg config.MinIOConfig) LogoStore {
	return &minioLogoStore{client: client, bucket: cfg.BucketName, expiry: cfg.PresignExpiry()}
}

// LogoObjectName 返回商户 Logo 的对象路径。
func LogoObjectName(userID uint, fileName string) string {
	return fmt.Sprintf("logos/%d/%d_%s", userID, time.Now().UnixNano(), fileName)
}

func (s *minioLogoStore) Put(ctx context.Context, userID uint, fileName string, r io.Reader, size int64, contentType string) (string, error) {
	objectName := LogoObjectName(userID, fileName)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传 Logo 失败: %w", err)
	}
	return objectName, nil
}

func (s *minioLogoStore) PresignedURL(ctx context.Context, objectName string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}
