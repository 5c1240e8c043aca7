// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"mentalist-go/internal/config"
	"mentalist-go/internal/model"
	"mentalist-go/pkg/log"

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

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// Enabled 返回客户端是否已初始化。未配置 MinIO 时归档被跳过。
func Enabled() bool {
	return MinioClient != nil
}

// transcriptArchive 是写入对象存储的会话记录归档结构。
type transcriptArchive struct {
	SessionID uint               `json:"session_id"`
	PersonaID uint               `json:"persona_id"`
	UserID    string             `json:"user_id"`
	Turns     []model.TurnRecord `json:"turns"`
}

// ArchiveTranscript 将一次已结束会话的完整消息记录以 JSON 形式归档到对象存储。
func ArchiveTranscript(ctx context.Context, bucketName string, session *model.ChatSession, turns []model.TurnRecord) error {
	archive := transcriptArchive{
		SessionID: session.ID,
		PersonaID: session.PersonaID,
		UserID:    session.UserID,
		Turns:     turns,
	}

	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript archive: %w", err)
	}

	objectName := fmt.Sprintf("transcripts/%d/%d.json", session.PersonaID, session.ID)
	_, err = MinioClient.PutObject(ctx, bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to archive transcript: %w", err)
	}
	return nil
}
