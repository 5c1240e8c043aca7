package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mentalist-go/internal/config"
	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"
	"mentalist-go/pkg/kafka"
	"mentalist-go/pkg/log"
	"mentalist-go/pkg/storage"
	"mentalist-go/pkg/tasks"

	"gorm.io/gorm"
)

// SessionService 定义了会话生命周期管理的接口。
type SessionService interface {
	// GetOrCreateSession 返回某 (userID, personaID) 的当前活跃会话，不存在则新建。
	GetOrCreateSession(ctx context.Context, userID string, personaID uint) (*model.ChatSession, error)
	// AppendMessage 向会话追加一条消息。会话不存在返回 ErrUnknownSession，
	// 已结束返回 ErrSessionEnded。
	AppendMessage(ctx context.Context, sessionID uint, role, content string) error
	// EndSession 结束一个会话并触发经验沉淀。对已结束的会话幂等。
	EndSession(ctx context.Context, sessionID uint) error
	// ListMessages 按时间升序返回会话的全部消息。
	ListMessages(ctx context.Context, sessionID uint) ([]model.TurnRecord, error)
	// ReapIdle 结束最后活动早于 maxIdle 之前的活跃会话，返回回收数量。
	// 空闲回收是对显式 EndSession 契约的扩展，默认关闭。
	ReapIdle(ctx context.Context, maxIdle time.Duration) (int, error)
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	personaRepo repository.PersonaRepository
	// learner 在未配置 Kafka 时同步执行经验沉淀，可为 nil（仅记录日志）。
	learner kafka.TaskProcessor
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(sessionRepo repository.SessionRepository, personaRepo repository.PersonaRepository, learner kafka.TaskProcessor) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		personaRepo: personaRepo,
		learner:     learner,
	}
}

// GetOrCreateSession 返回活跃会话，若无则新建一条 Active=true 的记录。
func (s *sessionService) GetOrCreateSession(ctx context.Context, userID string, personaID uint) (*model.ChatSession, error) {
	if _, err := s.personaRepo.FindByID(personaID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownPersona
		}
		return nil, fmt.Errorf("failed to load persona: %w", err)
	}

	session, err := s.sessionRepo.FindActive(userID, personaID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	session = &model.ChatSession{
		UserID:    userID,
		PersonaID: personaID,
		Active:    true,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Infow("chat session created", "sessionId", session.ID, "userId", userID, "personaId", personaID)
	return session, nil
}

// AppendMessage 追加消息并递增计数。向已结束的会话追加会被拒绝：
// 会话记录在结束时即被判定，结束后的追加永远不会进入分析。
func (s *sessionService) AppendMessage(ctx context.Context, sessionID uint, role, content string) error {
	session, err := s.sessionRepo.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownSession
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active {
		return ErrSessionEnded
	}
	if err := s.sessionRepo.AppendTurn(sessionID, role, content); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// EndSession 结束会话，归档消息记录并触发经验沉淀。
func (s *sessionService) EndSession(ctx context.Context, sessionID uint) error {
	session, err := s.sessionRepo.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownSession
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active {
		// 已结束：保持幂等，不重复触发沉淀
		return nil
	}

	endedAt := time.Now()
	if err := s.sessionRepo.End(sessionID, endedAt); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	session.Active = false
	session.EndedAt = &endedAt
	log.Infow("chat session ended", "sessionId", sessionID, "messageCount", session.MessageCount)

	// 归档完整消息记录到对象存储，失败只记录日志
	if storage.Enabled() {
		turns, err := s.sessionRepo.ListTurns(sessionID)
		if err != nil {
			log.Errorf("加载会话消息用于归档失败: %v", err)
		} else if err := storage.ArchiveTranscript(ctx, config.Conf.MinIO.BucketName, session, turns); err != nil {
			log.Errorf("归档会话记录失败: sessionId=%d, %v", sessionID, err)
		}
	}

	task := tasks.SessionEndedTask{
		SessionID:   sessionID,
		PersonaID:   session.PersonaID,
		UserID:      session.UserID,
		EndedAtUnix: endedAt.Unix(),
	}
	if kafka.Enabled() {
		if err := kafka.ProduceSessionEndedTask(task); err != nil {
			// 入队失败退化为同步沉淀，避免经验丢失
			log.Errorf("发送会话结束任务到 Kafka 失败，改为同步沉淀: %v", err)
			return s.finalizeInline(ctx, task)
		}
		return nil
	}
	return s.finalizeInline(ctx, task)
}

func (s *sessionService) finalizeInline(ctx context.Context, task tasks.SessionEndedTask) error {
	if s.learner == nil {
		log.Warnf("学习管线未配置，会话 %d 的经验沉淀被跳过", task.SessionID)
		return nil
	}
	if err := s.learner.Process(ctx, task); err != nil {
		return fmt.Errorf("failed to capture session experience: %w", err)
	}
	return nil
}

// ListMessages 返回会话的完整消息记录。
func (s *sessionService) ListMessages(ctx context.Context, sessionID uint) ([]model.TurnRecord, error) {
	if _, err := s.sessionRepo.FindByID(sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	turns, err := s.sessionRepo.ListTurns(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

// ReapIdle 回收空闲超时的活跃会话，逐个走正常的 EndSession 流程。
func (s *sessionService) ReapIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxIdle)
	idle, err := s.sessionRepo.FindIdleActive(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find idle sessions: %w", err)
	}
	reaped := 0
	for _, session := range idle {
		if err := s.EndSession(ctx, session.ID); err != nil {
			log.Errorf("回收空闲会话失败: sessionId=%d, %v", session.ID, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		log.Infof("已回收 %d 个空闲会话", reaped)
	}
	return reaped, nil
}
