// Package pipeline 定义了会话结束后经验沉淀的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"mentalist-go/internal/repository"
	"mentalist-go/internal/service"
	"mentalist-go/pkg/log"
	"mentalist-go/pkg/tasks"

	"gorm.io/gorm"
)

// Learner 消费会话结束任务：读取完整记录、判定、沉淀经验。
// 它实现 kafka.TaskProcessor，也可以在未配置 Kafka 时被同步调用。
type Learner struct {
	sessionRepo       repository.SessionRepository
	analysisService   service.AnalysisService
	experienceService service.ExperienceService
}

// NewLearner 创建一个新的 Learner 实例。
func NewLearner(sessionRepo repository.SessionRepository, analysisService service.AnalysisService,
	experienceService service.ExperienceService) *Learner {
	return &Learner{
		sessionRepo:       sessionRepo,
		analysisService:   analysisService,
		experienceService: experienceService,
	}
}

// Process 处理一个会话结束任务。判定环节永不失败（内置启发式兜底），
// 经验沉淀失败时返回错误交由队列重试。
func (l *Learner) Process(ctx context.Context, task tasks.SessionEndedTask) error {
	session, err := l.sessionRepo.FindByID(task.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return service.ErrUnknownSession
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.Active {
		return fmt.Errorf("session %d is still active", task.SessionID)
	}

	turns, err := l.sessionRepo.ListTurns(task.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	analysis := l.analysisService.Analyze(ctx, turns)
	log.Infow("transcript analyzed",
		"sessionId", task.SessionID,
		"sentiment", analysis.Sentiment,
		"technique", analysis.Technique,
		"analyzedBy", analysis.AnalyzedBy,
	)

	durationSeconds := 0
	if session.EndedAt != nil {
		durationSeconds = int(session.EndedAt.Sub(session.StartedAt).Seconds())
	}

	// 判定的轮次数只统计 user/agent 消息，system 注入不计入
	turnCount := 0
	for _, turn := range turns {
		if turn.Role != "system" {
			turnCount++
		}
	}

	_, err = l.experienceService.CaptureExperience(ctx, session.PersonaID, session.UserID,
		session.ID, analysis, turnCount, durationSeconds)
	return err
}
