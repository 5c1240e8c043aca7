package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mentalist-go/internal/config"
	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"
	"mentalist-go/pkg/es"
	"mentalist-go/pkg/log"

	"gorm.io/gorm"
)

// ExperienceService 定义了会话经验沉淀的接口。
type ExperienceService interface {
	// CaptureExperience 把一次已结束会话的判定写成 Outcome，并更新人格计数器
	// 与技巧指标。三步在同一个事务内执行：部分生效的状态对后续读取不可见。
	// 人格关闭学习时返回 (nil, nil)。
	CaptureExperience(ctx context.Context, personaID uint, userID string, sessionID uint,
		analysis *model.TranscriptAnalysis, turnCount, durationSeconds int) (*model.Outcome, error)
}

type experienceService struct {
	db            *gorm.DB
	personaRepo   repository.PersonaRepository
	outcomeRepo   repository.OutcomeRepository
	metricService MetricService
	// cache 可为 nil；新经验写入后使上下文缓存失效
	cache repository.BriefingCache
}

// NewExperienceService 创建一个新的 ExperienceService 实例。
func NewExperienceService(db *gorm.DB, personaRepo repository.PersonaRepository,
	outcomeRepo repository.OutcomeRepository, metricService MetricService,
	cache repository.BriefingCache) ExperienceService {
	return &experienceService{
		db:            db,
		personaRepo:   personaRepo,
		outcomeRepo:   outcomeRepo,
		metricService: metricService,
		cache:         cache,
	}
}

// CaptureExperience 在单个事务内完成 Outcome 写入、人格计数器更新和指标更新。
func (s *experienceService) CaptureExperience(ctx context.Context, personaID uint, userID string, sessionID uint,
	analysis *model.TranscriptAnalysis, turnCount, durationSeconds int) (*model.Outcome, error) {

	var outcome *model.Outcome
	skipped := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		persona, err := s.personaRepo.FindByIDForUpdate(tx, personaID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownPersona
			}
			return fmt.Errorf("failed to load persona: %w", err)
		}
		if !persona.LearningEnabled {
			skipped = true
			return nil
		}

		reaction := ReactionForSentiment(analysis.Sentiment)
		keyMoments := ""
		if len(analysis.KeyMoments) > 0 {
			if b, err := json.Marshal(analysis.KeyMoments); err == nil {
				keyMoments = string(b)
			}
		}

		// 1. 写入 Outcome（唯一一次写，之后不再修改）
		outcome = &model.Outcome{
			PersonaID:       personaID,
			UserID:          userID,
			SessionID:       sessionID,
			Sentiment:       analysis.Sentiment,
			Reaction:        reaction,
			Technique:       analysis.Technique,
			WhatWorked:      analysis.WhatWorked,
			WhatFailed:      analysis.WhatFailed,
			LessonLearned:   analysis.LessonLearned,
			TurnCount:       turnCount,
			DurationSeconds: durationSeconds,
			KeyMoments:      keyMoments,
			AnalyzedBy:      analysis.AnalyzedBy,
		}
		if err := s.outcomeRepo.Create(tx, outcome); err != nil {
			return fmt.Errorf("failed to persist outcome: %w", err)
		}

		// 2. 更新人格计数器
		now := time.Now()
		persona.TotalSessions++
		persona.ExperienceLevel += experienceGain(reaction, analysis.LessonLearned, turnCount)
		persona.LastSessionAt = &now
		if reaction == model.ReactionAmazed || reaction == model.ReactionEngaged {
			persona.AddTechnique(analysis.Technique)
		}
		if err := s.personaRepo.UpdateLearningState(tx, persona); err != nil {
			return fmt.Errorf("failed to update persona counters: %w", err)
		}

		// 3. 更新技巧指标
		success := reaction == model.ReactionAmazed || reaction == model.ReactionEngaged
		if _, err := s.metricService.RecordAttempt(tx, personaID, analysis.Technique, success, RatingForReaction(reaction)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		log.Infof("人格 %d 已关闭学习，跳过会话 %d 的经验沉淀", personaID, sessionID)
		return nil, nil
	}

	log.Infow("experience captured",
		"outcomeId", outcome.ID,
		"personaId", personaID,
		"sessionId", sessionID,
		"reaction", outcome.Reaction,
		"technique", outcome.Technique,
		"analyzedBy", outcome.AnalyzedBy,
	)

	// 事务外的尽力而为副作用：索引与缓存失效，失败只记录日志
	if es.Enabled() {
		if err := es.IndexOutcome(ctx, config.Conf.Elasticsearch.IndexName, outcome); err != nil {
			log.Errorf("索引经验记录失败: outcomeId=%d, %v", outcome.ID, err)
		}
	}
	if s.cache != nil {
		if err := s.cache.InvalidatePersona(ctx, personaID); err != nil {
			log.Errorf("使上下文缓存失效失败: personaId=%d, %v", personaID, err)
		}
	}

	return outcome, nil
}

// experienceGain 计算一次会话带来的经验值增量。
// 基础 10 分，反应加成 20/10/5/0/0，沉淀出教训再加 5 分，
// 超过 10 轮的部分每轮 1 分、上限 10 分。
func experienceGain(reaction, lessonLearned string, turnCount int) int {
	gain := 10
	switch reaction {
	case model.ReactionAmazed:
		gain += 20
	case model.ReactionEngaged:
		gain += 10
	case model.ReactionNeutral:
		gain += 5
	}
	if lessonLearned != "" {
		gain += 5
	}
	extra := turnCount - 10
	if extra < 0 {
		extra = 0
	}
	if extra > 10 {
		extra = 10
	}
	return gain + extra
}
