package service

import (
	"context"
	"errors"
	"testing"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newExperienceService(t *testing.T) (ExperienceService, *gorm.DB, *model.Persona) {
	t.Helper()
	db := newTestDB(t)
	persona := seedPersona(t, db, "the_mentalist")
	svc := NewExperienceService(
		db,
		repository.NewPersonaRepository(db),
		repository.NewOutcomeRepository(db),
		NewMetricService(repository.NewMetricRepository(db)),
		nil,
	)
	return svc, db, persona
}

func TestCaptureExperience_SuccessfulSession(t *testing.T) {
	svc, db, persona := newExperienceService(t)

	analysis := &model.TranscriptAnalysis{
		Sentiment:     0.8,
		Technique:     "card_force",
		WhatWorked:    "confident patter",
		LessonLearned: "smile more",
		KeyMoments:    []string{"wow, that is my card"},
		Success:       true,
		AnalyzedBy:    model.AnalyzedByExternal,
	}

	outcome, err := svc.CaptureExperience(context.Background(), persona.ID, "user-1", 11, analysis, 6, 300)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, model.ReactionAmazed, outcome.Reaction)
	assert.Equal(t, "card_force", outcome.Technique)
	assert.Equal(t, 6, outcome.TurnCount)
	assert.Equal(t, model.AnalyzedByExternal, outcome.AnalyzedBy)
	assert.Equal(t, []string{"wow, that is my card"}, outcome.KeyMomentList())

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	// 基础 10 + amazed 20 + 教训 5，6 轮无加成
	assert.Equal(t, 35, reloaded.ExperienceLevel)
	assert.Equal(t, 1, reloaded.TotalSessions)
	assert.NotNil(t, reloaded.LastSessionAt)
	assert.Contains(t, reloaded.TechniqueSet(), "card_force")

	var metric model.TechniqueMetric
	require.NoError(t, db.Where("persona_id = ? AND technique = ?", persona.ID, "card_force").First(&metric).Error)
	assert.Equal(t, 1, metric.TotalAttempts)
	assert.Equal(t, 1, metric.SuccessCount)
	assert.Equal(t, 1.0, metric.SuccessRate)
	assert.Equal(t, 5.0, metric.AverageRating)
}

func TestCaptureExperience_SkepticalSessionUpdatesMetrics(t *testing.T) {
	svc, db, persona := newExperienceService(t)
	ctx := context.Background()

	_, err := svc.CaptureExperience(ctx, persona.ID, "user-1", 11, &model.TranscriptAnalysis{
		Sentiment:     0.8,
		Technique:     "card_force",
		LessonLearned: "smile more",
		AnalyzedBy:    model.AnalyzedByExternal,
	}, 6, 300)
	require.NoError(t, err)

	outcome, err := svc.CaptureExperience(ctx, persona.ID, "user-2", 12, &model.TranscriptAnalysis{
		Sentiment:  -0.5,
		Technique:  "card_force",
		WhatFailed: "reveal came too early",
		AnalyzedBy: model.AnalyzedByExternal,
	}, 4, 120)
	require.NoError(t, err)
	assert.Equal(t, model.ReactionSkeptical, outcome.Reaction)

	var metric model.TechniqueMetric
	require.NoError(t, db.Where("persona_id = ? AND technique = ?", persona.ID, "card_force").First(&metric).Error)
	assert.Equal(t, 2, metric.TotalAttempts)
	assert.Equal(t, 1, metric.SuccessCount)
	assert.Equal(t, 0.5, metric.SuccessRate)
	assert.Equal(t, 3.5, metric.AverageRating)

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	// 第二场：基础 10，skeptical 无加成、无教训
	assert.Equal(t, 45, reloaded.ExperienceLevel)
	assert.Equal(t, 2, reloaded.TotalSessions)
	// 失败的技巧不进入已掌握列表
	assert.Len(t, reloaded.TechniqueSet(), 1)
}

func TestCaptureExperience_LongSessionTurnBonusCapped(t *testing.T) {
	svc, db, persona := newExperienceService(t)

	_, err := svc.CaptureExperience(context.Background(), persona.ID, "user-1", 11, &model.TranscriptAnalysis{
		Sentiment:  0.0,
		Technique:  model.DefaultTechnique,
		AnalyzedBy: model.AnalyzedByHeuristic,
	}, 40, 1800)
	require.NoError(t, err)

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	// 基础 10 + neutral 5 + 轮次加成封顶 10
	assert.Equal(t, 25, reloaded.ExperienceLevel)
}

func TestCaptureExperience_UnknownPersona(t *testing.T) {
	svc, _, _ := newExperienceService(t)

	_, err := svc.CaptureExperience(context.Background(), 999, "user-1", 11, &model.TranscriptAnalysis{
		Sentiment:  0.5,
		Technique:  model.DefaultTechnique,
		AnalyzedBy: model.AnalyzedByHeuristic,
	}, 2, 60)
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestCaptureExperience_LearningDisabledSkips(t *testing.T) {
	svc, db, persona := newExperienceService(t)
	require.NoError(t, db.Model(persona).Update("learning_enabled", false).Error)

	outcome, err := svc.CaptureExperience(context.Background(), persona.ID, "user-1", 11, &model.TranscriptAnalysis{
		Sentiment:  0.9,
		Technique:  "card_force",
		AnalyzedBy: model.AnalyzedByExternal,
	}, 6, 300)
	require.NoError(t, err)
	assert.Nil(t, outcome)

	var count int64
	require.NoError(t, db.Model(&model.Outcome{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	assert.Equal(t, 0, reloaded.TotalSessions)
}

// failingMetricService 使事务的最后一步失败，用于验证整体回滚。
type failingMetricService struct{}

func (f *failingMetricService) RecordAttempt(tx *gorm.DB, personaID uint, technique string, success bool, rating float64) (*model.TechniqueMetric, error) {
	return nil, errors.New("metric store unavailable")
}

func (f *failingMetricService) TopTechniques(ctx context.Context, personaID uint, limit int) ([]model.TechniqueMetric, error) {
	return nil, nil
}

func TestCaptureExperience_RollsBackAsOneUnit(t *testing.T) {
	db := newTestDB(t)
	persona := seedPersona(t, db, "the_mentalist")
	svc := NewExperienceService(
		db,
		repository.NewPersonaRepository(db),
		repository.NewOutcomeRepository(db),
		&failingMetricService{},
		nil,
	)

	_, err := svc.CaptureExperience(context.Background(), persona.ID, "user-1", 11, &model.TranscriptAnalysis{
		Sentiment:     0.8,
		Technique:     "card_force",
		LessonLearned: "smile more",
		AnalyzedBy:    model.AnalyzedByExternal,
	}, 6, 300)
	require.Error(t, err)

	// 事务回滚后不允许留下任何部分生效的状态
	var outcomes int64
	require.NoError(t, db.Model(&model.Outcome{}).Count(&outcomes).Error)
	assert.EqualValues(t, 0, outcomes)

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	assert.Equal(t, 0, reloaded.TotalSessions)
	assert.Equal(t, 0, reloaded.ExperienceLevel)
	assert.Nil(t, reloaded.LastSessionAt)
}

func TestCaptureExperience_KnownTechniquesDeduplicated(t *testing.T) {
	svc, db, persona := newExperienceService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.CaptureExperience(ctx, persona.ID, "user-1", uint(20+i), &model.TranscriptAnalysis{
			Sentiment:  0.8,
			Technique:  "card_force",
			AnalyzedBy: model.AnalyzedByExternal,
		}, 6, 300)
		require.NoError(t, err)
	}

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	assert.Equal(t, []string{"card_force"}, reloaded.TechniqueSet())
}
