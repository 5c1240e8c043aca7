package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"
	"mentalist-go/internal/service"
	"mentalist-go/pkg/database"
	"mentalist-go/pkg/log"
	"mentalist-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// newLearnerHarness 搭一条端到端的同步学习链路：内存库 + 启发式判定。
func newLearnerHarness(t *testing.T) (*Learner, *gorm.DB, *model.Persona) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	persona := &model.Persona{
		Name:            "the_mentalist",
		BasePrompt:      "You are The Mentalist.",
		LearningEnabled: true,
	}
	require.NoError(t, db.Create(persona).Error)

	sessionRepo := repository.NewSessionRepository(db)
	experienceService := service.NewExperienceService(
		db,
		repository.NewPersonaRepository(db),
		repository.NewOutcomeRepository(db),
		service.NewMetricService(repository.NewMetricRepository(db)),
		nil,
	)
	learner := NewLearner(sessionRepo, service.NewAnalysisService(nil), experienceService)
	return learner, db, persona
}

func endedSession(t *testing.T, db *gorm.DB, persona *model.Persona, turns []model.TurnRecord) *model.ChatSession {
	t.Helper()
	started := time.Now().Add(-5 * time.Minute)
	ended := time.Now()
	session := &model.ChatSession{
		UserID:    "user-1",
		PersonaID: persona.ID,
		Active:    false,
		StartedAt: started,
		EndedAt:   &ended,
	}
	require.NoError(t, db.Create(session).Error)
	for i := range turns {
		turns[i].SessionID = session.ID
		require.NoError(t, db.Create(&turns[i]).Error)
	}
	return session
}

func taskFor(session *model.ChatSession) tasks.SessionEndedTask {
	task := tasks.SessionEndedTask{
		SessionID: session.ID,
		PersonaID: session.PersonaID,
		UserID:    session.UserID,
	}
	if session.EndedAt != nil {
		task.EndedAtUnix = session.EndedAt.Unix()
	}
	return task
}

func taskOfID(id uint) tasks.SessionEndedTask {
	return tasks.SessionEndedTask{SessionID: id}
}

func TestProcess_CapturesExperienceFromTranscript(t *testing.T) {
	learner, db, persona := newLearnerHarness(t)
	session := endedSession(t, db, persona, []model.TurnRecord{
		{Role: model.RoleSystem, Content: "persona context"},
		{Role: model.RoleAgent, Content: "Think of a card."},
		{Role: model.RoleUser, Content: "WOW, that is incredible!"},
	})

	require.NoError(t, learner.Process(context.Background(), taskFor(session)))

	var outcome model.Outcome
	require.NoError(t, db.Where("session_id = ?", session.ID).First(&outcome).Error)
	// 启发式命中正面词表：sentiment 0.7 → amazed
	assert.Equal(t, model.ReactionAmazed, outcome.Reaction)
	assert.Equal(t, model.AnalyzedByHeuristic, outcome.AnalyzedBy)
	// system 注入不计入轮次
	assert.Equal(t, 2, outcome.TurnCount)
	assert.InDelta(t, 300, outcome.DurationSeconds, 2)

	var reloaded model.Persona
	require.NoError(t, db.First(&reloaded, persona.ID).Error)
	assert.Equal(t, 1, reloaded.TotalSessions)
	assert.Greater(t, reloaded.ExperienceLevel, 0)
}

func TestProcess_UnknownSession(t *testing.T) {
	learner, _, _ := newLearnerHarness(t)

	err := learner.Process(context.Background(), taskOfID(42))
	assert.ErrorIs(t, err, service.ErrUnknownSession)
}

func TestProcess_ActiveSessionRejected(t *testing.T) {
	learner, db, persona := newLearnerHarness(t)
	session := &model.ChatSession{UserID: "user-1", PersonaID: persona.ID, Active: true}
	require.NoError(t, db.Create(session).Error)

	err := learner.Process(context.Background(), taskFor(session))
	assert.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&model.Outcome{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
