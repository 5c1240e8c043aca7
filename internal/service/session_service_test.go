package service

import (
	"context"
	"testing"
	"time"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"
	"mentalist-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLearner 记录收到的会话结束任务。
type recordingLearner struct {
	tasks []tasks.SessionEndedTask
}

func (l *recordingLearner) Process(ctx context.Context, task tasks.SessionEndedTask) error {
	l.tasks = append(l.tasks, task)
	return nil
}

func newSessionService(t *testing.T, learner *recordingLearner) (SessionService, *model.Persona) {
	t.Helper()
	db := newTestDB(t)
	persona := seedPersona(t, db, "the_mentalist")
	svc := NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewPersonaRepository(db),
		learner,
	)
	return svc, persona
}

func TestGetOrCreateSession_ReusesActiveSession(t *testing.T) {
	svc, persona := newSessionService(t, &recordingLearner{})
	ctx := context.Background()

	first, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	assert.True(t, first.Active)

	second, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateSession_NewAfterEnd(t *testing.T) {
	svc, persona := newSessionService(t, &recordingLearner{})
	ctx := context.Background()

	first, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, first.ID))

	second, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestGetOrCreateSession_UnknownPersona(t *testing.T) {
	svc, _ := newSessionService(t, &recordingLearner{})

	_, err := svc.GetOrCreateSession(context.Background(), "user-1", 999)
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestAppendMessage_TracksCountAndOrder(t *testing.T) {
	svc, persona := newSessionService(t, &recordingLearner{})
	ctx := context.Background()

	session, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(ctx, session.ID, model.RoleUser, "hello"))
	require.NoError(t, svc.AppendMessage(ctx, session.ID, model.RoleAgent, "welcome"))
	require.NoError(t, svc.AppendMessage(ctx, session.ID, model.RoleUser, "show me a trick"))

	turns, err := svc.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "welcome", turns[1].Content)
	assert.Equal(t, "show me a trick", turns[2].Content)

	refreshed, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed.MessageCount)
}

func TestAppendMessage_UnknownSession(t *testing.T) {
	svc, _ := newSessionService(t, &recordingLearner{})

	err := svc.AppendMessage(context.Background(), 42, model.RoleUser, "anyone there?")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestAppendMessage_AfterEndRejected(t *testing.T) {
	svc, persona := newSessionService(t, &recordingLearner{})
	ctx := context.Background()

	session, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, session.ID))

	err = svc.AppendMessage(ctx, session.ID, model.RoleUser, "one more thing")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestEndSession_TriggersInlineLearning(t *testing.T) {
	learner := &recordingLearner{}
	svc, persona := newSessionService(t, learner)
	ctx := context.Background()

	session, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, session.ID))

	require.Len(t, learner.tasks, 1)
	assert.Equal(t, session.ID, learner.tasks[0].SessionID)
	assert.Equal(t, persona.ID, learner.tasks[0].PersonaID)
	assert.Equal(t, "user-1", learner.tasks[0].UserID)
}

func TestEndSession_Idempotent(t *testing.T) {
	learner := &recordingLearner{}
	svc, persona := newSessionService(t, learner)
	ctx := context.Background()

	session, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, session.ID))
	require.NoError(t, svc.EndSession(ctx, session.ID))

	// 第二次 End 不应再次触发沉淀
	assert.Len(t, learner.tasks, 1)
}

func TestEndSession_UnknownSession(t *testing.T) {
	svc, _ := newSessionService(t, &recordingLearner{})

	err := svc.EndSession(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestEndSession_NilLearnerSkipsQuietly(t *testing.T) {
	db := newTestDB(t)
	persona := seedPersona(t, db, "the_mentalist")
	svc := NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewPersonaRepository(db),
		nil,
	)
	ctx := context.Background()

	session, err := svc.GetOrCreateSession(ctx, "user-1", persona.ID)
	require.NoError(t, err)
	assert.NoError(t, svc.EndSession(ctx, session.ID))
}

func TestListMessages_UnknownSession(t *testing.T) {
	svc, _ := newSessionService(t, &recordingLearner{})

	_, err := svc.ListMessages(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestReapIdle_EndsStaleSessionsOnly(t *testing.T) {
	db := newTestDB(t)
	persona := seedPersona(t, db, "the_mentalist")
	learner := &recordingLearner{}
	sessionRepo := repository.NewSessionRepository(db)
	svc := NewSessionService(sessionRepo, repository.NewPersonaRepository(db), learner)
	ctx := context.Background()

	stale, err := svc.GetOrCreateSession(ctx, "user-stale", persona.ID)
	require.NoError(t, err)
	// 把会话开始时间拨回过去，且不追加任何消息
	require.NoError(t, db.Model(stale).
		UpdateColumn("started_at", time.Now().Add(-2*time.Hour)).Error)

	fresh, err := svc.GetOrCreateSession(ctx, "user-fresh", persona.ID)
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(ctx, fresh.ID, model.RoleUser, "hi"))

	reaped, err := svc.ReapIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	var reloaded model.ChatSession
	require.NoError(t, db.First(&reloaded, stale.ID).Error)
	assert.False(t, reloaded.Active)

	require.NoError(t, db.First(&reloaded, fresh.ID).Error)
	assert.True(t, reloaded.Active)
}
