package service

import (
	"context"
	"errors"
	"testing"

	"mentalist-go/internal/model"
	"mentalist-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionForSentiment(t *testing.T) {
	cases := []struct {
		sentiment float64
		want      string
	}{
		{1.0, model.ReactionAmazed},
		{0.7, model.ReactionAmazed}, // 边界值落入更高档位
		{0.69, model.ReactionEngaged},
		{0.3, model.ReactionEngaged},
		{0.29, model.ReactionNeutral},
		{0.0, model.ReactionNeutral},
		{-0.3, model.ReactionNeutral},
		{-0.31, model.ReactionSkeptical},
		{-0.7, model.ReactionSkeptical},
		{-0.71, model.ReactionConfused},
		{-1.0, model.ReactionConfused},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ReactionForSentiment(tc.sentiment), "sentiment=%v", tc.sentiment)
	}
}

func TestRatingForReaction(t *testing.T) {
	assert.Equal(t, 5.0, RatingForReaction(model.ReactionAmazed))
	assert.Equal(t, 4.0, RatingForReaction(model.ReactionEngaged))
	assert.Equal(t, 3.0, RatingForReaction(model.ReactionNeutral))
	assert.Equal(t, 2.0, RatingForReaction(model.ReactionSkeptical))
	assert.Equal(t, 1.0, RatingForReaction(model.ReactionConfused))
}

func TestHeuristicAnalysis_PositiveLexicon(t *testing.T) {
	turns := []model.TurnRecord{
		{Role: model.RoleAgent, Content: "Pick a card."},
		{Role: model.RoleUser, Content: "WOW, that is my card!"},
	}
	analysis := HeuristicAnalysis(turns)
	assert.Equal(t, 0.7, analysis.Sentiment)
	assert.True(t, analysis.Success)
	assert.Equal(t, model.DefaultTechnique, analysis.Technique)
	assert.Equal(t, model.AnalyzedByHeuristic, analysis.AnalyzedBy)
}

func TestHeuristicAnalysis_NoMatch(t *testing.T) {
	turns := []model.TurnRecord{
		{Role: model.RoleUser, Content: "ok, sure"},
		// agent 消息中的正面词不计入
		{Role: model.RoleAgent, Content: "Amazing, watch closely."},
	}
	analysis := HeuristicAnalysis(turns)
	assert.Equal(t, 0.5, analysis.Sentiment)
	assert.False(t, analysis.Success)
}

func TestHeuristicAnalysis_EmptyTranscript(t *testing.T) {
	analysis := HeuristicAnalysis(nil)
	assert.Equal(t, 0.5, analysis.Sentiment)
	assert.Equal(t, model.AnalyzedByHeuristic, analysis.AnalyzedBy)
}

// fakeLLMClient 让测试控制外部分析路径的行为。
type fakeLLMClient struct {
	analysis *llm.AnalysisResult
	err      error
}

func (f *fakeLLMClient) StreamChatMessages(ctx context.Context, messages []llm.Message, writer llm.MessageWriter) error {
	return errors.New("not used in analysis tests")
}

func (f *fakeLLMClient) AnalyzeTranscript(ctx context.Context, systemText, transcriptText string) (*llm.AnalysisResult, error) {
	return f.analysis, f.err
}

func TestAnalyze_ExternalPath(t *testing.T) {
	svc := NewAnalysisService(&fakeLLMClient{analysis: &llm.AnalysisResult{
		Sentiment:     0.8,
		Technique:     "card_force",
		LessonLearned: "smile more",
		Success:       true,
	}})

	analysis := svc.Analyze(context.Background(), nil)
	require.NotNil(t, analysis)
	assert.Equal(t, model.AnalyzedByExternal, analysis.AnalyzedBy)
	assert.Equal(t, "card_force", analysis.Technique)
	assert.Equal(t, 0.8, analysis.Sentiment)
}

func TestAnalyze_ExternalOutputIsNormalized(t *testing.T) {
	svc := NewAnalysisService(&fakeLLMClient{analysis: &llm.AnalysisResult{
		Sentiment: 3.5,
		Technique: "  ",
	}})

	analysis := svc.Analyze(context.Background(), nil)
	assert.Equal(t, 1.0, analysis.Sentiment)
	assert.Equal(t, model.DefaultTechnique, analysis.Technique)
}

func TestAnalyze_FallsBackOnError(t *testing.T) {
	svc := NewAnalysisService(&fakeLLMClient{err: errors.New("provider down")})
	turns := []model.TurnRecord{
		{Role: model.RoleUser, Content: "that was incredible"},
	}

	analysis := svc.Analyze(context.Background(), turns)
	require.NotNil(t, analysis)
	assert.Equal(t, model.AnalyzedByHeuristic, analysis.AnalyzedBy)
	assert.Equal(t, 0.7, analysis.Sentiment)
}

func TestAnalyze_NilClientUsesHeuristic(t *testing.T) {
	svc := NewAnalysisService(nil)
	analysis := svc.Analyze(context.Background(), nil)
	assert.Equal(t, model.AnalyzedByHeuristic, analysis.AnalyzedBy)
}
