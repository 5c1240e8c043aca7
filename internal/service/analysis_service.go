package service

import (
	"context"
	"fmt"
	"strings"

	"mentalist-go/internal/model"
	"mentalist-go/pkg/llm"
	"mentalist-go/pkg/log"
)

// analysisSystemPrompt 要求模型对会话记录输出固定结构的 JSON 判定。
const analysisSystemPrompt = `You are reviewing the transcript of a mentalism performance between a performer (agent) and a spectator (user).
Judge how the performance landed and reply with ONLY a JSON object in this exact shape:
{
  "sentiment": <number between -1.0 and 1.0>,
  "technique_used": "<short snake_case name of the main technique, or general_interaction>",
  "what_worked": "<one sentence, may be empty>",
  "what_did_not_work": "<one sentence, may be empty>",
  "lesson_learned": "<one sentence, may be empty>",
  "key_moments": ["<short quote or moment>", ...],
  "mentalist_success": <true|false>
}`

// positiveLexicon 是兜底启发式扫描用户消息时使用的强正面词表。
var positiveLexicon = []string{
	"amazing", "incredible", "wow", "unbelievable", "mind blown", "how did you",
}

// AnalysisService 定义了会话记录判定的接口。
// Analyze 永远不会失败：外部分析不可用时退化为确定性的本地启发式。
type AnalysisService interface {
	Analyze(ctx context.Context, turns []model.TurnRecord) *model.TranscriptAnalysis
}

type analysisService struct {
	llmClient llm.Client
}

// NewAnalysisService 创建一个新的 AnalysisService 实例。llmClient 可为 nil，
// 此时全部判定走启发式路径。
func NewAnalysisService(llmClient llm.Client) AnalysisService {
	return &analysisService{llmClient: llmClient}
}

// Analyze 优先调用外部模型做结构化判定，失败或输出不可解析时使用启发式兜底。
func (s *analysisService) Analyze(ctx context.Context, turns []model.TurnRecord) *model.TranscriptAnalysis {
	if s.llmClient != nil {
		result, err := s.llmClient.AnalyzeTranscript(ctx, analysisSystemPrompt, RenderTranscript(turns))
		if err == nil {
			return s.fromExternal(result)
		}
		// 分析不可用只在本地恢复，不向调用方传播
		log.Warnf("外部分析调用失败，使用启发式兜底: %v", err)
	}
	return HeuristicAnalysis(turns)
}

// fromExternal 规整外部判定：sentiment 裁剪到 [-1,1]，空技巧名回退到默认值。
func (s *analysisService) fromExternal(result *llm.AnalysisResult) *model.TranscriptAnalysis {
	sentiment := result.Sentiment
	if sentiment > 1.0 {
		sentiment = 1.0
	}
	if sentiment < -1.0 {
		sentiment = -1.0
	}
	technique := strings.TrimSpace(result.Technique)
	if technique == "" {
		technique = model.DefaultTechnique
	}
	return &model.TranscriptAnalysis{
		Sentiment:     sentiment,
		Technique:     technique,
		WhatWorked:    result.WhatWorked,
		WhatFailed:    result.WhatFailed,
		LessonLearned: result.LessonLearned,
		KeyMoments:    result.KeyMoments,
		Success:       result.Success,
		AnalyzedBy:    model.AnalyzedByExternal,
	}
}

// HeuristicAnalysis 是纯文本扫描的确定性兜底，没有任何外部依赖。
// 用户消息中出现强正面词时 sentiment 取 0.7，否则取 0.5。
func HeuristicAnalysis(turns []model.TurnRecord) *model.TranscriptAnalysis {
	sentiment := 0.5
	for _, turn := range turns {
		if turn.Role != model.RoleUser {
			continue
		}
		content := strings.ToLower(turn.Content)
		for _, word := range positiveLexicon {
			if strings.Contains(content, word) {
				sentiment = 0.7
				break
			}
		}
		if sentiment >= 0.7 {
			break
		}
	}
	return &model.TranscriptAnalysis{
		Sentiment:  sentiment,
		Technique:  model.DefaultTechnique,
		Success:    sentiment >= 0.7,
		AnalyzedBy: model.AnalyzedByHeuristic,
	}
}

// RenderTranscript 将消息记录渲染成分析输入的纯文本形式。
func RenderTranscript(turns []model.TurnRecord) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
	}
	return b.String()
}

// ReactionForSentiment 把 sentiment 确定性映射到五档观众反应。
// 区间按优先级自上而下匹配，边界值落入更高的档位。
func ReactionForSentiment(sentiment float64) string {
	switch {
	case sentiment >= 0.7:
		return model.ReactionAmazed
	case sentiment >= 0.3:
		return model.ReactionEngaged
	case sentiment >= -0.3:
		return model.ReactionNeutral
	case sentiment >= -0.7:
		return model.ReactionSkeptical
	default:
		return model.ReactionConfused
	}
}

// RatingForReaction 返回某档反应对应的固定评分。
func RatingForReaction(reaction string) float64 {
	switch reaction {
	case model.ReactionAmazed:
		return 5.0
	case model.ReactionEngaged:
		return 4.0
	case model.ReactionNeutral:
		return 3.0
	case model.ReactionSkeptical:
		return 2.0
	default:
		return 1.0
	}
}

// ReactionLabel 把反应档位转成用户记忆摘要里的口吻描述。
func ReactionLabel(reaction string) string {
	switch reaction {
	case model.ReactionAmazed:
		return "consistently amazed"
	case model.ReactionEngaged:
		return "warmly engaged"
	case model.ReactionNeutral:
		return "politely neutral"
	case model.ReactionSkeptical:
		return "noticeably skeptical"
	default:
		return "mostly confused"
	}
}
