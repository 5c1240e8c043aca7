package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"
)

// NoExperienceBriefing 是没有任何历史经验时返回的固定提示文本。
const NoExperienceBriefing = "No accumulated experience yet. Trust the persona's core instincts and start building a history."

// KnowledgeService 定义了经验知识综合的接口。
// 所有派生都是对读取窗口的纯内存计算，没有持久化的中间状态，
// 输出是尽力而为的提示文本，不构成其他组件可依赖的结构化契约。
type KnowledgeService interface {
	// SynthesizeLearnings 读取某人格最近 windowSize 条经验并综合出一段简报文本。
	SynthesizeLearnings(ctx context.Context, personaID uint, windowSize int) (string, error)
}

type knowledgeService struct {
	outcomeRepo repository.OutcomeRepository
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(outcomeRepo repository.OutcomeRepository) KnowledgeService {
	return &knowledgeService{outcomeRepo: outcomeRepo}
}

// SynthesizeLearnings 每次调用都重新生成简报，不在本层缓存。
func (s *knowledgeService) SynthesizeLearnings(ctx context.Context, personaID uint, windowSize int) (string, error) {
	outcomes, err := s.outcomeRepo.FindRecentByPersona(personaID, windowSize)
	if err != nil {
		return "", fmt.Errorf("failed to load recent outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return NoExperienceBriefing, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== ACCUMULATED PERFORMANCE EXPERIENCE (last %d sessions) ===\n", len(outcomes))

	writeTopTechniques(&b, outcomes)
	writeRefinements(&b, outcomes)
	writePreferencePatterns(&b, outcomes)
	writeRecoveryStrategies(&b, outcomes)
	writeTimingInsights(&b, outcomes)

	return b.String(), nil
}

// techniqueGroup 是按技巧分组后的窗口内统计。
type techniqueGroup struct {
	name        string
	attempts    int
	successes   int
	contexts    []string // key moments 里抽出的高频词
	latestLesson string
}

func (g *techniqueGroup) successRate() float64 {
	if g.attempts == 0 {
		return 0
	}
	return float64(g.successes) / float64(g.attempts)
}

// writeTopTechniques 按成功率排名输出前 5 个技巧，附上下文词和最近的教训。
func writeTopTechniques(b *strings.Builder, outcomes []model.Outcome) {
	groups := map[string]*techniqueGroup{}
	order := []string{}
	for _, o := range outcomes {
		g, ok := groups[o.Technique]
		if !ok {
			g = &techniqueGroup{name: o.Technique}
			groups[o.Technique] = g
			order = append(order, o.Technique)
		}
		g.attempts++
		if o.Reaction == model.ReactionAmazed || o.Reaction == model.ReactionEngaged {
			g.successes++
		}
		// 窗口按最近在前排序，第一条非空教训即最近的教训
		if g.latestLesson == "" && o.LessonLearned != "" {
			g.latestLesson = o.LessonLearned
		}
	}
	for _, name := range order {
		g := groups[name]
		var contextText strings.Builder
		for _, o := range outcomes {
			if o.Technique != name {
				continue
			}
			for _, m := range o.KeyMomentList() {
				contextText.WriteString(m)
				contextText.WriteString(" ")
			}
			contextText.WriteString(o.WhatWorked)
			contextText.WriteString(" ")
		}
		g.contexts = frequentWords(contextText.String(), 3)
	}

	ranked := make([]*techniqueGroup, 0, len(groups))
	for _, name := range order {
		ranked = append(ranked, groups[name])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].successRate() != ranked[j].successRate() {
			return ranked[i].successRate() > ranked[j].successRate()
		}
		return ranked[i].attempts > ranked[j].attempts
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	b.WriteString("Top techniques:\n")
	for _, g := range ranked {
		fmt.Fprintf(b, "- %s: %.0f%% success over %d attempt(s)", g.name, g.successRate()*100, g.attempts)
		if len(g.contexts) > 0 {
			fmt.Fprintf(b, "; best contexts: %s", strings.Join(g.contexts, ", "))
		}
		if g.latestLesson != "" {
			fmt.Fprintf(b, "; key insight: %s", g.latestLesson)
		}
		b.WriteString("\n")
	}
}

// writeRefinements 统计 amazed 会话中反复出现的相同教训，输出前 3 条。
func writeRefinements(b *strings.Builder, outcomes []model.Outcome) {
	counts := map[string]int{}
	order := []string{}
	for _, o := range outcomes {
		if o.Reaction != model.ReactionAmazed || o.LessonLearned == "" {
			continue
		}
		if _, ok := counts[o.LessonLearned]; !ok {
			order = append(order, o.LessonLearned)
		}
		counts[o.LessonLearned]++
	}
	if len(counts) == 0 {
		return
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 3 {
		order = order[:3]
	}

	b.WriteString("Refined moves:\n")
	for _, lesson := range order {
		words := strings.Fields(lesson)
		if len(words) > 3 {
			words = words[:3]
		}
		fmt.Fprintf(b, "- %s: \"%s\" (validated %d time(s))\n", strings.Join(words, " "), lesson, counts[lesson])
	}
}

// writePreferencePatterns 应用三条固定启发式，都不触发时输出基线说明。
func writePreferencePatterns(b *strings.Builder, outcomes []model.Outcome) {
	total := float64(len(outcomes))
	quick, longForm, positive := 0, 0, 0
	for _, o := range outcomes {
		if o.TurnCount <= 5 && o.Reaction == model.ReactionAmazed {
			quick++
		}
		if o.TurnCount > 15 {
			longForm++
		}
		if o.Sentiment > 0.5 {
			positive++
		}
	}

	b.WriteString("Audience preference patterns:\n")
	triggered := false
	if pct := float64(quick) / total; pct > 0.20 {
		fmt.Fprintf(b, "- Quick engagement lands: %.0f%% of sessions ended amazed within 5 turns\n", pct*100)
		triggered = true
	}
	if pct := float64(longForm) / total; pct > 0.30 {
		fmt.Fprintf(b, "- Long-form preference: %.0f%% of sessions ran past 15 turns\n", pct*100)
		triggered = true
	}
	if pct := float64(positive) / total; pct > 0.60 {
		fmt.Fprintf(b, "- Generally positive audience: %.0f%% of sessions above 0.5 sentiment\n", pct*100)
		triggered = true
	}
	if !triggered {
		b.WriteString("- Still gathering data on audience preferences\n")
	}
}

// writeRecoveryStrategies 输出转场和怀疑观众两类恢复策略，都不适用时输出基线。
func writeRecoveryStrategies(b *strings.Builder, outcomes []model.Outcome) {
	total := float64(len(outcomes))
	recovered := 0
	for _, o := range outcomes {
		if o.WhatWorked != "" && o.WhatFailed != "" &&
			(o.Reaction == model.ReactionEngaged || o.Reaction == model.ReactionNeutral) {
			recovered++
		}
	}
	// 相邻对扫描：窗口最近在前，时间上 skeptical 之后紧跟非 skeptical 记为一次转化
	conversions := 0
	for i := 1; i < len(outcomes); i++ {
		if outcomes[i].Reaction == model.ReactionSkeptical && outcomes[i-1].Reaction != model.ReactionSkeptical {
			conversions++
		}
	}

	b.WriteString("Recovery strategies:\n")
	reported := false
	if recovered > 0 {
		fmt.Fprintf(b, "- Pivot after a misstep: salvaged %.0f%% of sessions into engaged/neutral endings\n",
			float64(recovered)/total*100)
		reported = true
	}
	if conversions > 0 {
		fmt.Fprintf(b, "- Skeptical audience handling: %.0f%% of sessions followed a skeptical one without repeating it\n",
			float64(conversions)/total*100)
		reported = true
	}
	if !reported {
		b.WriteString("- No recovery patterns observed yet; default to slowing down and re-reading the room\n")
	}
}

// 时段划分：morning 5-11 点、afternoon 12-17 点，其余归 evening。
func timeBucket(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// writeTimingInsights 对样本数大于 3 且平均情绪高于 0.6 的时段输出洞察，最多 3 条。
func writeTimingInsights(b *strings.Builder, outcomes []model.Outcome) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, o := range outcomes {
		bucket := timeBucket(o.CreatedAt.Hour())
		sums[bucket] += o.Sentiment
		counts[bucket]++
	}

	b.WriteString("Timing insights:\n")
	emitted := 0
	for _, bucket := range []string{"morning", "afternoon", "evening"} {
		if emitted >= 3 {
			break
		}
		n := counts[bucket]
		if n <= 3 {
			continue
		}
		mean := sums[bucket] / float64(n)
		if mean > 0.6 {
			fmt.Fprintf(b, "- %s sessions run hot: average sentiment %.2f over %d sessions\n",
				strings.ToUpper(bucket[:1])+bucket[1:], mean, n)
			emitted++
		}
	}
	if emitted == 0 {
		b.WriteString("- No clear time-of-day effect yet\n")
	}
}

// frequentWords 返回文本中出现频率最高的最多 limit 个长度大于 4 的词。
// 朴素词频统计，只作为提示文本的点缀。
func frequentWords(text string, limit int) []string {
	counts := map[string]int{}
	order := []string{}
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(raw, ".,!?\"'()[]{}:;")
		if len(word) <= 4 {
			continue
		}
		if _, ok := counts[word]; !ok {
			order = append(order, word)
		}
		counts[word]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
