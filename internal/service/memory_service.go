package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mentalist-go/internal/model"
	"mentalist-go/internal/repository"
)

// NewUserBriefing 是 (用户, 人格) 组合没有任何历史时返回的固定提示文本。
const NewUserBriefing = "This is a new spectator. No shared history yet; open gently and start learning their taste."

// MemoryService 定义了针对单个 (用户, 人格) 关系的记忆摘要接口。
type MemoryService interface {
	// GenerateMemorySummary 综合该关系的历史经验生成"我们记得这个人什么"的简报。
	GenerateMemorySummary(ctx context.Context, userID string, personaID uint) (string, error)
}

type memoryService struct {
	outcomeRepo repository.OutcomeRepository
	// recentLimit 是计算情绪均值时读取的最近经验条数
	recentLimit int
}

// NewMemoryService 创建一个新的 MemoryService 实例。recentLimit <= 0 时取 5。
func NewMemoryService(outcomeRepo repository.OutcomeRepository, recentLimit int) MemoryService {
	if recentLimit <= 0 {
		recentLimit = 5
	}
	return &memoryService{outcomeRepo: outcomeRepo, recentLimit: recentLimit}
}

// GenerateMemorySummary 生成关系级简报，零历史时返回新用户提示。
func (s *memoryService) GenerateMemorySummary(ctx context.Context, userID string, personaID uint) (string, error) {
	outcomes, err := s.outcomeRepo.FindRecentByUserAndPersona(userID, personaID, 0)
	if err != nil {
		return "", fmt.Errorf("failed to load user outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return NewUserBriefing, nil
	}

	var b strings.Builder
	b.WriteString("=== WHAT WE REMEMBER ABOUT THIS SPECTATOR ===\n")
	fmt.Fprintf(&b, "Sessions together: %d, last one %s\n",
		len(outcomes), recencyPhrase(daysSince(outcomes[0].CreatedAt)))

	if favorites := favoriteTechniques(outcomes, 3); len(favorites) > 0 {
		fmt.Fprintf(&b, "Favorite topics: %s\n", strings.Join(favorites, ", "))
	}

	// 对最近 recentLimit 条的情绪均值复用反应阈值映射成口吻描述
	recent := outcomes
	if len(recent) > s.recentLimit {
		recent = recent[:s.recentLimit]
	}
	var sum float64
	for _, o := range recent {
		sum += o.Sentiment
	}
	mean := sum / float64(len(recent))
	fmt.Fprintf(&b, "Recent mood: %s (mean sentiment %.2f over last %d)\n",
		ReactionLabel(ReactionForSentiment(mean)), mean, len(recent))

	memorable := 0
	for _, o := range outcomes {
		if memorable >= 3 {
			break
		}
		if o.Reaction != model.ReactionAmazed && o.LessonLearned == "" {
			continue
		}
		if memorable == 0 {
			b.WriteString("Memorable moments:\n")
		}
		line := fmt.Sprintf("- %s, %s", o.Technique, recencyPhrase(daysSince(o.CreatedAt)))
		if o.WhatWorked != "" {
			line += ": " + o.WhatWorked
		}
		b.WriteString(line + "\n")
		memorable++
	}

	return b.String(), nil
}

// daysSince 返回距今的整天数。
func daysSince(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}

func recencyPhrase(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}

// favoriteTechniques 返回出现次数最多的最多 limit 个不同技巧名。
func favoriteTechniques(outcomes []model.Outcome, limit int) []string {
	counts := map[string]int{}
	order := []string{}
	for _, o := range outcomes {
		if _, ok := counts[o.Technique]; !ok {
			order = append(order, o.Technique)
		}
		counts[o.Technique]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
