package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mentalist-go/internal/repository"
	"mentalist-go/pkg/log"

	"gorm.io/gorm"
)

// ContextService 定义了下一次模型调用的指令文本拼装接口。
// 纯组合逻辑：除 4.5/4.6 已执行的读取外没有额外 I/O。
type ContextService interface {
	// BuildContext 拼装人格基础提示、综合经验简报、技巧排行与关系记忆。
	// userID 为空时省略关系记忆部分。
	BuildContext(ctx context.Context, personaID uint, userID string) (string, error)
}

type contextService struct {
	personaRepo      repository.PersonaRepository
	knowledgeService KnowledgeService
	memoryService    MemoryService
	metricService    MetricService
	windowSize       int
	// cache 可为 nil；TTL 为 0 时不写缓存
	cache    repository.BriefingCache
	cacheTTL time.Duration
}

// NewContextService 创建一个新的 ContextService 实例。
func NewContextService(personaRepo repository.PersonaRepository, knowledgeService KnowledgeService,
	memoryService MemoryService, metricService MetricService, windowSize int,
	cache repository.BriefingCache, cacheTTL time.Duration) ContextService {
	return &contextService{
		personaRepo:      personaRepo,
		knowledgeService: knowledgeService,
		memoryService:    memoryService,
		metricService:    metricService,
		windowSize:       windowSize,
		cache:            cache,
		cacheTTL:         cacheTTL,
	}
}

// BuildContext 组合出一整块指令文本。命中缓存时直接返回缓存内容。
func (s *contextService) BuildContext(ctx context.Context, personaID uint, userID string) (string, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		if text, ok := s.cache.GetContext(ctx, personaID, userID); ok {
			return text, nil
		}
	}

	persona, err := s.personaRepo.FindByID(personaID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUnknownPersona
		}
		return "", fmt.Errorf("failed to load persona: %w", err)
	}

	var b strings.Builder
	b.WriteString(persona.BasePrompt)
	b.WriteString("\n\n")
	if persona.KnowledgeBase != "" {
		b.WriteString(persona.KnowledgeBase)
		b.WriteString("\n\n")
	}

	briefing, err := s.knowledgeService.SynthesizeLearnings(ctx, personaID, s.windowSize)
	if err != nil {
		return "", err
	}
	b.WriteString(briefing)
	b.WriteString("\n")

	metrics, err := s.metricService.TopTechniques(ctx, personaID, 5)
	if err != nil {
		return "", err
	}
	if len(metrics) > 0 {
		b.WriteString("Technique ranking:\n")
		for i, m := range metrics {
			fmt.Fprintf(&b, "%d. %s: %.0f%% success rate, %.1f avg rating (%d attempts)\n",
				i+1, m.Technique, m.SuccessRate*100, m.AverageRating, m.TotalAttempts)
		}
		b.WriteString("\n")
	}

	if userID != "" {
		memory, err := s.memoryService.GenerateMemorySummary(ctx, userID, personaID)
		if err != nil {
			return "", err
		}
		b.WriteString(memory)
	}

	text := b.String()
	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetContext(ctx, personaID, userID, text, s.cacheTTL); err != nil {
			log.Warnf("写入上下文缓存失败: %v", err)
		}
	}
	return text, nil
}
