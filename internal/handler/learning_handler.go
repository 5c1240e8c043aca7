package handler

import (
	"net/http"
	"strconv"

	"mentalist-go/internal/config"
	"mentalist-go/internal/service"
	"mentalist-go/pkg/es"

	"github.com/gin-gonic/gin"
)

// LearningHandler 负责暴露人格学习状态的只读接口。
type LearningHandler struct {
	knowledgeService service.KnowledgeService
	memoryService    service.MemoryService
	metricService    service.MetricService
	contextService   service.ContextService
}

// NewLearningHandler 创建一个新的 LearningHandler。
func NewLearningHandler(knowledgeService service.KnowledgeService, memoryService service.MemoryService,
	metricService service.MetricService, contextService service.ContextService) *LearningHandler {
	return &LearningHandler{
		knowledgeService: knowledgeService,
		memoryService:    memoryService,
		metricService:    metricService,
		contextService:   contextService,
	}
}

// Learnings 返回某人格的综合经验简报。
func (h *LearningHandler) Learnings(c *gin.Context) {
	personaID, ok := parseID(c, "id")
	if !ok {
		return
	}
	windowSize := config.Conf.Learning.WindowSize
	if raw := c.Query("window"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			windowSize = parsed
		}
	}

	briefing, err := h.knowledgeService.SynthesizeLearnings(c.Request.Context(), personaID, windowSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"briefing": briefing})
}

// Metrics 返回某人格的技巧指标排行。
func (h *LearningHandler) Metrics(c *gin.Context) {
	personaID, ok := parseID(c, "id")
	if !ok {
		return
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	metrics, err := h.metricService.TopTechniques(c.Request.Context(), personaID, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, metrics)
}

// Memory 返回某 (用户, 人格) 关系的记忆摘要。
func (h *LearningHandler) Memory(c *gin.Context) {
	personaID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		respondError(c, http.StatusBadRequest, "userId is required")
		return
	}

	summary, err := h.memoryService.GenerateMemorySummary(c.Request.Context(), userID, personaID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"summary": summary})
}

// Context 返回下一次模型调用会使用的完整指令文本，便于调试。
func (h *LearningHandler) Context(c *gin.Context) {
	personaID, ok := parseID(c, "id")
	if !ok {
		return
	}
	text, err := h.contextService.BuildContext(c.Request.Context(), personaID, c.Query("userId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"context": text})
}

// SearchExperiences 对历史经验做全文检索。
func (h *LearningHandler) SearchExperiences(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		respondError(c, http.StatusBadRequest, "q is required")
		return
	}
	if !es.Enabled() {
		respondError(c, http.StatusServiceUnavailable, "experience search is not configured")
		return
	}

	docs, err := es.SearchLessons(c.Request.Context(), config.Conf.Elasticsearch.IndexName, query, 20)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "search failed")
		return
	}
	respondOK(c, docs)
}
