// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"mentalist-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责会话生命周期相关的 REST 接口。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type startSessionRequest struct {
	UserID    string `json:"userId" binding:"required"`
	PersonaID uint   `json:"personaId" binding:"required"`
}

// Start 开始或恢复一个会话。
func (h *SessionHandler) Start(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessionService.GetOrCreateSession(c.Request.Context(), req.UserID, req.PersonaID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, session)
}

type appendMessageRequest struct {
	Role    string `json:"role" binding:"required,oneof=user agent system"`
	Content string `json:"content" binding:"required"`
}

// AppendMessage 向会话追加一条消息。
func (h *SessionHandler) AppendMessage(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.sessionService.AppendMessage(c.Request.Context(), sessionID, req.Role, req.Content); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// End 结束一个会话并触发经验沉淀。
func (h *SessionHandler) End(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.sessionService.EndSession(c.Request.Context(), sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, nil)
}

// ListMessages 返回会话的完整消息记录。
func (h *SessionHandler) ListMessages(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	turns, err := h.sessionService.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, turns)
}

// parseID 解析路径参数中的数字 ID。
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// respondOK 输出统一的成功响应。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// respondError 输出统一的失败响应。
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// respondServiceError 把服务层领域错误映射到 HTTP 状态码。
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownSession), errors.Is(err, service.ErrUnknownPersona):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSessionEnded):
		respondError(c, http.StatusConflict, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
