package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"mentalist-go/internal/model"
	"mentalist-go/pkg/llm"
	"mentalist-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ChatService 定义了流式对话轮次的接口。
type ChatService interface {
	// StreamTurn 处理一轮用户输入：落库、拼装上下文、流式下发模型回复并落库回复。
	// 流中断时已产生的部分回复仍然保留，并向连接发送终止事件。
	StreamTurn(ctx context.Context, userID string, personaID uint, userText string, ws *websocket.Conn, shouldStop func() bool) error
}

type chatService struct {
	sessionService SessionService
	contextService ContextService
	llmClient      llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(sessionService SessionService, contextService ContextService, llmClient llm.Client) ChatService {
	return &chatService{
		sessionService: sessionService,
		contextService: contextService,
		llmClient:      llmClient,
	}
}

// StreamTurn 协调一轮完整的对话交互。
func (s *chatService) StreamTurn(ctx context.Context, userID string, personaID uint, userText string, ws *websocket.Conn, shouldStop func() bool) error {
	// 1. 定位或创建会话，并立即落库用户消息
	session, err := s.sessionService.GetOrCreateSession(ctx, userID, personaID)
	if err != nil {
		return err
	}
	if err := s.sessionService.AppendMessage(ctx, session.ID, model.RoleUser, userText); err != nil {
		return err
	}

	// 2. 拼装本次调用的指令文本（人格 + 经验简报 + 关系记忆）
	contextText, err := s.contextService.BuildContext(ctx, personaID, userID)
	if err != nil {
		return err
	}

	// 3. 组装消息：system 指令 + 当前会话历史（含刚追加的用户消息）
	turns, err := s.sessionService.ListMessages(ctx, session.ID)
	if err != nil {
		return err
	}
	messages := composeMessages(contextText, turns)

	// 拦截 websocket writer 以捕获完整回复，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	// 4. 流式调用模型
	streamErr := s.llmClient.StreamChatMessages(ctx, messages, interceptor)

	// 5. 无论流是否完整，已产生的回复都保存为 agent 轮次。
	// 使用后台上下文：即使原始请求被取消也要保存成功生成的部分。
	partial := answerBuilder.String()
	if len(partial) > 0 {
		if err := s.sessionService.AppendMessage(context.Background(), session.ID, model.RoleAgent, partial); err != nil {
			log.Errorf("保存 agent 回复失败: sessionId=%d, %v", session.ID, err)
		}
	}

	if streamErr != nil {
		if errors.Is(streamErr, llm.ErrStreamInterrupted) {
			// 中断作为终止事件下发，而不是静默截断
			sendStreamError(ws)
		}
		return streamErr
	}

	sendCompletion(ws)
	return nil
}

// composeMessages 把指令文本与会话历史组装成模型消息序列。
func composeMessages(systemText string, turns []model.TurnRecord) []llm.Message {
	messages := make([]llm.Message, 0, len(turns)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemText})
	for _, turn := range turns {
		role := turn.Role
		if role == model.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return messages
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

// sendStreamError 发送流中断终止事件，提示部分内容已保留。
func sendStreamError(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "stream_error",
		"status":    "interrupted",
		"message":   "response stream was interrupted; partial reply kept",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
