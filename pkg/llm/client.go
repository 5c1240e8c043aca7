// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mentalist-go/internal/config"

	"github.com/gorilla/websocket"
)

// ErrStreamInterrupted 表示流式响应在收到结束标记前异常中断。
// 此时 writer 已经收到的部分内容仍然有效，由调用方决定如何保留。
var ErrStreamInterrupted = errors.New("llm stream interrupted")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息调用聊天接口，并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, writer MessageWriter) error
	// AnalyzeTranscript 请求模型对一段会话记录做结构化判定，返回原始判定对象。
	AnalyzeTranscript(ctx context.Context, systemText, transcriptText string) (*AnalysisResult, error)
}

type openAICompatClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		timeout = 60 * time.Second
	}
	return &openAICompatClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// AnalysisResult 是分析接口要求模型返回的 JSON 结构。
type AnalysisResult struct {
	Sentiment     float64  `json:"sentiment"`
	Technique     string   `json:"technique_used"`
	WhatWorked    string   `json:"what_worked"`
	WhatFailed    string   `json:"what_did_not_work"`
	LessonLearned string   `json:"lesson_learned"`
	KeyMoments    []string `json:"key_moments"`
	Success       bool     `json:"mentalist_success"`
}

// StreamChatMessages 调用 chat completions 接口并流式传输响应。
// 事件流按行解码：只有读到完整一行才处理，缺少 data: 前缀的行被静默丢弃。
func (c *openAICompatClient) StreamChatMessages(ctx context.Context, messages []Message, writer MessageWriter) error {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	// 从全局配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	return DecodeEventStream(resp.Body, writer)
}

// DecodeEventStream 逐行消费 SSE 事件流并把文本增量写入 writer。
// bufio.Reader 会把跨读取边界的半行缓冲起来，直到观察到行终止符。
// 在 [DONE] 标记之前流被断开时返回 ErrStreamInterrupted。
func DecodeEventStream(body io.Reader, writer MessageWriter) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// 未收到 [DONE] 即 EOF，视为中断而不是静默截断
				return ErrStreamInterrupted
			}
			return fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var chunk chatStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if len(chunk.Choices) > 0 {
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
				return fmt.Errorf("failed to write message to websocket: %w", err)
			}
		}
	}
}

// AnalyzeTranscript 以非流式方式请求结构化判定并解析其 JSON 输出。
func (c *openAICompatClient) AnalyzeTranscript(ctx context.Context, systemText, transcriptText string) (*AnalysisResult, error) {
	analysisModel := c.cfg.AnalysisModel
	if analysisModel == "" {
		analysisModel = c.cfg.Model
	}
	reqBody := chatRequest{
		Model: analysisModel,
		Messages: []Message{
			{Role: "system", Content: systemText},
			{Role: "user", Content: transcriptText},
		},
		Stream: false,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analysis api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analysis api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("analysis response contained no choices")
	}

	return ParseAnalysisJSON(completion.Choices[0].Message.Content)
}

// ParseAnalysisJSON 从模型输出中提取并解析判定 JSON。
// 模型偶尔会用 markdown 代码块包裹输出，这里截取首尾大括号之间的内容。
func ParseAnalysisJSON(content string) (*AnalysisResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in analysis output: %q", content)
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis output: %w", err)
	}
	return &result, nil
}
