// Package llm provides a streaming client for OpenAI-compatible chat completion APIs.
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

	"health-smart-go/internal/config"
)

// ErrUnavailable is returned when the provider cannot be reached or rejects the request.
var ErrUnavailable = errors.New("llm: upstream unavailable")

// Client defines the interface for an LLM client.
type Client interface {
	// Open 发送聊天请求并在收到 200 响应头后返回流；连接失败、非 200 或 ctx 结束时返回错误。
	Open(ctx context.Context, messages []Message, gen *GenerationParams) (Stream, error)
}

// Stream 是上游逐块返回的文本。Recv 在正常结束时返回 io.EOF。
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client for the configured provider.
func NewClient(cfg config.LLMConfig) Client {
	return NewClientWithHTTP(cfg, &http.Client{})
}

// NewClientWithHTTP 使用指定的 http.Client，便于测试替换传输层。
func NewClientWithHTTP(cfg config.LLMConfig, httpClient *http.Client) Client {
	return &openAIClient{cfg: cfg, client: httpClient}
}

func (c *openAIClient) buildRequest(messages []Message, gen *GenerationParams) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	// 传参优先，否则从配置注入非零值
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
		return reqBody
	}
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
	return reqBody
}

func (c *openAIClient) Open(ctx context.Context, messages []Message, gen *GenerationParams) (Stream, error) {
	reqBytes, err := json.Marshal(c.buildRequest(messages, gen))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("chat request aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %s, body: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}

	return &sseStream{ctx: ctx, body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

// Recv 读取下一段非空文本。无法解析的 data 行被跳过。
func (s *sseStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("stream aborted: %w", ctxErr)
			}
			if errors.Is(err, io.EOF) {
				// 未收到 [DONE] 也按正常结束处理
				if data, ok := dataLine(line); ok && data != "[DONE]" {
					s.done = true
					if text := decodeChunk(data); text != "" {
						return text, nil
					}
				}
				s.done = true
				return "", io.EOF
			}
			return "", fmt.Errorf("failed to read from stream: %w", err)
		}

		data, ok := dataLine(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		if text := decodeChunk(data); text != "" {
			return text, nil
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

func dataLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

func decodeChunk(data string) string {
	var chunk chatResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return ""
	}
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}
