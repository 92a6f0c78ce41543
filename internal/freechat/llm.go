package freechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kidtalk/internal/config"
)

const systemPrompt = "你是一个儿童语音陪伴玩偶，正在和小朋友「%s」自由聊天。" +
	"用简短、温暖、口语化的中文回复，一两句话即可，不要使用表情符号。"

// LLM 走 OpenAI 兼容接口的自由聊天回复器。
type LLM struct {
	apiKey      string
	apiURL      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

func NewLLM(cfg config.FreeChatConfig) *LLM {
	url := strings.TrimRight(cfg.APIURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	m := cfg.Model
	if m == "" {
		m = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 150
	}
	return &LLM{
		apiKey:      cfg.APIKey,
		apiURL:      url,
		model:       m,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (l *LLM) Reply(ctx context.Context, userText, childName string) (string, error) {
	if childName == "" {
		childName = "小朋友"
	}
	reqBody := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, childName)},
			{Role: "user", Content: userText},
		},
		Temperature: l.temperature,
		MaxTokens:   l.maxTokens,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
