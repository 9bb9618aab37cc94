package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GeminiClient Gemini generateContent 接口
type GeminiClient struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Logger      *zap.Logger
	HTTPClient  *http.Client
}

// NewGeminiClient 创建 Gemini 客户端
func NewGeminiClient(logger *zap.Logger, baseURL, apiKey, model string, temperature float64, timeout time.Duration) *GeminiClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		Logger:      logger,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate 实现 timeline.TextGenerator
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("gemini: missing API key")
	}
	var body geminiRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.Temperature = c.Temperature

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, c.Model, url.QueryEscape(c.APIKey))
	var resp geminiResponse
	if err := postJSON(ctx, c.HTTPClient, endpoint, body, &resp); err != nil {
		c.Logger.Warn("Gemini 请求失败", zap.String("model", c.Model), zap.Error(err))
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: empty response")
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// OllamaClient 本地 Ollama /api/generate
type OllamaClient struct {
	BaseURL     string
	Model       string
	Temperature float64
	Logger      *zap.Logger
	HTTPClient  *http.Client
}

// NewOllamaClient 创建 Ollama 客户端
func NewOllamaClient(logger *zap.Logger, baseURL, model string, temperature float64, timeout time.Duration) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen3:4b"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Model:       model,
		Temperature: temperature,
		Logger:      logger,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

// OllamaRequest Ollama API 请求
type OllamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// OllamaResponse Ollama API 响应
type OllamaResponse struct {
	Response  string `json:"response"`
	Model     string `json:"model"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
}

// Generate 实现 timeline.TextGenerator
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := OllamaRequest{
		Model:  c.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": c.Temperature,
		},
	}
	c.Logger.Info("发送Ollama请求", zap.String("model", c.Model), zap.Int("prompt_len", len(prompt)))

	var resp OllamaResponse
	if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", fmt.Errorf("ollama: empty response")
	}
	return strings.TrimSpace(resp.Response), nil
}

// postJSON 发送 JSON 请求并解码 JSON 响应，非 200 状态码视为错误
func postJSON(ctx context.Context, client *http.Client, endpoint string, body any, out any) error {
	resp, err := post(ctx, client, endpoint, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func post(ctx context.Context, client *http.Client, endpoint string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
