package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
)

// SpeechRequest 一次语音合成请求
type SpeechRequest struct {
	Text             string `json:"text"`
	Index            int    `json:"index"`
	VoiceGender      string `json:"voice_gender,omitempty"`
	VoiceName        string `json:"voice_name,omitempty"`
	StyleInstruction string `json:"style_instruction,omitempty"`
}

// SpeechSynthesizer 把文本合成为音频文件。返回的文件时长由调用方测量。
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest, output string) error
}

// ApplyStyle 支持风格说明的服务把说明放在正文前；正文已包含说明时不重复添加
func ApplyStyle(kind Kind, text, style string) string {
	style = strings.TrimSpace(style)
	if style == "" || !kind.Capabilities().StyleInstruction || strings.Contains(text, style) {
		return text
	}
	return style + "\n\n" + text
}

var voices = map[Kind]map[string][]string{
	KindGemini: {
		"female": {"Zephyr", "Kore", "Leda", "Aoede"},
		"male":   {"Puck", "Charon", "Fenrir", "Orus"},
	},
	KindOpenAI: {
		"female": {"nova", "shimmer", "fable"},
		"male":   {"alloy", "onyx", "echo"},
	},
	KindMicrosoft: {
		"female": {"vi-VN-HoaiMyNeural"},
		"male":   {"vi-VN-NamMinhNeural"},
	},
}

// ResolveVoice 指定的音色属于该性别时直接使用，否则取该性别的第一个音色
func ResolveVoice(kind Kind, gender, name string) string {
	table, ok := voices[kind]
	if !ok {
		return name
	}
	list := table["female"]
	if strings.EqualFold(gender, "male") {
		list = table["male"]
	}
	for _, v := range list {
		if v == name {
			return v
		}
	}
	return list[0]
}

// HTTPSpeech 通用 HTTP 语音服务：POST JSON，响应为音频字节，
// 或 {"audio": "<base64>"} / {"audio_base64": "data:audio/...;base64,..."}
type HTTPSpeech struct {
	kind       Kind
	endpoint   string
	apiKey     string
	model      string
	logger     *zap.Logger
	httpClient *http.Client
}

// NewHTTPSpeech 通用 HTTP 语音服务
func NewHTTPSpeech(logger *zap.Logger, endpoint, apiKey string, timeout time.Duration) *HTTPSpeech {
	return newHTTPSpeech(KindHTTP, logger, endpoint, apiKey, "", timeout)
}

// NewOpenAISpeech OpenAI /v1/audio/speech
func NewOpenAISpeech(logger *zap.Logger, baseURL, apiKey string, timeout time.Duration) *HTTPSpeech {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return newHTTPSpeech(KindOpenAI, logger, strings.TrimRight(baseURL, "/")+"/audio/speech", apiKey, "tts-1", timeout)
}

// NewMicrosoftSpeech 通过 edge-tts HTTP 网关合成
func NewMicrosoftSpeech(logger *zap.Logger, endpoint string, timeout time.Duration) *HTTPSpeech {
	return newHTTPSpeech(KindMicrosoft, logger, endpoint, "", "", timeout)
}

func newHTTPSpeech(kind Kind, logger *zap.Logger, endpoint, apiKey, model string, timeout time.Duration) *HTTPSpeech {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &HTTPSpeech{
		kind:       kind,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type speechBody struct {
	Model  string `json:"model,omitempty"`
	Input  string `json:"input"`
	Voice  string `json:"voice,omitempty"`
	Gender string `json:"gender,omitempty"`
	Format string `json:"response_format"`
}

type speechJSON struct {
	Audio       string `json:"audio"`
	AudioBase64 string `json:"audio_base64"`
}

// Synthesize 实现 SpeechSynthesizer
func (s *HTTPSpeech) Synthesize(ctx context.Context, req SpeechRequest, output string) error {
	if s.endpoint == "" {
		return fmt.Errorf("%s speech: no endpoint configured", s.kind)
	}
	body := speechBody{
		Model:  s.model,
		Input:  ApplyStyle(s.kind, req.Text, req.StyleInstruction),
		Voice:  ResolveVoice(s.kind, req.VoiceGender, req.VoiceName),
		Gender: req.VoiceGender,
		Format: "mp3",
	}
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	s.logger.Info("语音合成",
		zap.String("provider", string(s.kind)),
		zap.Int("index", req.Index),
		zap.String("voice", body.Voice),
		zap.Int("text_len", utf8.RuneCountInString(body.Input)))

	resp, err := post(ctx, s.httpClient, s.endpoint, body, headers)
	if err != nil {
		return fmt.Errorf("%s speech: %w", s.kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s speech: read body: %w", s.kind, err)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" {
		var payload speechJSON
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%s speech: decode: %w", s.kind, err)
		}
		encoded := payload.Audio
		if encoded == "" {
			encoded = payload.AudioBase64
		}
		if data, err = decodeBase64Media(encoded); err != nil {
			return fmt.Errorf("%s speech: %w", s.kind, err)
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("%s speech: empty audio", s.kind)
	}
	return writeFile(output, data)
}

// decodeBase64Media 解码 base64，兼容 data:xxx;base64, 前缀
func decodeBase64Media(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, fmt.Errorf("no media data in response")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// MockSpeech 生成按字数估算时长的静音，流水线无需真实语音服务即可运行
type MockSpeech struct {
	logger         *zap.Logger
	runner         *ffmpeg.Runner
	charsPerSecond float64
}

// NewMockSpeech charsPerSecond<=0 时为 15
func NewMockSpeech(logger *zap.Logger, runner *ffmpeg.Runner, charsPerSecond float64) *MockSpeech {
	if logger == nil {
		logger = zap.NewNop()
	}
	if charsPerSecond <= 0 {
		charsPerSecond = 15
	}
	return &MockSpeech{logger: logger, runner: runner, charsPerSecond: charsPerSecond}
}

// EstimateDuration 估算朗读时长，至少 1 秒，保留一位小数
func (m *MockSpeech) EstimateDuration(text string) float64 {
	d := float64(utf8.RuneCountInString(strings.TrimSpace(text))) / m.charsPerSecond
	return math.Max(1, math.Round(d*10)/10)
}

// Synthesize 实现 SpeechSynthesizer
func (m *MockSpeech) Synthesize(ctx context.Context, req SpeechRequest, output string) error {
	d := m.EstimateDuration(req.Text)
	m.logger.Debug("生成占位语音", zap.Int("index", req.Index), zap.Float64("duration", d))
	return m.runner.Run(ctx, &ffmpeg.Command{
		Stage:      "mock_speech",
		Inputs:     []ffmpeg.Input{ffmpeg.Lavfi(ffmpeg.ANullSrc(44100, "stereo"), d)},
		OutputArgs: ffmpeg.MP3Args,
		Output:     output,
	})
}
