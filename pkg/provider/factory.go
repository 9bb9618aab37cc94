package provider

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
)

// NewText 按配置选择文本模型。provider 为空或 "none" 时返回 nil，调用方走规则回退。
func NewText(logger *zap.Logger, cfg config.AIConfig) (timeline.TextGenerator, error) {
	if name := strings.TrimSpace(cfg.Provider); name == "" || strings.EqualFold(name, "none") {
		return nil, nil
	}
	kind, err := ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if !kind.Capabilities().Text {
		return nil, fmt.Errorf("%w: %s has no text model", ErrUnsupported, kind)
	}
	switch kind {
	case KindGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini: missing API key")
		}
		return NewGeminiClient(logger, cfg.GeminiURL, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Temperature, cfg.Timeout), nil
	default:
		return NewOllamaClient(logger, cfg.OllamaURL, cfg.OllamaModel, cfg.Temperature, cfg.Timeout), nil
	}
}

// NewSpeech 按配置选择语音服务
func NewSpeech(logger *zap.Logger, cfg config.SpeechConfig, runner *ffmpeg.Runner) (SpeechSynthesizer, Kind, error) {
	kind, err := ParseKind(cfg.Provider)
	if err != nil {
		return nil, "", err
	}
	if !kind.Capabilities().Speech {
		return nil, kind, fmt.Errorf("%w: %s cannot synthesize speech", ErrUnsupported, kind)
	}
	switch kind {
	case KindMock:
		return NewMockSpeech(logger, runner, cfg.CharsPerSecond), kind, nil
	case KindGemini:
		return NewGeminiSpeech(logger, runner, cfg.BaseURL, cfg.APIKey, cfg.Timeout), kind, nil
	case KindOpenAI:
		return NewOpenAISpeech(logger, cfg.BaseURL, cfg.APIKey, cfg.Timeout), kind, nil
	case KindMicrosoft:
		return NewMicrosoftSpeech(logger, cfg.BaseURL, cfg.Timeout), kind, nil
	default:
		return NewHTTPSpeech(logger, cfg.BaseURL, cfg.APIKey, cfg.Timeout), kind, nil
	}
}

// NewImage 按配置选择图片生成方式
func NewImage(logger *zap.Logger, cfg config.ImageConfig, width, height int) (ImageGenerator, Kind, error) {
	kind, err := ParseKind(cfg.Provider)
	if err != nil {
		return nil, "", err
	}
	if !kind.Capabilities().Image {
		return nil, kind, fmt.Errorf("%w: %s cannot generate images", ErrUnsupported, kind)
	}
	if kind == KindDrawThings {
		return NewDrawThingsClient(logger, cfg.DrawThingsURL, width, height, cfg.Steps, cfg.Timeout), kind, nil
	}
	return NewCardRenderer(logger, width, height, cfg.FontPath), kind, nil
}
