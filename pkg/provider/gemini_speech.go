package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
)

// GeminiSpeech Gemini 语音合成，返回的 PCM 被封装为 WAV，输出为 .mp3 时再转码
type GeminiSpeech struct {
	BaseURL    string
	APIKey     string
	Model      string
	logger     *zap.Logger
	runner     *ffmpeg.Runner
	httpClient *http.Client
}

// NewGeminiSpeech runner 可以为 nil，此时只能输出 wav
func NewGeminiSpeech(logger *zap.Logger, runner *ffmpeg.Runner, baseURL, apiKey string, timeout time.Duration) *GeminiSpeech {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &GeminiSpeech{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      "gemini-2.5-flash-preview-tts",
		logger:     logger,
		runner:     runner,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig struct {
		VoiceName string `json:"voiceName"`
	} `json:"prebuiltVoiceConfig"`
}

type geminiSpeechRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		SpeechConfig       struct {
			VoiceConfig geminiVoiceConfig `json:"voiceConfig"`
		} `json:"speechConfig"`
	} `json:"generationConfig"`
}

type geminiSpeechResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

var (
	pcmRateRe     = regexp.MustCompile(`rate=(\d+)`)
	pcmChannelsRe = regexp.MustCompile(`channels=(\d+)`)
)

// Synthesize 实现 SpeechSynthesizer
func (g *GeminiSpeech) Synthesize(ctx context.Context, req SpeechRequest, output string) error {
	if g.APIKey == "" {
		return fmt.Errorf("gemini speech: missing API key")
	}
	var body geminiSpeechRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{{Text: ApplyStyle(KindGemini, req.Text, req.StyleInstruction)}}}}
	body.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	body.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = ResolveVoice(KindGemini, req.VoiceGender, req.VoiceName)

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.BaseURL, g.Model, url.QueryEscape(g.APIKey))
	var resp geminiSpeechResponse
	if err := postJSON(ctx, g.httpClient, endpoint, body, &resp); err != nil {
		return fmt.Errorf("gemini speech: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("gemini speech: empty response")
	}
	inline := resp.Candidates[0].Content.Parts[0].InlineData
	data, err := decodeBase64Media(inline.Data)
	if err != nil {
		return fmt.Errorf("gemini speech: %w", err)
	}

	mt := strings.ToLower(inline.MimeType)
	if strings.Contains(mt, "mpeg") || strings.Contains(mt, "mp3") {
		return writeFile(output, data)
	}
	if strings.Contains(mt, "pcm") || strings.Contains(mt, "l16") || strings.Contains(mt, "raw") {
		rate, channels := 24000, 1
		if m := pcmRateRe.FindStringSubmatch(mt); m != nil {
			rate, _ = strconv.Atoi(m[1])
		}
		if m := pcmChannelsRe.FindStringSubmatch(mt); m != nil {
			channels, _ = strconv.Atoi(m[1])
		}
		data = WrapPCM(data, rate, channels, 16)
	}

	if strings.EqualFold(filepath.Ext(output), ".wav") || g.runner == nil {
		return writeFile(output, data)
	}
	wav := strings.TrimSuffix(output, filepath.Ext(output)) + ".src.wav"
	if err := writeFile(wav, data); err != nil {
		return err
	}
	defer os.Remove(wav)
	return g.runner.Run(ctx, &ffmpeg.Command{
		Stage:      "speech_transcode",
		Inputs:     []ffmpeg.Input{ffmpeg.FileInput(wav)},
		OutputArgs: ffmpeg.MP3Args,
		Output:     output,
	})
}

// WrapPCM 给小端 PCM 数据加上 44 字节 WAV 头
func WrapPCM(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	var buf bytes.Buffer
	blockAlign := channels * bitsPerSample / 8
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
