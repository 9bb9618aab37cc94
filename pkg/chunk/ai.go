package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
)

// MinSimilarity 模型切出的块拼回去后与原文的最低相似度
const MinSimilarity = 0.5

// Source 待切分的文本及其元信息
type Source struct {
	Title    string
	Category string
	BookType string
	Text     string
}

// Result 切分结果
type Result struct {
	Chunks         []Chunk `json:"chunks"`
	UsedAI         bool    `json:"used_ai"`
	Duplicates     int     `json:"duplicates"`
	Similarity     float64 `json:"similarity,omitempty"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
}

// Chunker 优先让模型切分并生成画面描述，失败或结果偏离原文时回退到规则切分
type Chunker struct {
	logger *zap.Logger
	client timeline.TextGenerator
}

// NewChunker client 可以为 nil
func NewChunker(logger *zap.Logger, client timeline.TextGenerator) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{logger: logger, client: client}
}

// BuildPrompt 切分提示词
func BuildPrompt(src Source) string {
	var b strings.Builder
	b.WriteString("You are an expert at analysing text and building video storyboards.\n\n")
	b.WriteString("TASK: Split the following book introduction into sensible CHUNKS for an introduction video.\n\n")
	b.WriteString("RULES:\n")
	b.WriteString("1. Do NOT change the original wording - every chunk must be a VERBATIM part of the original\n")
	b.WriteString("2. Joined together, the chunks must reproduce the WHOLE original (nothing missing, nothing added)\n")
	b.WriteString("3. Split on meaning (1-3 sentences per chunk), never in the middle of a sentence\n")
	b.WriteString("4. For each chunk write an English IMAGE DESCRIPTION (image_prompt) for an illustration\n")
	b.WriteString("5. The number of chunks depends on the content (usually 4-10)\n\n")
	b.WriteString("BOOK:\n")
	b.WriteString("- Title: " + src.Title + "\n")
	if src.Category != "" {
		b.WriteString("- Category: " + src.Category + "\n")
	}
	if src.BookType != "" {
		b.WriteString("- Type: " + src.BookType + "\n")
	}
	b.WriteString("\nINTRODUCTION (VERBATIM):\n---\n")
	b.WriteString(src.Text)
	b.WriteString("\n---\n\n")
	b.WriteString("OUTPUT FORMAT (plain JSON, NO markdown):\n")
	b.WriteString(`[
  {
    "chunk_index": 0,
    "text": "Verbatim text from the original",
    "image_prompt": "Detailed English prompt for an illustration matching this chunk. Include scene, mood, colors, style."
  }
]
`)
	b.WriteString("\nNOTE: 'text' must be an EXACT copy from the original, without adding or removing any character.\n")
	return b.String()
}

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

type rawChunk struct {
	Text        string `json:"text"`
	ImagePrompt string `json:"image_prompt"`
}

// ParseResponse 去掉代码围栏后解析 JSON 数组，跳过空文本项。
// 画面描述缺失时使用 DefaultImagePrompt。
func ParseResponse(content string) ([]Chunk, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = fenceOpen.ReplaceAllString(cleaned, "")
	cleaned = fenceClose.ReplaceAllString(cleaned, "")

	var raw []rawChunk
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", timeline.ErrAIResponse, err)
	}
	var chunks []Chunk
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		prompt := strings.TrimSpace(r.ImagePrompt)
		if prompt == "" {
			prompt = DefaultImagePrompt(text)
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text, ImagePrompt: prompt})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: empty chunk list", timeline.ErrAIResponse)
	}
	return chunks, nil
}

// Split 切分文本。只有原文为空时才返回 ErrNoChunks。
func (c *Chunker) Split(ctx context.Context, src Source) (Result, error) {
	if strings.TrimSpace(src.Text) == "" {
		return Result{}, ErrNoChunks
	}

	if c.client == nil {
		return c.fallback(src, "no text model configured")
	}

	content, err := c.client.Generate(ctx, BuildPrompt(src))
	if err != nil {
		c.logger.Warn("模型切分失败，使用规则切分", zap.Error(err))
		return c.fallback(src, err.Error())
	}
	chunks, err := ParseResponse(content)
	if err != nil {
		c.logger.Warn("无法解析模型切分结果，使用规则切分", zap.Error(err))
		return c.fallback(src, err.Error())
	}

	chunks, dups := Dedup(chunks)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	sim := Similarity(src.Text, strings.Join(texts, " "))
	c.logger.Info("模型切分校验",
		zap.Int("chunks", len(chunks)),
		zap.Int("duplicates", dups),
		zap.Float64("similarity", sim))
	if sim < MinSimilarity {
		return c.fallback(src, fmt.Sprintf("chunks diverge from original (similarity %.2f)", sim))
	}
	return Result{Chunks: chunks, UsedAI: true, Duplicates: dups, Similarity: sim}, nil
}

func (c *Chunker) fallback(src Source, reason string) (Result, error) {
	metrics.RecordFallback("chunk")
	chunks := Fallback(src.Text)
	if len(chunks) == 0 {
		return Result{FallbackReason: reason}, ErrNoChunks
	}
	return Result{Chunks: chunks, FallbackReason: reason}, nil
}
