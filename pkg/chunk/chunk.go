// Package chunk 把一段介绍文字切成若干可配图、可配音的块。
package chunk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrNoChunks 文本切分后没有任何可用的块
	ErrNoChunks = errors.New("no usable chunks")
	// ErrChunkIncomplete 块缺少合成所需的素材
	ErrChunkIncomplete = errors.New("chunk is missing media")
)

// Chunk 一个文本块及其派生素材。ImagePath/AudioPath/SubtitlePath 在流水线中逐步填充。
type Chunk struct {
	Index         int     `json:"chunk_index"`
	Text          string  `json:"text"`
	ImagePrompt   string  `json:"image_prompt"`
	ImagePath     string  `json:"image_path,omitempty"`
	AudioPath     string  `json:"audio_path,omitempty"`
	AudioDuration float64 `json:"audio_duration,omitempty"`
	SubtitlePath  string  `json:"srt_path,omitempty"`
}

// Ready 图片与音频是否都已生成
func (c Chunk) Ready() bool {
	return c.ImagePath != "" && c.AudioPath != "" && c.AudioDuration > 0
}

// Validate 返回第一个缺失的素材
func (c Chunk) Validate() error {
	switch {
	case c.ImagePath == "":
		return fmt.Errorf("%w: chunk %d has no image", ErrChunkIncomplete, c.Index)
	case c.AudioPath == "":
		return fmt.Errorf("%w: chunk %d has no audio", ErrChunkIncomplete, c.Index)
	case c.AudioDuration <= 0:
		return fmt.Errorf("%w: chunk %d audio duration unknown", ErrChunkIncomplete, c.Index)
	}
	return nil
}

const imagePromptPrefix = "A cinematic illustration related to the following text: "

// DefaultImagePrompt 模型没有给出画面描述时使用的提示词
func DefaultImagePrompt(text string) string {
	return imagePromptPrefix + truncateRunes(strings.TrimSpace(text), 200)
}

var (
	paragraphSep = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd  = regexp.MustCompile(`[.!?。]\s+`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Fallback 规则切分：按空行分段，只保留长度超过 10 个字符的段落；
// 段落不超过两个时改为按句切分，每两句合成一块（忽略不超过 5 个字符的碎句）。
func Fallback(text string) []Chunk {
	text = strings.TrimSpace(text)
	var parts []string
	for _, p := range paragraphSep.Split(text, -1) {
		if utf8.RuneCountInString(strings.TrimSpace(p)) > 10 {
			parts = append(parts, strings.TrimSpace(p))
		}
	}

	if len(parts) <= 2 {
		parts = nil
		var buf []string
		for _, s := range splitKeepPunct(text) {
			if utf8.RuneCountInString(s) <= 5 {
				continue
			}
			buf = append(buf, s)
			if len(buf) == 2 {
				parts = append(parts, strings.Join(buf, " "))
				buf = nil
			}
		}
		if len(buf) > 0 {
			parts = append(parts, strings.Join(buf, " "))
		}
	}

	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{Index: i, Text: p, ImagePrompt: DefaultImagePrompt(p)})
	}
	return chunks
}

// splitKeepPunct 在句末标点后的空白处断句，标点留在前一句
func splitKeepPunct(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		end := loc[0] + utf8RuneLenAt(text, loc[0])
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

func utf8RuneLenAt(s string, i int) int {
	_, n := utf8.DecodeRuneInString(s[i:])
	return n
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func collapseSpace(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}
