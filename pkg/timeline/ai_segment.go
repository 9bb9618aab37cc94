package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
)

// TextGenerator 文本生成模型，返回模型的原始文本输出
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SemanticSegment 模型返回的一个语义片段。时间标记只是近似值，不直接使用。
type SemanticSegment struct {
	Text        string  `json:"text"`
	StartMarker float64 `json:"start_marker"`
	EndMarker   float64 `json:"end_marker"`
}

// AISegmentResult 语义分段结果
type AISegmentResult struct {
	Segments []Segment `json:"segments"`
	// UsedAI 为 false 表示回退到了规则分段
	UsedAI         bool   `json:"used_ai"`
	Dropped        int    `json:"dropped"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// AISegmenter 由模型按完整语义切分，再从原始条目反推精确时间
type AISegmenter struct {
	logger   *zap.Logger
	client   TextGenerator
	fallback *Segmenter
}

// NewAISegmenter 创建语义分段器。client 为 nil 时总是回退到 fallback。
func NewAISegmenter(logger *zap.Logger, client TextGenerator, fallback *Segmenter) *AISegmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == nil {
		fallback = NewSegmenter(logger, DefaultSegmentOptions())
	}
	return &AISegmenter{logger: logger, client: client, fallback: fallback}
}

const segmentationPrompt = `Below is a transcript with timing markers [seconds]. Your task is to segment this transcript into meaningful, complete thoughts or sentences.

IMPORTANT RULES:
1. Each segment must be a COMPLETE sentence or complete thought (not fragments)
2. Each segment should be 2-4 sentences on average (around 15-50 words)
3. Do NOT split in the middle of a sentence or clause
4. Preserve the exact text from the original transcript
5. Output format: JSON array with segments in order

Return ONLY valid JSON array with this structure:
[
  {"text": "complete sentence or thought", "start_marker": 0.0, "end_marker": 5.2},
  {"text": "next complete sentence", "start_marker": 5.2, "end_marker": 10.5}
]

TRANSCRIPT:
`

// BuildMarkedText 生成带时间标记的文本：[12.3s] text [15.0s] text
func BuildMarkedText(entries []TranscriptEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("[" + strconv.FormatFloat(e.Start, 'f', 1, 64) + "s] ")
		b.WriteString(strings.TrimSpace(e.Text))
	}
	return b.String()
}

// BuildSegmentationPrompt 完整提示词
func BuildSegmentationPrompt(entries []TranscriptEntry) string {
	return segmentationPrompt + BuildMarkedText(entries)
}

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

// ParseSemanticResponse 从模型输出中提取 JSON 数组
func ParseSemanticResponse(content string) ([]SemanticSegment, error) {
	raw := jsonArrayRe.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON array found", ErrAIResponse)
	}
	var segs []SemanticSegment
	if err := json.Unmarshal([]byte(raw), &segs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAIResponse, err)
	}
	return segs, nil
}

// Segment 执行语义分段。模型不可用、返回无法解析或没有任何片段能匹配原文时，
// 整体回退到规则分段；单个片段无法匹配时只丢弃该片段。
func (a *AISegmenter) Segment(ctx context.Context, entries []TranscriptEntry, tr *progress.Tracker) AISegmentResult {
	if len(entries) == 0 {
		return AISegmentResult{Segments: []Segment{}}
	}

	tr.Start("开始语义分段")

	segments, dropped, err := a.segmentWithModel(ctx, entries, tr)
	if err != nil {
		a.logger.Warn("语义分段失败，使用规则分段", zap.Error(err))
		metrics.RecordFallback("ai_segment")
		tr.Fail("语义分段失败，使用规则分段")
		return AISegmentResult{
			Segments:       a.fallback.Segment(entries),
			FallbackReason: err.Error(),
		}
	}

	tr.Done("语义分段完成")
	a.logger.Info("语义分段完成", zap.Int("segments", len(segments)), zap.Int("dropped", dropped))
	return AISegmentResult{Segments: segments, UsedAI: true, Dropped: dropped}
}

func (a *AISegmenter) segmentWithModel(ctx context.Context, entries []TranscriptEntry, tr *progress.Tracker) ([]Segment, int, error) {
	if a.client == nil {
		return nil, 0, ErrAIUnavailable
	}

	prompt := BuildSegmentationPrompt(entries)
	tr.Step(20, "正在发送到语义模型")
	a.logger.Info("发送语义分段请求", zap.Int("entries", len(entries)), zap.Int("prompt_length", len(prompt)))

	content, err := a.client.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrAIUnavailable) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}

	tr.Step(80, "正在处理模型结果")
	aiSegs, err := ParseSemanticResponse(content)
	if err != nil {
		return nil, 0, err
	}

	segments, dropped := RederiveTiming(entries, aiSegs, a.logger)
	if len(segments) == 0 {
		return nil, dropped, fmt.Errorf("%w: no segment matched the transcript", ErrAIResponse)
	}
	if !Validate(segments) {
		return nil, dropped, fmt.Errorf("%w: segments overlap", ErrAIResponse)
	}
	return segments, dropped, nil
}

// entrySpan 条目在拼接文本中的字节区间
type entrySpan struct {
	from, to int
}

// RederiveTiming 在拼接后的原始文本中（不区分大小写）查找每个片段，
// 用覆盖到的条目重建开始与结束时间。找不到的片段被丢弃并记录警告。
func RederiveTiming(entries []TranscriptEntry, aiSegs []SemanticSegment, logger *zap.Logger) ([]Segment, int) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var b strings.Builder
	spans := make([]entrySpan, len(entries))
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(' ')
		}
		from := b.Len()
		b.WriteString(normalizeForMatch(e.Text))
		spans[i] = entrySpan{from: from, to: b.Len()}
	}
	haystack := b.String()

	var out []Segment
	dropped := 0
	cursor := 0
	for _, seg := range aiSegs {
		needle := normalizeForMatch(seg.Text)
		if needle == "" {
			continue
		}

		// 优先从上一个匹配之后查找，保证重复短语按顺序对应
		pos := -1
		if cursor < len(haystack) {
			if p := strings.Index(haystack[cursor:], needle); p >= 0 {
				pos = cursor + p
			}
		}
		if pos < 0 {
			pos = strings.Index(haystack, needle)
		}
		if pos < 0 {
			logger.Warn("语义片段在原文中找不到，已丢弃", zap.String("text", preview(seg.Text, 50)))
			dropped++
			continue
		}
		end := pos + len(needle)

		var covered []TranscriptEntry
		for i, sp := range spans {
			if sp.to > pos && sp.from < end {
				covered = append(covered, entries[i])
			}
		}
		if len(covered) == 0 {
			dropped++
			continue
		}

		first, last := covered[0], covered[len(covered)-1]
		out = append(out, NewSegment(strings.TrimSpace(seg.Text), first.Start, last.End(), covered))
		cursor = end
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	for i := 0; i+1 < len(out); i++ {
		if out[i].EndTime > out[i+1].StartTime {
			out[i].EndTime = out[i+1].StartTime
			out[i].Normalize()
		}
	}
	return out, dropped
}

// normalizeForMatch 小写并折叠空白
func normalizeForMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
