package timeline

import (
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// SegmentOptions 分段阈值
type SegmentOptions struct {
	// GapThreshold 相邻条目之间超过该静音时长（秒）时强制断开
	GapThreshold float64
	// MinWordsForBreak 句末标点只有在累计词数达到该值后才断开
	MinWordsForBreak int
	MaxWords         int
	// MaxDuration 累计条目时长上限（秒）
	MaxDuration float64
}

// DefaultSegmentOptions 默认阈值
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{
		GapThreshold:     0.5,
		MinWordsForBreak: 20,
		MaxWords:         80,
		MaxDuration:      15,
	}
}

// Segmenter 按静音、句末标点、词数和时长把转写条目聚合成片段
type Segmenter struct {
	logger *zap.Logger
	opts   SegmentOptions
}

// NewSegmenter 创建分段器，未设置的阈值使用默认值
func NewSegmenter(logger *zap.Logger, opts SegmentOptions) *Segmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSegmentOptions()
	if opts.GapThreshold <= 0 {
		opts.GapThreshold = def.GapThreshold
	}
	if opts.MinWordsForBreak <= 0 {
		opts.MinWordsForBreak = def.MinWordsForBreak
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = def.MaxWords
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = def.MaxDuration
	}
	return &Segmenter{logger: logger, opts: opts}
}

// segmentBuffer 正在累积的片段
type segmentBuffer struct {
	entries  []TranscriptEntry
	start    float64
	words    int
	duration float64
}

func (b *segmentBuffer) empty() bool { return len(b.entries) == 0 }

func (b *segmentBuffer) add(e TranscriptEntry) {
	b.entries = append(b.entries, e)
	b.words += len(strings.Fields(e.Text))
	b.duration += e.Duration
}

// Segment 执行分段。空输入返回空结果。
//
// 第一个片段总是从 0 开始；片段结束时间取最后条目的结束时间与下一片段开始时间的较小值，
// 因此输出的片段不会互相重叠。
func (s *Segmenter) Segment(entries []TranscriptEntry) []Segment {
	if len(entries) == 0 {
		return []Segment{}
	}

	sorted := make([]TranscriptEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var segments []Segment
	var buf segmentBuffer
	var prevEnd float64
	havePrev := false

	flush := func(next *TranscriptEntry) {
		last := buf.entries[len(buf.entries)-1]
		end := last.End()
		if next != nil && next.Start < end {
			end = next.Start
		}
		segments = append(segments, NewSegment(joinText(buf.entries), buf.start, end, buf.entries))
		buf = segmentBuffer{}
	}

	for i := range sorted {
		e := sorted[i]

		if havePrev && !buf.empty() && e.Start-prevEnd > s.opts.GapThreshold {
			s.logger.Debug("检测到静音间隔，结束当前片段",
				zap.Float64("gap", e.Start-prevEnd),
				zap.Int("segment", len(segments)))
			flush(&e)
		}

		if buf.empty() {
			if len(segments) == 0 {
				buf.start = 0
			} else {
				buf.start = e.Start
			}
		}

		buf.add(e)
		prevEnd = e.End()
		havePrev = true

		if s.shouldBreak(&buf, e) {
			var next *TranscriptEntry
			if i+1 < len(sorted) {
				next = &sorted[i+1]
			}
			flush(next)
		}
	}

	if !buf.empty() {
		flush(nil)
	}

	s.logger.Debug("分段完成", zap.Int("entries", len(entries)), zap.Int("segments", len(segments)))
	return segments
}

func (s *Segmenter) shouldBreak(buf *segmentBuffer, last TranscriptEntry) bool {
	if endsSentence(last.Text) && buf.words >= s.opts.MinWordsForBreak {
		return true
	}
	if buf.words >= s.opts.MaxWords {
		return true
	}
	return buf.duration >= s.opts.MaxDuration
}

// endsSentence 文本是否以句末标点结尾
func endsSentence(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(t)
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

// MergeIntoSentences 把逐行字幕条目合并成完整句子，供翻译或改写前使用。
// 文本以句末标点结尾、或累计超过 30 词且已合并至少两条时断开。
func MergeIntoSentences(entries []TranscriptEntry) []TranscriptEntry {
	var out []TranscriptEntry
	var parts []string
	var start, duration float64
	merged := 0

	emit := func() {
		text := strings.TrimSpace(strings.Join(parts, " "))
		if text != "" {
			out = append(out, TranscriptEntry{Text: text, Start: start, Duration: duration})
		}
		parts, duration, merged = nil, 0, 0
	}

	for i, e := range entries {
		if len(parts) == 0 {
			start = e.Start
		}
		parts = append(parts, strings.TrimSpace(e.Text))
		duration += e.Duration
		merged++

		words := len(strings.Fields(strings.Join(parts, " ")))
		if endsSentence(strings.Join(parts, " ")) || (words >= 30 && merged >= 2) || i == len(entries)-1 {
			emit()
		}
	}
	return out
}
