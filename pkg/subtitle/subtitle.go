// Package subtitle 按字数比例为分块文本生成字幕时间轴，并合并为全局字幕
package subtitle

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Entry 单条字幕，时间单位为秒
type Entry struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration 条目时长
func (e Entry) Duration() float64 { return e.End - e.Start }

// Track 一组按时间排序的字幕
type Track struct {
	Entries []Entry `json:"entries"`
}

// End 最后一条字幕的结束时间
func (t Track) End() float64 {
	if len(t.Entries) == 0 {
		return 0
	}
	return t.Entries[len(t.Entries)-1].End
}

// Contiguous 相邻条目首尾相接（误差 eps 内）
func (t Track) Contiguous(eps float64) bool {
	for i := 0; i+1 < len(t.Entries); i++ {
		d := t.Entries[i].End - t.Entries[i+1].Start
		if d > eps || d < -eps {
			return false
		}
	}
	return true
}

// DefaultMinDuration 单句最短显示时长
const DefaultMinDuration = 0.5

// sentenceEndRe 句末标点后的空白
var sentenceEndRe = regexp.MustCompile(`[.!?。…！？]\s+`)

// SplitSentences 在句末标点后的空白处切分，去掉空句
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		// 标点保留在前一句，空白丢弃
		_, size := utf8.DecodeRuneInString(text[loc[0]:])
		if s := strings.TrimSpace(text[last : loc[0]+size]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Synthesizer 字幕时间轴生成器
type Synthesizer struct {
	// MinDuration 单句下限，<=0 时使用 DefaultMinDuration
	MinDuration float64
}

// Synthesize 按句子字数比例分配 audioDuration。
//
// 先按比例分配并对每句施加下限，再按 audioDuration/总和 整体缩放一次，
// 保持首尾相接，最后一条的结束时间对齐到 audioDuration。
func (s Synthesizer) Synthesize(text string, audioDuration float64) Track {
	sentences := SplitSentences(text)
	if len(sentences) == 0 || audioDuration <= 0 {
		return Track{}
	}

	minDur := s.MinDuration
	if minDur <= 0 {
		minDur = DefaultMinDuration
	}

	total := 0
	weights := make([]int, len(sentences))
	for i, sentence := range sentences {
		w := utf8.RuneCountInString(sentence)
		if w < 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	spans := make([]float64, len(sentences))
	sum := 0.0
	for i, w := range weights {
		d := audioDuration * float64(w) / float64(total)
		if d < minDur {
			d = minDur
		}
		spans[i] = d
		sum += d
	}

	scale := audioDuration / sum
	entries := make([]Entry, len(sentences))
	cursor := 0.0
	for i, sentence := range sentences {
		start := cursor
		cursor += spans[i] * scale
		entries[i] = Entry{Index: i + 1, Start: start, End: cursor, Text: sentence}
	}
	entries[len(entries)-1].End = audioDuration

	return Track{Entries: entries}
}

// ChunkTrack 一个分块的字幕与其片段时长
type ChunkTrack struct {
	Track Track
	// ClipDuration 该分块片段在成片中的时长，用于计算后续分块的偏移
	ClipDuration float64
}

// Merge 把各分块字幕按累计片段时长平移后拼接，并重新连续编号。
// 没有字幕的分块仍然计入偏移。
func Merge(chunks []ChunkTrack) Track {
	var out []Entry
	offset := 0.0
	for _, c := range chunks {
		for _, e := range c.Track.Entries {
			out = append(out, Entry{
				Index: len(out) + 1,
				Start: e.Start + offset,
				End:   e.End + offset,
				Text:  e.Text,
			})
		}
		offset += c.ClipDuration
	}
	return Track{Entries: out}
}
