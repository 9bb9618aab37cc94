package subtitle

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("  Trời đã tối. Anh ấy về nhà!  Còn cô ấy thì sao?   Không biết… 他走了。 然后  ")
	assert.Equal(t, []string{
		"Trời đã tối.",
		"Anh ấy về nhà!",
		"Còn cô ấy thì sao?",
		"Không biết…",
		"他走了。",
		"然后",
	}, got)

	assert.Empty(t, SplitSentences("   "))
	assert.Equal(t, []string{"no terminal punctuation"}, SplitSentences("no terminal punctuation"))
}

func TestSynthesizeCoversAudio(t *testing.T) {
	texts := []string{
		"One. Two two. Three three three.",
		"A very long opening sentence that dominates the chunk by far. Ok. Hi.",
		"Single sentence only",
		"a. b. c. d. e. f. g. h. i. j.",
	}
	for _, text := range texts {
		for _, dur := range []float64{2.0, 7.3, 31.25} {
			track := Synthesizer{}.Synthesize(text, dur)
			require.NotEmpty(t, track.Entries)
			assert.InDelta(t, dur, track.End(), 0.01, "%q @ %v", text, dur)
			assert.True(t, track.Contiguous(1e-9), "%q @ %v", text, dur)
			assert.Equal(t, 0.0, track.Entries[0].Start)
			for i, e := range track.Entries {
				assert.Equal(t, i+1, e.Index)
				assert.Greater(t, e.End, e.Start)
			}
		}
	}
}

func TestSynthesizeProportionalToLength(t *testing.T) {
	track := Synthesizer{}.Synthesize(strings.Repeat("a", 9)+". "+strings.Repeat("b", 19)+".", 30)
	require.Len(t, track.Entries, 2)
	// 10 与 20 个字符
	assert.InDelta(t, 10.0, track.Entries[0].Duration(), 1e-9)
	assert.InDelta(t, 20.0, track.Entries[1].Duration(), 1e-9)
}

func TestSynthesizeFloorThenRescale(t *testing.T) {
	// 第一句按比例只有 0.1s，被抬到 0.5s，随后整体缩放回 3s
	track := Synthesizer{}.Synthesize("a. "+strings.Repeat("b", 58)+".", 3)
	require.Len(t, track.Entries, 2)
	assert.InDelta(t, 3.0, track.End(), 1e-9)
	want := 0.5 * 3 / (0.5 + 3*59.0/61)
	assert.InDelta(t, want, track.Entries[0].Duration(), 1e-6)
}

func TestSynthesizeEmpty(t *testing.T) {
	assert.Empty(t, Synthesizer{}.Synthesize("", 10).Entries)
	assert.Empty(t, Synthesizer{}.Synthesize("Hello.", 0).Entries)
}

func TestMergeShiftsAndRenumbers(t *testing.T) {
	first := Synthesizer{}.Synthesize("One. Two.", 4)
	second := Synthesizer{}.Synthesize("Three.", 3)

	merged := Merge([]ChunkTrack{
		{Track: first, ClipDuration: 4.5},
		{Track: Track{}, ClipDuration: 2},
		{Track: second, ClipDuration: 3},
	})

	require.Len(t, merged.Entries, 3)
	for i, e := range merged.Entries {
		assert.Equal(t, i+1, e.Index)
	}
	assert.InDelta(t, 6.5, merged.Entries[2].Start, 1e-9)
	assert.InDelta(t, 9.5, merged.Entries[2].End, 1e-9)
	assert.Equal(t, "Three.", merged.Entries[2].Text)
}

func TestTimestamps(t *testing.T) {
	assert.Equal(t, "00:00:00,000", FormatTimestamp(0))
	assert.Equal(t, "00:01:05,250", FormatTimestamp(65.25))
	assert.Equal(t, "01:00:00,001", FormatTimestamp(3600.001))
	assert.Equal(t, "00:00:02,000", FormatTimestamp(1.9996))

	v, err := ParseTimestamp("01:02:03,456")
	require.NoError(t, err)
	assert.InDelta(t, 3723.456, v, 1e-9)

	v, err = ParseTimestamp("00:00:01.500")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-9)

	_, err = ParseTimestamp("garbage")
	assert.Error(t, err)
}

func TestSRTRoundTrip(t *testing.T) {
	track := Track{Entries: []Entry{
		{Index: 1, Start: 0, End: 1.5, Text: "Xin chào."},
		{Index: 2, Start: 1.5, End: 3.25, Text: "line one\nline two"},
	}}
	path := filepath.Join(t.TempDir(), "srt", "chunk_0.srt")
	require.NoError(t, WriteFile(path, track))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, track, got)
}

func TestDecodeToleratesBOMAndMissingTrailingBlank(t *testing.T) {
	src := "\ufeff1\n00:00:00,000 --> 00:00:01,000\nhello\n\n2\n00:00:01,000 --> 00:00:02,000\nworld"
	got, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "world", got.Entries[1].Text)
}
