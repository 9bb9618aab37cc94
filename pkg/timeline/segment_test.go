package timeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func words(n int, last string) string {
	return strings.TrimSpace(strings.Repeat("word ", n-1) + last)
}

func TestSegmentEmptyInput(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSegmentFirstStartsAtZero(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment([]TranscriptEntry{{Text: "hello", Start: 1.2, Duration: 1}})
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].StartTime)
	assert.InDelta(t, 2.2, got[0].EndTime, 1e-9)
	assert.InDelta(t, 2.2, got[0].Duration, 1e-9)
}

func TestSegmentBreaksOnGap(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment([]TranscriptEntry{
		{Text: "first part", Start: 0, Duration: 1},
		{Text: "second part", Start: 3.5, Duration: 1},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "first part", got[0].Text)
	assert.InDelta(t, 1.0, got[0].EndTime, 1e-9)
	assert.InDelta(t, 3.5, got[1].StartTime, 1e-9)
	assert.InDelta(t, 4.5, got[1].EndTime, 1e-9)
}

func TestSegmentSmallGapDoesNotBreak(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment([]TranscriptEntry{
		{Text: "one", Start: 0, Duration: 1},
		{Text: "two", Start: 1.4, Duration: 1},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "one two", got[0].Text)
	assert.Len(t, got[0].SourceEntries, 2)
}

func TestSegmentPunctuationNeedsMinimumWords(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment([]TranscriptEntry{
		{Text: words(10, "end."), Start: 0, Duration: 2},
		{Text: words(12, "end."), Start: 2, Duration: 2},
		{Text: "tail", Start: 4, Duration: 1},
	})
	require.Len(t, got, 2)
	assert.Len(t, got[0].SourceEntries, 2)
	assert.Equal(t, "tail", got[1].Text)
	assert.InDelta(t, 4.0, got[0].EndTime, 1e-9)
	assert.InDelta(t, 4.0, got[1].StartTime, 1e-9)
}

func TestSegmentWordLimit(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment([]TranscriptEntry{
		{Text: words(50, "w"), Start: 0, Duration: 3},
		{Text: words(30, "w"), Start: 3, Duration: 3},
		{Text: "after", Start: 6, Duration: 1},
	})
	require.Len(t, got, 2)
	assert.Len(t, got[0].SourceEntries, 2)
}

func TestSegmentDurationLimit(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	var entries []TranscriptEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, TranscriptEntry{Text: "short", Start: float64(i) * 4, Duration: 4})
	}
	got := s.Segment(entries)
	require.Len(t, got, 2)
	assert.Len(t, got[0].SourceEntries, 4)
	assert.Len(t, got[1].SourceEntries, 1)
	assert.InDelta(t, 16.0, got[1].StartTime, 1e-9)
}

func TestSegmentNeverOverlaps(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{})
	got := s.Segment([]TranscriptEntry{
		{Text: words(25, "done."), Start: 0, Duration: 3},
		{Text: words(25, "again."), Start: 2.5, Duration: 3},
		{Text: words(5, "x"), Start: 5.2, Duration: 2},
		{Text: words(5, "y"), Start: 9, Duration: 1},
	})
	require.True(t, Validate(got))
	assert.InDelta(t, 2.5, got[0].EndTime, 1e-9)
	for i := 0; i+1 < len(got); i++ {
		assert.LessOrEqual(t, got[i].EndTime, got[i+1].StartTime)
		assert.InDelta(t, got[i].EndTime-got[i].StartTime, got[i].Duration, 1e-9)
	}
}

func TestSegmentCJKPunctuation(t *testing.T) {
	s := NewSegmenter(zap.NewNop(), SegmentOptions{MinWordsForBreak: 1})
	got := s.Segment([]TranscriptEntry{
		{Text: "今天天气很好。", Start: 0, Duration: 2},
		{Text: "我们出门吧", Start: 2, Duration: 2},
	})
	require.Len(t, got, 2)
}

func TestMergeIntoSentences(t *testing.T) {
	got := MergeIntoSentences([]TranscriptEntry{
		{Text: "so what we", Start: 0, Duration: 1},
		{Text: "found was this.", Start: 1, Duration: 1.5},
		{Text: "Then", Start: 2.5, Duration: 0.5},
		{Text: "more", Start: 3, Duration: 0.5},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "so what we found was this.", got[0].Text)
	assert.InDelta(t, 2.5, got[0].Duration, 1e-9)
	assert.Equal(t, "Then more", got[1].Text)
	assert.InDelta(t, 2.5, got[1].Start, 1e-9)
}
