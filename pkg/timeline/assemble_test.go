package timeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConcatWithSilencePreservesGap(t *testing.T) {
	runner, fake := newTestRunner()
	dir := t.TempDir()
	a := NewAssembler(zap.NewNop(), runner, AssemblerOptions{})

	first := writeClip(t, fake, dir, "a.mp3", 2)
	second := writeClip(t, fake, dir, "b.mp3", 2)
	out := filepath.Join(dir, "merged.mp3")

	// 传入顺序故意颠倒
	res := a.ConcatWithSilence(context.Background(), []TimedClip{
		{Segment: NewSegment("b", 4, 6, nil), Clip: AudioClip{Path: second, ActualDuration: 2}},
		{Segment: NewSegment("a", 0, 2, nil), Clip: AudioClip{Path: first, ActualDuration: 2}},
	}, dir, out)

	require.False(t, res.Placeholder, res.Error)
	require.Len(t, res.Clips, 3)
	assert.Equal(t, first, res.Clips[0].Path)
	assert.True(t, res.Clips[1].Silence)
	assert.Equal(t, second, res.Clips[2].Path)

	silence, ok := fake.Duration(res.Clips[1].Path)
	require.True(t, ok)
	assert.InDelta(t, 2.0, silence, 0.01)

	assert.True(t, res.Measured)
	assert.InDelta(t, 6.0, res.Duration, 0.01)
	assert.Len(t, fake.CallsContaining("anullsrc=r=44100:cl=stereo"), 1)
	assert.Len(t, fake.CallsContaining("-c copy"), 1)
}

func TestConcatWithSilenceIgnoresTinyGaps(t *testing.T) {
	runner, fake := newTestRunner()
	dir := t.TempDir()
	a := NewAssembler(zap.NewNop(), runner, AssemblerOptions{})

	res := a.ConcatWithSilence(context.Background(), []TimedClip{
		{Segment: NewSegment("a", 0, 2, nil), Clip: AudioClip{Path: writeClip(t, fake, dir, "a.mp3", 2)}},
		{Segment: NewSegment("b", 2.05, 4, nil), Clip: AudioClip{Path: writeClip(t, fake, dir, "b.mp3", 1.95)}},
	}, dir, filepath.Join(dir, "out.mp3"))

	assert.Len(t, res.Clips, 2)
	assert.Empty(t, fake.CallsContaining("anullsrc"))
	assert.InDelta(t, 3.95, res.Duration, 0.01)
}

func TestConcatWithSilenceFlagsPlaceholderOnFailure(t *testing.T) {
	runner, fake := newTestRunner()
	dir := t.TempDir()
	fake.FailWhen = func(args []string) bool { return strings.Contains(strings.Join(args, " "), "-f concat") }
	a := NewAssembler(zap.NewNop(), runner, AssemblerOptions{})

	out := filepath.Join(dir, "out.mp3")
	res := a.ConcatWithSilence(context.Background(), []TimedClip{
		{Segment: NewSegment("a", 0, 2, nil), Clip: AudioClip{Path: writeClip(t, fake, dir, "a.mp3", 2)}},
	}, dir, out)

	assert.True(t, res.Placeholder)
	assert.NotEmpty(t, res.Error)
	assert.True(t, IsPlaceholder(out))
	assert.False(t, res.Measured)
}

func TestMergeChunksInsertsFixedPause(t *testing.T) {
	runner, fake := newTestRunner()
	dir := t.TempDir()
	a := NewAssembler(zap.NewNop(), runner, AssemblerOptions{ChunkPause: 1.0})

	paths := []string{
		writeClip(t, fake, dir, "c1.mp3", 3),
		writeClip(t, fake, dir, "c2.mp3", 4),
		writeClip(t, fake, dir, "c3.mp3", 5),
	}
	res, err := a.MergeChunks(context.Background(), paths, dir, filepath.Join(dir, "chapter.mp3"))
	require.NoError(t, err)

	require.Len(t, res.Clips, 5)
	assert.True(t, res.Clips[1].Silence)
	assert.True(t, res.Clips[3].Silence)
	assert.False(t, res.Clips[4].Silence)
	assert.InDelta(t, 14.0, res.Duration, 0.01)
}

func TestMergeChunksMissingClip(t *testing.T) {
	runner, _ := newTestRunner()
	dir := t.TempDir()
	a := NewAssembler(zap.NewNop(), runner, AssemblerOptions{})

	_, err := a.MergeChunks(context.Background(), []string{filepath.Join(dir, "nope.mp3")}, dir, filepath.Join(dir, "x.mp3"))
	assert.True(t, errors.Is(err, ErrMissingClip))

	_, err = a.MergeChunks(context.Background(), nil, dir, filepath.Join(dir, "x.mp3"))
	assert.True(t, errors.Is(err, ErrNoSegments))
}
