package chunk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	content string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.content, f.err
}

const intro = "The old lighthouse keeper had not spoken to anyone in years. " +
	"One stormy night a ship appeared on the horizon. " +
	"Its lights flickered in a pattern he had not seen since the war. " +
	"He climbed the stairs and answered with his own lamp."

func TestFallbackByParagraph(t *testing.T) {
	text := "First paragraph is long enough.\n\nShort.\n\nSecond paragraph is long enough.\n\n  \n\nThird paragraph also qualifies."
	chunks := Fallback(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, "First paragraph is long enough.", chunks[0].Text)
	assert.Equal(t, 2, chunks[2].Index)
	assert.True(t, strings.HasPrefix(chunks[1].ImagePrompt, imagePromptPrefix))
}

func TestFallbackBySentencePairs(t *testing.T) {
	chunks := Fallback("First sentence here. Second one is here! Third sentence now? Fourth is here. Fifth.")
	require.Len(t, chunks, 3)
	assert.Equal(t, "First sentence here. Second one is here!", chunks[0].Text)
	assert.Equal(t, "Third sentence now? Fourth is here.", chunks[1].Text)
	assert.Equal(t, "Fifth.", chunks[2].Text)
}

func TestDefaultImagePromptTruncates(t *testing.T) {
	p := DefaultImagePrompt(strings.Repeat("字", 300))
	assert.Equal(t, 200, len([]rune(strings.TrimPrefix(p, imagePromptPrefix))))
}

func TestParseResponse(t *testing.T) {
	content := "```json\n[{\"chunk_index\":0,\"text\":\" Hello there. \",\"image_prompt\":\"a lighthouse\"},{\"text\":\"\"},{\"text\":\"Bye.\"}]\n```"
	chunks, err := ParseResponse(content)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello there.", chunks[0].Text)
	assert.Equal(t, "a lighthouse", chunks[0].ImagePrompt)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, DefaultImagePrompt("Bye."), chunks[1].ImagePrompt)

	_, err = ParseResponse("not json")
	assert.Error(t, err)
	_, err = ParseResponse("[]")
	assert.Error(t, err)
}

func TestDedupRemovesRepeats(t *testing.T) {
	chunks := []Chunk{
		{Text: "The old lighthouse keeper had not spoken to anyone in years."},
		{Text: "One stormy night a ship appeared on the horizon."},
		{Text: "The old lighthouse keeper had not spoken to anyone in years."},
	}
	kept, removed := Dedup(chunks)
	assert.Equal(t, 1, removed)
	require.Len(t, kept, 2)
	assert.Equal(t, 1, kept[1].Index)
}

func TestDedupKeepsDistinctSentences(t *testing.T) {
	chunks := []Chunk{
		{Text: "The old lighthouse keeper had not spoken to anyone in years."},
		{Text: "One stormy night a ship appeared on the horizon."},
		{Text: "He lit the lamp and waited by the window."},
		{Text: "By morning the sea was calm again."},
		{Text: "Nobody in the village believed his story."},
		{Text: "the OLD lighthouse keeper  had not spoken to anyone in years."},
	}
	kept, removed := Dedup(chunks)
	assert.Equal(t, 1, removed)
	require.Len(t, kept, 5)
	for i, c := range kept {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, chunks[i].Text, c.Text)
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1, Similarity("a  b c", "a b c"), 1e-9)
	assert.InDelta(t, 0, Similarity("abc", "xyz"), 1e-9)
	assert.Greater(t, Similarity(intro, strings.ReplaceAll(intro, "stormy", "calm")), 0.9)
}

func TestSplitWithModel(t *testing.T) {
	gen := &fakeGenerator{content: "```json\n[" +
		`{"text":"The old lighthouse keeper had not spoken to anyone in years. One stormy night a ship appeared on the horizon.","image_prompt":"lonely lighthouse"},` +
		`{"text":"The old lighthouse keeper had not spoken to anyone in years. One stormy night a ship appeared on the horizon.","image_prompt":"dup"},` +
		`{"text":"Its lights flickered in a pattern he had not seen since the war. He climbed the stairs and answered with his own lamp.","image_prompt":"signal lamp"}` +
		"]\n```"}
	c := NewChunker(zap.NewNop(), gen)

	res, err := c.Split(context.Background(), Source{Title: "Keeper", Text: intro})
	require.NoError(t, err)
	assert.True(t, res.UsedAI)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "signal lamp", res.Chunks[1].ImagePrompt)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "- Title: Keeper")
	assert.Contains(t, gen.prompts[0], intro)
}

func TestSplitFallsBack(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"model error", &fakeGenerator{err: errors.New("quota")}},
		{"bad json", &fakeGenerator{content: "sorry"}},
		{"diverging text", &fakeGenerator{content: `[{"text":"Completely unrelated words about cooking pasta."}]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewChunker(zap.NewNop(), tt.gen).Split(context.Background(), Source{Text: intro})
			require.NoError(t, err)
			assert.False(t, res.UsedAI)
			assert.NotEmpty(t, res.FallbackReason)
			assert.Len(t, res.Chunks, 2)
		})
	}

	res, err := NewChunker(nil, nil).Split(context.Background(), Source{Text: intro})
	require.NoError(t, err)
	assert.False(t, res.UsedAI)

	_, err = NewChunker(nil, nil).Split(context.Background(), Source{Text: "  "})
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestChunkValidate(t *testing.T) {
	c := Chunk{Index: 2, ImagePath: "a.png"}
	assert.ErrorIs(t, c.Validate(), ErrChunkIncomplete)
	assert.False(t, c.Ready())

	c.AudioPath, c.AudioDuration = "a.mp3", 3.2
	assert.NoError(t, c.Validate())
	assert.True(t, c.Ready())
}
