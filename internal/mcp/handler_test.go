package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	mcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg/ffmpegtest"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

func newTestServer(t *testing.T) (*Server, *ffmpegtest.FakeExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workflow.WorkRoot = filepath.Join(dir, "work")
	cfg.Workflow.OutputRoot = filepath.Join(dir, "output")

	fake := ffmpegtest.New()
	p, err := workflow.NewProcessor(zap.NewNop(), cfg, workflow.Deps{
		Runner: ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{}),
	})
	require.NoError(t, err)
	s, err := NewServer(p, zap.NewNop())
	require.NoError(t, err)
	return s, fake, dir
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestRegisteredTools(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Equal(t, []string{
		"segment_transcript",
		"allocate_scene_durations",
		"transition_offsets",
		"build_chunk_subtitles",
		"dub_transcript",
		"generate_description_video",
		"batch_chapter_audio",
		"compose_scene_video",
	}, s.GetToolNames())
	for _, tool := range s.GetHandler().Tools() {
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
}

func TestAllocateTool(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.GetHandler().handleAllocate(context.Background(), call("allocate_scene_durations", map[string]any{
		"texts":        `["one", "two two", "three three three"]`,
		"total":        30.0,
		"min_duration": 3.0,
		"transition":   0.5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Durations         []float64 `json:"durations"`
		CompositeDuration float64   `json:"composite_duration"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.Len(t, out.Durations, 3)
	sum := 0.0
	for _, d := range out.Durations {
		sum += d
	}
	assert.InDelta(t, 30.0, sum, 1e-6)
	assert.InDelta(t, 29.0, out.CompositeDuration, 1e-6)
}

func TestAllocateToolRejectsBadJSON(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.GetHandler().handleAllocate(context.Background(), call("allocate_scene_durations", map[string]any{
		"texts": "not json",
		"total": 10.0,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTransitionOffsetsTool(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.GetHandler().handleTransitionOffsets(context.Background(), call("transition_offsets", map[string]any{
		"durations":  "[10, 8, 12]",
		"transition": 0.5,
	}))
	require.NoError(t, err)

	var out struct {
		Offsets []float64 `json:"offsets"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, []float64{9.5, 17.0}, out.Offsets)
}

func TestSegmentTranscriptTool(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.GetHandler().handleSegmentTranscript(context.Background(), call("segment_transcript", map[string]any{
		"entries": `[{"text":"Hello there.","start":0,"duration":2},{"text":"Later on.","start":6,"duration":2}]`,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Segments []struct {
			StartTime float64 `json:"start_time"`
			EndTime   float64 `json:"end_time"`
		} `json:"segments"`
		UsedAI bool `json:"used_ai"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.Len(t, out.Segments, 2)
	assert.False(t, out.UsedAI)
	assert.InDelta(t, 6.0, out.Segments[1].StartTime, 1e-9)
}

func TestChunkSubtitlesTool(t *testing.T) {
	s, _, dir := newTestServer(t)
	out := filepath.Join(dir, "chunk.srt")
	res, err := s.GetHandler().handleChunkSubtitles(context.Background(), call("build_chunk_subtitles", map[string]any{
		"text":           "First sentence here. Second one follows.",
		"audio_duration": 6.0,
		"output_file":    out,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "00:00:06,000")
	assert.FileExists(t, out)
}

func TestBatchChapterAudioTool(t *testing.T) {
	s, fake, dir := newTestServer(t)
	chunk := filepath.Join(dir, "c.mp3")
	require.NoError(t, os.WriteFile(chunk, []byte("media"), 0644))
	fake.SetDuration(chunk, 3)

	chapters, err := json.Marshal([]workflow.ChapterAudioRequest{
		{ChapterID: "1", ChunkAudio: []string{chunk}},
		{ChapterID: "2", ChunkAudio: []string{filepath.Join(dir, "missing.mp3")}},
	})
	require.NoError(t, err)

	res, err := s.GetHandler().handleBatchChapterAudio(context.Background(), call("batch_chapter_audio", map[string]any{
		"chapters": string(chapters),
		"job_id":   "mcp-batch",
	}))
	require.NoError(t, err)

	var out workflow.BatchResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "mcp-batch", out.RunID)
	assert.Equal(t, 1, out.Success)
	assert.Equal(t, []string{"2"}, out.FailedIDs())
}

func TestSceneVideoToolMissingNarration(t *testing.T) {
	s, _, _ := newTestServer(t)
	res, err := s.GetHandler().handleSceneVideo(context.Background(), call("compose_scene_video", map[string]any{
		"scenes": `[{"image":"a.png","text":"x"}]`,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
