package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg"
	"github.com/beewebpro/new-sumotech-sub000/pkg/ffmpeg/ffmpegtest"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/provider"
	"github.com/beewebpro/new-sumotech-sub000/pkg/subtitle"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
)

type fakeImages struct {
	failOn string
}

func (f fakeImages) Generate(_ context.Context, _ string, output string) error {
	if f.failOn != "" && strings.Contains(output, f.failOn) {
		return errors.New("render failed")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("png"), 0644)
}

type ledgerCall struct {
	op     string
	run    string
	item   string
	detail string
	ok     bool
}

type recordingLedger struct {
	mu    sync.Mutex
	calls []ledgerCall
}

func (l *recordingLedger) add(c ledgerCall) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
	return nil
}

func (l *recordingLedger) StartRun(runID, kind string, total int) error {
	return l.add(ledgerCall{op: "start_run", run: runID, detail: kind})
}

func (l *recordingLedger) FinishRun(runID string, succeeded, failed int, _ string) error {
	return l.add(ledgerCall{op: "finish_run", run: runID, ok: failed == 0})
}

func (l *recordingLedger) StartItem(runID, itemID string) error {
	return l.add(ledgerCall{op: "start_item", run: runID, item: itemID})
}

func (l *recordingLedger) FinishItem(runID, itemID string, ok bool, _, _ string) error {
	return l.add(ledgerCall{op: "finish_item", run: runID, item: itemID, ok: ok})
}

func (l *recordingLedger) RecordStep(runID, itemID, step string, _ time.Time, err error, _ string) error {
	return l.add(ledgerCall{op: "step", run: runID, item: itemID, detail: step, ok: err == nil})
}

func (l *recordingLedger) ops(op string) []ledgerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledgerCall
	for _, c := range l.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []progress.Update
}

func (r *recordingReporter) Report(u progress.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingReporter) forJob(id string) []progress.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Update
	for _, u := range r.updates {
		if u.JobID == id {
			out = append(out, u)
		}
	}
	return out
}

func newTestProcessor(t *testing.T, deps Deps, tweak ...func(*config.Config)) (*Processor, *ffmpegtest.FakeExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workflow.WorkRoot = filepath.Join(dir, "work")
	cfg.Workflow.OutputRoot = filepath.Join(dir, "output")
	cfg.Music.IntroPath = ""
	cfg.Music.OutroPath = ""
	cfg.Music.BackgroundPath = ""
	cfg.Video.Transitions = []string{"fade"}
	for _, f := range tweak {
		f(cfg)
	}

	fake := ffmpegtest.New()
	deps.Runner = ffmpeg.NewRunner(zap.NewNop(), fake, ffmpeg.RunnerConfig{})
	p, err := NewProcessor(zap.NewNop(), cfg, deps)
	require.NoError(t, err)
	return p, fake, dir
}

func writeMedia(t *testing.T, fake *ffmpegtest.FakeExecutor, dir, name string, duration float64) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte("media"), 0644))
	if duration > 0 {
		fake.SetDuration(p, duration)
	}
	return p
}

func TestNewProcessorRequiresRunner(t *testing.T) {
	_, err := NewProcessor(zap.NewNop(), config.Default(), Deps{})
	assert.Error(t, err)
}

func TestBatchChapterAudiosIsolatesFailures(t *testing.T) {
	p, fake, dir := newTestProcessor(t, Deps{})

	var reqs []ChapterAudioRequest
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		a := writeMedia(t, fake, dir, "ch"+id+"_a.mp3", 3)
		b := writeMedia(t, fake, dir, "ch"+id+"_b.mp3", 4)
		if id == "3" {
			b = filepath.Join(dir, "missing.mp3")
		}
		reqs = append(reqs, ChapterAudioRequest{ChapterID: id, ChunkAudio: []string{a, b}})
	}

	res := p.BatchChapterAudios(context.Background(), "batch-1", reqs)
	assert.Equal(t, "batch-1", res.RunID)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 4, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"3"}, res.FailedIDs())

	require.Len(t, res.Results, 5)
	for i, r := range res.Results {
		assert.Equal(t, reqs[i].ChapterID, r.ID)
	}
	assert.Contains(t, res.Results[2].Error, "missing")

	first := res.Results[0]
	assert.True(t, first.Success)
	assert.InDelta(t, 8.0, first.Duration, 1e-6)
	assert.FileExists(t, first.Output)
	assert.Equal(t, filepath.Join(dir, "output", "chapters", "chapter_1.mp3"), first.Output)
}

func TestRunBatchParallelKeepsOrder(t *testing.T) {
	p, _, _ := newTestProcessor(t, Deps{}, func(c *config.Config) { c.Workflow.MaxParallel = 3 })

	var jobs []Job
	for _, id := range []string{"a", "b", "c", "d"} {
		jobs = append(jobs, Job{ID: id, Run: func(ctx context.Context) (ItemResult, error) {
			switch id {
			case "b":
				return ItemResult{}, errors.New("boom")
			case "c":
				panic("unexpected")
			}
			return ItemResult{Output: id + ".mp3"}, nil
		}})
	}

	res := p.RunBatch(context.Background(), "test", "", jobs)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"b", "c"}, res.FailedIDs())
	assert.Equal(t, "a.mp3", res.Results[0].Output)
	assert.Contains(t, res.Results[2].Error, "panic")
	assert.Equal(t, "d", res.Results[3].ID)
}

func TestChapterAudioFromTexts(t *testing.T) {
	p, _, _ := newTestProcessor(t, Deps{})
	mock := provider.NewMockSpeech(nil, nil, 0)
	texts := []string{"The first chunk of the chapter.", "The second chunk, a little bit longer than the first."}

	res, err := p.GenerateChapterAudio(context.Background(), ChapterAudioRequest{ChapterID: "7", ChunkTexts: texts})
	require.NoError(t, err)
	want := mock.EstimateDuration(texts[0]) + 1.0 + mock.EstimateDuration(texts[1])
	assert.InDelta(t, want, res.Duration, 1e-6)
	assert.Equal(t, 2, res.Chunks)
	assert.False(t, res.Mixed)
}

func TestChapterAudioRecordsLedger(t *testing.T) {
	ledger := &recordingLedger{}
	reporter := &recordingReporter{}
	p, fake, dir := newTestProcessor(t, Deps{Ledger: ledger, Reporter: reporter})
	a := writeMedia(t, fake, dir, "a.mp3", 2)

	_, err := p.GenerateChapterAudio(context.Background(), ChapterAudioRequest{ChapterID: "9", ChunkAudio: []string{a}})
	require.NoError(t, err)

	runs := ledger.ops("start_run")
	require.Len(t, runs, 1)
	assert.Equal(t, "chapter_audio", runs[0].detail)
	items := ledger.ops("finish_item")
	require.Len(t, items, 1)
	assert.Equal(t, "chapter_9", items[0].item)
	assert.True(t, items[0].ok)

	steps := ledger.ops("step")
	require.NotEmpty(t, steps)
	assert.Equal(t, "merge_chunks", steps[0].detail)
	assert.Equal(t, runs[0].run, steps[0].run)

	updates := reporter.forJob("chapter_9")
	require.NotEmpty(t, updates)
	assert.Equal(t, progress.StatusStarted, updates[0].Status)
	last := updates[len(updates)-1]
	assert.Equal(t, progress.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Percent)
}

func TestChapterVideo(t *testing.T) {
	p, fake, dir := newTestProcessor(t, Deps{})
	img := writeMedia(t, fake, dir, "cover.png", 0)
	audio := writeMedia(t, fake, dir, "chapter.mp3", 42.5)

	res, err := p.GenerateChapterVideo(context.Background(), ChapterVideoRequest{ChapterID: "2", Image: img, Audio: audio})
	require.NoError(t, err)
	assert.InDelta(t, 42.5, res.Duration, 1e-6)
	assert.FileExists(t, res.Path)
	assert.Len(t, fake.CallsContaining("zoompan"), 1)

	_, err = p.GenerateChapterVideo(context.Background(), ChapterVideoRequest{ChapterID: "3", Image: filepath.Join(dir, "none.png"), Audio: audio})
	assert.ErrorIs(t, err, ErrMissingAsset)
}

func TestChapterRejectsPlaceholderAudio(t *testing.T) {
	p, fake, dir := newTestProcessor(t, Deps{})
	img := writeMedia(t, fake, dir, "cover.png", 0)
	broken := filepath.Join(dir, "broken.mp3")
	require.NoError(t, os.WriteFile(broken, []byte(timeline.PlaceholderContent), 0644))
	fake.SetDuration(broken, 3)

	_, err := p.GenerateChapterAudio(context.Background(), ChapterAudioRequest{ChapterID: "1", ChunkAudio: []string{broken}})
	assert.ErrorIs(t, err, ErrMissingAsset)

	_, err = p.GenerateChapterVideo(context.Background(), ChapterVideoRequest{ChapterID: "1", Image: img, Audio: broken})
	assert.ErrorIs(t, err, ErrMissingAsset)
	assert.Empty(t, fake.CallsContaining("zoompan"))
}

func TestDubTranscript(t *testing.T) {
	p, fake, _ := newTestProcessor(t, Deps{})
	entries := []timeline.TranscriptEntry{
		{Text: "Alpha beta gamma.", Start: 0, Duration: 2},
		{Text: "Delta epsilon.", Start: 5, Duration: 2},
	}

	res, err := p.DubTranscript(context.Background(), DubRequest{ID: "dub-1", Entries: entries})
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Len(t, res.Clips, 2)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 2, res.Adjusted)
	assert.InDelta(t, 7.0, res.Duration, 1e-6)
	assert.FileExists(t, res.Path)
	assert.Len(t, fake.CallsContaining("atempo"), 2)
}

func TestDubTranscriptSkipsFailedSegments(t *testing.T) {
	p, fake, _ := newTestProcessor(t, Deps{})
	fake.FailWhen = func(args []string) bool {
		return strings.HasSuffix(args[len(args)-1], "seg_0001.mp3")
	}
	entries := []timeline.TranscriptEntry{
		{Text: "Alpha beta gamma.", Start: 0, Duration: 2},
		{Text: "Delta epsilon.", Start: 5, Duration: 2},
	}

	res, err := p.DubTranscript(context.Background(), DubRequest{Entries: entries})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 1, res.Skipped[0].Index)
	assert.InDelta(t, 2.0, res.Duration, 1e-6)
}

func TestDubTranscriptMergesSentences(t *testing.T) {
	p, _, _ := newTestProcessor(t, Deps{})
	entries := []timeline.TranscriptEntry{
		{Text: "Alpha beta", Start: 0, Duration: 1},
		{Text: "gamma.", Start: 2, Duration: 1},
		{Text: "Delta epsilon.", Start: 5, Duration: 2},
	}

	plain, err := p.DubTranscript(context.Background(), DubRequest{Entries: entries})
	require.NoError(t, err)
	assert.Len(t, plain.Segments, 3)

	merged, err := p.DubTranscript(context.Background(), DubRequest{Entries: entries, MergeSentences: true})
	require.NoError(t, err)
	require.Len(t, merged.Segments, 2)
	assert.Equal(t, "Alpha beta gamma.", merged.Segments[0].Text)
	assert.InDelta(t, 5.0, merged.Segments[1].StartTime, 1e-9)
}

func TestDubTranscriptEmpty(t *testing.T) {
	p, _, _ := newTestProcessor(t, Deps{})
	_, err := p.DubTranscript(context.Background(), DubRequest{})
	assert.ErrorIs(t, err, ErrNothingToCompose)
}

const descriptionText = `The old lighthouse keeper had not seen a ship in eleven years.

Every night he climbed the stairs and lit the lamp anyway.

One winter evening a small boat appeared on the horizon.`

func TestDescriptionVideo(t *testing.T) {
	p, fake, _ := newTestProcessor(t, Deps{Images: fakeImages{}}, func(c *config.Config) { c.Subtitle.Burn = true })

	res, err := p.GenerateDescriptionVideo(context.Background(), DescriptionRequest{ID: "desc", Title: "Lighthouse", Text: descriptionText})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)
	assert.Zero(t, res.Failed)
	assert.False(t, res.UsedAI)
	assert.True(t, res.Transitions)
	assert.Equal(t, compose.BurnHard, res.BurnMode)

	sum := 0.0
	for _, c := range res.Chunks {
		sum += c.Duration
	}
	assert.InDelta(t, sum-2*0.5, res.Duration, 1e-6)
	assert.FileExists(t, res.Path)
	assert.Len(t, fake.CallsContaining("xfade"), 1)

	track, err := subtitle.ReadFile(res.SubtitlePath)
	require.NoError(t, err)
	require.Len(t, track.Entries, 3)
	assert.InDelta(t, res.Chunks[0].Duration, track.Entries[1].Start, 1e-3)
	assert.InDelta(t, res.Chunks[0].Duration+res.Chunks[1].Duration, track.Entries[2].Start, 1e-3)
}

func TestDescriptionVideoSkipsFailedChunk(t *testing.T) {
	p, _, _ := newTestProcessor(t, Deps{Images: fakeImages{failOn: "chunk_001"}}, func(c *config.Config) { c.Subtitle.Burn = false })

	res, err := p.GenerateDescriptionVideo(context.Background(), DescriptionRequest{Text: descriptionText})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.NotEmpty(t, res.Chunks[1].Error)
	assert.Equal(t, compose.BurnNone, res.BurnMode)
	assert.InDelta(t, res.Chunks[0].Duration+res.Chunks[2].Duration-0.5, res.Duration, 1e-6)
}

func TestDescriptionVideoWithoutImages(t *testing.T) {
	p, _, _ := newTestProcessor(t, Deps{})
	res, err := p.GenerateDescriptionVideo(context.Background(), DescriptionRequest{Text: descriptionText})
	assert.ErrorIs(t, err, ErrNothingToCompose)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Failed)
}

func TestComposeSceneVideoMatchesNarration(t *testing.T) {
	p, fake, dir := newTestProcessor(t, Deps{})
	narration := writeMedia(t, fake, dir, "narration.mp3", 12)
	scenes := []SceneInput{
		{Image: writeMedia(t, fake, dir, "s1.png", 0), Text: "A short line."},
		{Image: writeMedia(t, fake, dir, "s2.png", 0), Text: "A considerably longer line of narration for the middle scene."},
		{Video: writeMedia(t, fake, dir, "s3.mp4", 20), Text: "Closing words."},
	}

	res, err := p.ComposeSceneVideo(context.Background(), SceneVideoRequest{ID: "scenes", Scenes: scenes, Narration: narration})
	require.NoError(t, err)
	require.Len(t, res.Scenes, 3)

	total := 0.0
	for _, s := range res.Scenes {
		assert.GreaterOrEqual(t, s.AllocatedDuration, 3.0-1e-9)
		total += s.AllocatedDuration
	}
	assert.InDelta(t, 13.0, total, 1e-6)
	assert.Greater(t, res.Scenes[1].AllocatedDuration, res.Scenes[0].AllocatedDuration)
	assert.InDelta(t, 12.0, res.Duration, 1e-2)
	assert.InDelta(t, 12.0, res.Narration, 1e-6)
	assert.True(t, res.Transitions)
	assert.FileExists(t, res.Path)
	assert.Len(t, fake.CallsContaining("-stream_loop"), 1)
}

func TestComposeSceneVideoMissingAsset(t *testing.T) {
	p, fake, dir := newTestProcessor(t, Deps{})
	narration := writeMedia(t, fake, dir, "narration.mp3", 12)
	_, err := p.ComposeSceneVideo(context.Background(), SceneVideoRequest{
		Scenes:    []SceneInput{{Image: filepath.Join(dir, "nope.png")}},
		Narration: narration,
	})
	assert.ErrorIs(t, err, ErrMissingAsset)
	assert.Empty(t, fake.FFmpegCalls())
}

func TestLoadManifestResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	manifest := `job_id: nightly
chapter_audio:
  - chapter_id: "1"
    chunk_audio: [audio/1a.mp3, /abs/1b.mp3]
    outro: "-"
chapter_video:
  - chapter_id: "1"
    image: covers/1.png
    audio: output/chapter_1.mp3
scene_video:
  - scenes:
      - image: img/a.png
        text: hello
    narration: narration.mp3
dub:
  - entries:
      - {text: "Hi.", start: 0, duration: 1}
`
	path := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", m.JobID)
	require.Len(t, m.ChapterAudio, 1)
	assert.Equal(t, []string{filepath.Join(dir, "audio/1a.mp3"), "/abs/1b.mp3"}, m.ChapterAudio[0].ChunkAudio)
	assert.Equal(t, "-", m.ChapterAudio[0].Outro)
	assert.Equal(t, filepath.Join(dir, "covers/1.png"), m.ChapterVideo[0].Image)
	assert.Equal(t, filepath.Join(dir, "img/a.png"), m.SceneVideo[0].Scenes[0].Image)
	assert.Equal(t, filepath.Join(dir, "narration.mp3"), m.SceneVideo[0].Narration)
	require.Len(t, m.Dub[0].Entries, 1)
	assert.InDelta(t, 1.0, m.Dub[0].Entries[0].Duration, 1e-9)
	assert.False(t, m.Empty())

	_, err = LoadManifest(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestRunManifest(t *testing.T) {
	p, fake, dir := newTestProcessor(t, Deps{})
	a := writeMedia(t, fake, dir, "a.mp3", 2)
	img := writeMedia(t, fake, dir, "cover.png", 0)
	audio := writeMedia(t, fake, dir, "ready.mp3", 6)

	report := p.RunManifest(context.Background(), &Manifest{
		ChapterAudio: []ChapterAudioRequest{{ChapterID: "1", ChunkAudio: []string{a}}, {ChapterID: "2"}},
		ChapterVideo: []ChapterVideoRequest{{ChapterID: "1", Image: img, Audio: audio}},
	})
	require.NotNil(t, report.ChapterAudio)
	require.NotNil(t, report.ChapterVideo)
	assert.Nil(t, report.Dub)
	assert.Equal(t, 1, report.ChapterAudio.Success)
	assert.Equal(t, []string{"2"}, report.ChapterAudio.FailedIDs())
	assert.Equal(t, 1, report.ChapterVideo.Success)
	assert.Equal(t, 1, report.Failed())
}
