package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/compose"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/provider"
	"github.com/beewebpro/new-sumotech-sub000/pkg/timeline"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workspace"
)

// Voice 语音合成参数，为空时使用配置
type Voice struct {
	Gender           string `json:"voice_gender,omitempty" yaml:"voice_gender"`
	Name             string `json:"voice_name,omitempty" yaml:"voice_name"`
	StyleInstruction string `json:"style_instruction,omitempty" yaml:"style_instruction"`
}

// ChapterAudioRequest 章节音频。ChunkAudio 为已合成的分块音频；为空时按 ChunkTexts 逐块合成。
type ChapterAudioRequest struct {
	ChapterID  string   `json:"chapter_id" yaml:"chapter_id"`
	ChunkAudio []string `json:"chunk_audio,omitempty" yaml:"chunk_audio"`
	ChunkTexts []string `json:"chunk_texts,omitempty" yaml:"chunk_texts"`
	Voice      Voice    `json:"voice,omitempty" yaml:"voice"`
	// Intro/Outro 覆盖配置中的片头片尾音乐；"-" 表示不加
	Intro  string `json:"intro,omitempty" yaml:"intro"`
	Outro  string `json:"outro,omitempty" yaml:"outro"`
	Output string `json:"output,omitempty" yaml:"output"`
}

// ChapterAudioResult 章节音频结果
type ChapterAudioResult struct {
	ChapterID string  `json:"chapter_id"`
	Path      string  `json:"path"`
	Duration  float64 `json:"duration"`
	Chunks    int     `json:"chunks"`
	Mixed     bool    `json:"mixed"`
	MixError  string  `json:"mix_error,omitempty"`
}

// GenerateChapterAudio 分块音频 ⇒ 固定停顿拼接 ⇒ 片头片尾混音 ⇒ 重新测量时长
func (p *Processor) GenerateChapterAudio(ctx context.Context, req ChapterAudioRequest) (*ChapterAudioResult, error) {
	ctx, finish := p.beginItem(ctx, "chapter_audio", "chapter_"+req.ChapterID)
	res, err := p.generateChapterAudio(ctx, req)
	output := ""
	if res != nil {
		output = res.Path
	}
	finish(output, err)
	return res, err
}

func (p *Processor) generateChapterAudio(ctx context.Context, req ChapterAudioRequest) (*ChapterAudioResult, error) {
	if req.ChapterID == "" {
		return nil, fmt.Errorf("chapter id is required")
	}
	if len(req.ChunkAudio) == 0 && len(req.ChunkTexts) == 0 {
		return nil, fmt.Errorf("章节 %s: %w", req.ChapterID, ErrNothingToCompose)
	}
	for _, path := range req.ChunkAudio {
		if err := checkAudioAsset(path); err != nil {
			return nil, fmt.Errorf("章节 %s: %w", req.ChapterID, err)
		}
	}

	tr := p.tracker("chapter_"+req.ChapterID, "chapter_audio")
	tr.Start("开始生成章节音频")
	p.logger.Info("开始生成章节音频", zap.String("chapter", req.ChapterID))

	ws, err := p.workspaces.Create("chapter_" + req.ChapterID)
	if err != nil {
		tr.Fail(err.Error())
		return nil, err
	}
	defer ws.Cleanup()

	chunks := req.ChunkAudio
	if len(chunks) == 0 {
		chunks, err = p.synthesizeChunks(ctx, ws, req.ChunkTexts, req.Voice, tr)
		if err != nil {
			tr.Fail(err.Error())
			return nil, fmt.Errorf("章节 %s: %w", req.ChapterID, err)
		}
	}

	merged := ws.Audio("merged.mp3")
	var duration float64
	err = p.step(ctx, "merge_chunks", func() (string, error) {
		assembly, err := p.assembler.MergeChunks(ctx, chunks, ws.AudioDir, merged)
		duration = assembly.Duration
		return fmt.Sprintf("%d chunks, %.3fs", len(chunks), assembly.Duration), err
	})
	if err != nil {
		tr.Fail(err.Error())
		return nil, fmt.Errorf("章节 %s: %w: %v", req.ChapterID, ErrNoArtifact, err)
	}
	tr.Step(70, "分块拼接完成")

	intro, outro := p.musicBeds(req.Intro, req.Outro)
	mix := p.mixer.AddIntroOutro(ctx, merged, intro, outro, false, ws.Audio("mixed.mp3"))
	if mix.Mixed && mix.Duration > 0 {
		duration = mix.Duration
	}
	tr.Step(90, "片头片尾处理完成")

	output := req.Output
	if output == "" {
		output = p.outputPath("chapters", "chapter_"+req.ChapterID+".mp3")
	}
	if err := workspace.Publish(mix.Path, output); err != nil {
		tr.Fail(err.Error())
		return nil, fmt.Errorf("章节 %s: %w: %v", req.ChapterID, ErrNoArtifact, err)
	}

	tr.Done("章节音频生成完成")
	p.logger.Info("章节音频生成完成",
		zap.String("chapter", req.ChapterID),
		zap.String("output", output),
		zap.Float64("duration", duration))
	return &ChapterAudioResult{
		ChapterID: req.ChapterID,
		Path:      output,
		Duration:  duration,
		Chunks:    len(chunks),
		Mixed:     mix.Mixed,
		MixError:  mix.Error,
	}, nil
}

// BatchChapterAudios 批量生成章节音频，单章失败不影响其他章节
func (p *Processor) BatchChapterAudios(ctx context.Context, jobID string, reqs []ChapterAudioRequest) BatchResult {
	jobs := make([]Job, len(reqs))
	for i, req := range reqs {
		jobs[i] = Job{ID: req.ChapterID, Run: func(ctx context.Context) (ItemResult, error) {
			res, err := p.generateChapterAudio(ctx, req)
			if err != nil {
				return ItemResult{}, err
			}
			return ItemResult{Output: res.Path, Duration: res.Duration, Result: res}, nil
		}}
	}
	return p.RunBatch(ctx, "chapter_audio", jobID, jobs)
}

// synthesizeChunks 逐块合成语音。任何一块失败，整章失败。
func (p *Processor) synthesizeChunks(ctx context.Context, ws *workspace.Workspace, texts []string, voice Voice, tr *progress.Tracker) ([]string, error) {
	paths := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		out := ws.Audio(fmt.Sprintf("chunk_%03d.mp3", i))
		err := p.step(ctx, "speech", func() (string, error) {
			return fmt.Sprintf("chunk %d", i), p.speech.Synthesize(ctx, p.speechRequest(text, i, voice), out)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: 分块 %d 语音合成失败: %v", ErrMissingAsset, i, err)
		}
		paths = append(paths, out)
		tr.Step(progress.Scale(0, 60, progress.Percent(i+1, len(texts))), fmt.Sprintf("分块 %d 语音合成完成", i))
	}
	if len(paths) == 0 {
		return nil, ErrNothingToCompose
	}
	return paths, nil
}

// ChapterVideoRequest 章节视频：封面图 + 章节音频
type ChapterVideoRequest struct {
	ChapterID string `json:"chapter_id" yaml:"chapter_id"`
	Image     string `json:"image" yaml:"image"`
	Audio     string `json:"audio" yaml:"audio"`
	// Background 背景音乐，"-" 表示不加，为空时使用配置
	Background string `json:"background,omitempty" yaml:"background"`
	Output     string `json:"output,omitempty" yaml:"output"`
}

// ChapterVideoResult 章节视频结果
type ChapterVideoResult struct {
	ChapterID string  `json:"chapter_id"`
	Path      string  `json:"path"`
	Duration  float64 `json:"duration"`
	Mixed     bool    `json:"mixed"`
	MixError  string  `json:"mix_error,omitempty"`
}

// GenerateChapterVideo 封面图 + 章节音频 ⇒ 推近效果片段 ⇒ 可选背景音乐
func (p *Processor) GenerateChapterVideo(ctx context.Context, req ChapterVideoRequest) (*ChapterVideoResult, error) {
	ctx, finish := p.beginItem(ctx, "chapter_video", "chapter_"+req.ChapterID)
	res, err := p.generateChapterVideo(ctx, req)
	output := ""
	if res != nil {
		output = res.Path
	}
	finish(output, err)
	return res, err
}

func (p *Processor) generateChapterVideo(ctx context.Context, req ChapterVideoRequest) (*ChapterVideoResult, error) {
	if !fileExists(req.Image) {
		return nil, fmt.Errorf("章节 %s: %w: %q", req.ChapterID, ErrMissingAsset, req.Image)
	}
	if err := checkAudioAsset(req.Audio); err != nil {
		return nil, fmt.Errorf("章节 %s: %w", req.ChapterID, err)
	}
	tr := p.tracker("chapter_"+req.ChapterID, "chapter_video")
	tr.Start("开始生成章节视频")

	ws, err := p.workspaces.Create("chapter_video_" + req.ChapterID)
	if err != nil {
		tr.Fail(err.Error())
		return nil, err
	}
	defer ws.Cleanup()

	var clip compose.Clip
	err = p.step(ctx, "image_clip", func() (string, error) {
		var err error
		clip, err = p.media.ImageWithAudio(ctx, req.Image, req.Audio, 0, p.cfg.Video.ChunkZoom, ws.Clip("chapter.mp4"))
		return fmt.Sprintf("%.3fs", clip.Duration), err
	})
	if err != nil {
		tr.Fail(err.Error())
		return nil, fmt.Errorf("章节 %s: %w", req.ChapterID, err)
	}
	tr.Step(80, "章节片段生成完成")

	mix := p.mixer.AddBackground(ctx, clip.Path, p.backgroundMusic(req.Background), true, ws.Clip("chapter_bg.mp4"))
	duration := clip.Duration
	if mix.Mixed && mix.Duration > 0 {
		duration = mix.Duration
	}

	output := req.Output
	if output == "" {
		output = p.outputPath("chapters", "chapter_"+req.ChapterID+".mp4")
	}
	if err := workspace.Publish(mix.Path, output); err != nil {
		tr.Fail(err.Error())
		return nil, fmt.Errorf("章节 %s: %w: %v", req.ChapterID, ErrNoArtifact, err)
	}
	tr.Done("章节视频生成完成")
	return &ChapterVideoResult{ChapterID: req.ChapterID, Path: output, Duration: duration, Mixed: mix.Mixed, MixError: mix.Error}, nil
}

// BatchChapterVideos 批量生成章节视频
func (p *Processor) BatchChapterVideos(ctx context.Context, jobID string, reqs []ChapterVideoRequest) BatchResult {
	jobs := make([]Job, len(reqs))
	for i, req := range reqs {
		jobs[i] = Job{ID: req.ChapterID, Run: func(ctx context.Context) (ItemResult, error) {
			res, err := p.generateChapterVideo(ctx, req)
			if err != nil {
				return ItemResult{}, err
			}
			return ItemResult{Output: res.Path, Duration: res.Duration, Result: res}, nil
		}}
	}
	return p.RunBatch(ctx, "chapter_video", jobID, jobs)
}

func (p *Processor) speechRequest(text string, index int, voice Voice) provider.SpeechRequest {
	req := provider.SpeechRequest{
		Text:             text,
		Index:            index,
		VoiceGender:      voice.Gender,
		VoiceName:        voice.Name,
		StyleInstruction: voice.StyleInstruction,
	}
	if req.VoiceGender == "" {
		req.VoiceGender = p.cfg.Speech.VoiceGender
	}
	if req.VoiceName == "" {
		req.VoiceName = p.cfg.Speech.VoiceName
	}
	if req.StyleInstruction == "" {
		req.StyleInstruction = p.cfg.Speech.StyleInstruction
	}
	return req
}

// musicBeds 请求中的值优先，"-" 表示关闭；片尾可沿用片头音乐
func (p *Processor) musicBeds(intro, outro string) (string, string) {
	useIntro := outro != "-" && p.cfg.Music.OutroUseIntro
	intro = pick(intro, p.cfg.Music.IntroPath)
	outro = pick(outro, p.cfg.Music.OutroPath)
	if outro == "" && useIntro {
		outro = intro
	}
	return intro, outro
}

func (p *Processor) backgroundMusic(override string) string {
	return pick(override, p.cfg.Music.BackgroundPath)
}

func pick(override, fallback string) string {
	switch override {
	case "-":
		return ""
	case "":
		return fallback
	default:
		return override
	}
}

func (p *Processor) outputPath(kind, name string) string {
	return filepath.Join(p.cfg.Workflow.OutputRoot, kind, name)
}

// checkAudioAsset 音频必须存在，且不能是之前拼接失败留下的占位文件
func checkAudioAsset(path string) error {
	if !fileExists(path) {
		return fmt.Errorf("%w: %q", ErrMissingAsset, path)
	}
	if timeline.IsPlaceholder(path) {
		return fmt.Errorf("%w: %q 是拼接失败的占位文件", ErrMissingAsset, path)
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
